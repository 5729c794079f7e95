// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package export

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	rendezvous "github.com/dgryski/go-rendezvous"

	"pipelinekit/metrics"
)

func tagKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "," + k + "=" + tags[k]
	}
	return key
}

// shard is one lock-guarded slice of the aggregation table, the same
// stripe-to-cut-contention idea the teacher applies to its own hot
// counters, generalized here from array-index striping to
// rendezvous-hash node selection.
type shard struct {
	mu      sync.Mutex
	entries map[string]*aggEntry
}

type aggEntry struct {
	name string
	tags map[string]string
	acc  metrics.Window
}

// AggregationConfig configures an Aggregator.
type AggregationConfig struct {
	MaxEntries int // 0 disables the bound
	ShardCount int // default 8

	// NewAccumulator builds the inner per-bucket accumulator shape
	// (Counter/BasicStats/Histogram). Used directly for Window.Kind ==
	// WindowFixed, and once per bucket for WindowSliding; ignored for
	// WindowExponentialDecay, which always uses metrics.ExpDecayAcc.
	NewAccumulator metrics.AccumulatorFactory

	// Window selects the aggregation window strategy (spec.md §6:
	// Fixed/Sliding/ExponentialDecay). Zero value is WindowFixed.
	Window metrics.WindowSpec
}

// Aggregator pre-aggregates samples sharing a (name, tag-set) key in a
// bounded hash table, sharded via rendezvous hashing to reduce lock
// contention, and emits one Aggregated per key on Flush.
type Aggregator struct {
	next   Exporter
	cfg    AggregationConfig
	shards []*shard
	nodes  []string
	hrw    *rendezvous.Rendezvous

	entryCount atomic.Int64 // total keys across all shards, kept in sync with each insert/Flush
	total      atomic.Int64
	overflow   atomic.Int64
}

// NewAggregator wraps next in an Aggregator.
func NewAggregator(next Exporter, cfg AggregationConfig) *Aggregator {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 8
	}
	if cfg.NewAccumulator == nil {
		cfg.NewAccumulator = func() metrics.Accumulator { return metrics.NewBasicStatsAcc() }
	}
	a := &Aggregator{next: next, cfg: cfg}
	a.shards = make([]*shard, cfg.ShardCount)
	a.nodes = make([]string, cfg.ShardCount)
	for i := range a.shards {
		a.shards[i] = &shard{entries: make(map[string]*aggEntry)}
		a.nodes[i] = strconv.Itoa(i)
	}
	a.hrw = rendezvous.New(a.nodes, djb2)
	return a
}

func (a *Aggregator) shardFor(key string) *shard {
	node := a.hrw.Lookup(key)
	idx, _ := strconv.Atoi(node)
	return a.shards[idx]
}

func (a *Aggregator) insert(sample metrics.Sample) error {
	key := tagKey(sample.Name, sample.Tags)
	s := a.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		if a.cfg.MaxEntries > 0 && int(a.entryCount.Load()) >= a.cfg.MaxEntries {
			s.mu.Unlock()
			if err := a.Flush(context.Background()); err != nil {
				return err
			}
			return a.insertRetry(sample, key)
		}
		e = &aggEntry{name: sample.Name, tags: sample.Tags, acc: metrics.NewWindow(a.cfg.Window, a.cfg.NewAccumulator)}
		s.entries[key] = e
		a.entryCount.Add(1)
	}
	e.acc.Record(sample.Value, sample.Timestamp)
	s.mu.Unlock()
	return nil
}

// insertRetry is the single retry after a forced flush, per spec.md
// §4.6: if the table is still full, the sample is dropped and a
// counter bumped.
func (a *Aggregator) insertRetry(sample metrics.Sample, key string) error {
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		if a.cfg.MaxEntries > 0 && int(a.entryCount.Load()) >= a.cfg.MaxEntries {
			a.overflow.Add(1)
			return nil
		}
		e = &aggEntry{name: sample.Name, tags: sample.Tags, acc: metrics.NewWindow(a.cfg.Window, a.cfg.NewAccumulator)}
		s.entries[key] = e
		a.entryCount.Add(1)
	}
	e.acc.Record(sample.Value, sample.Timestamp)
	return nil
}

func (a *Aggregator) Export(ctx context.Context, sample metrics.Sample) error {
	return a.insert(sample)
}

func (a *Aggregator) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	for _, sample := range samples {
		if err := a.insert(sample); err != nil {
			return err
		}
	}
	return nil
}

// ExportAggregated passes through: values are already aggregated.
func (a *Aggregator) ExportAggregated(ctx context.Context, aggregated []Aggregated) error {
	return a.next.ExportAggregated(ctx, aggregated)
}

// Flush drains every shard into one Aggregated slice and forwards it. Each
// entry's window is rotated before the table is cleared: a no-op for
// WindowFixed (the entry is discarded anyway) and for ExponentialDecay
// (DecayWindow.Rotate does nothing), but it lets a Sliding window evict its
// own stale buckets on the same cadence a caller snapshotting it directly
// would.
func (a *Aggregator) Flush(ctx context.Context) error {
	now := time.Now()
	var out []Aggregated
	for _, s := range a.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			out = append(out, Aggregated{Name: e.name, Tags: e.tags, Snapshot: e.acc.Snapshot(now)})
			e.acc.Rotate(now)
		}
		a.entryCount.Add(-int64(len(s.entries)))
		s.entries = make(map[string]*aggEntry)
		s.mu.Unlock()
	}
	if len(out) == 0 {
		return nil
	}
	a.total.Add(int64(len(out)))
	if err := a.next.ExportAggregated(ctx, out); err != nil {
		return fmt.Errorf("export: aggregator flush: %w", err)
	}
	return a.next.Flush(ctx)
}

func (a *Aggregator) Shutdown(ctx context.Context) error {
	if err := a.Flush(ctx); err != nil {
		return err
	}
	return a.next.Shutdown(ctx)
}

func (a *Aggregator) Status() Status {
	status := a.next.Status()
	status.SentCount += a.total.Load()
	status.ErrorCount += a.overflow.Load()
	return status
}
