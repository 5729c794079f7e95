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

// Package statsdexp implements a StatsD/DogStatsD UDP exporter backend:
// line-protocol encoding, name sanitization, and rendezvous-sharded
// transport across N non-blocking UDP sockets.
package statsdexp

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	rendezvous "github.com/dgryski/go-rendezvous"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

// DefaultMaxPacketSize is the conservative UDP payload size that keeps a
// single datagram under most network paths' MTU.
const DefaultMaxPacketSize = 1432

var sanitizeReplacer = strings.NewReplacer(":", "_", "|", "_", "@", "_", "#", "_", " ", "_")

func sanitizeName(name string) string {
	return sanitizeReplacer.Replace(name)
}

func statsdType(kind metrics.Kind) string {
	switch kind {
	case metrics.KindCounter:
		return "c"
	case metrics.KindGauge:
		return "g"
	case metrics.KindTimer:
		return "ms"
	case metrics.KindHistogram:
		return "h"
	default:
		return "g"
	}
}

// Transport abstracts the wire send so tests can substitute a recording
// fake; DefaultTransport is non-blocking UDP with lazy connect.
type Transport interface {
	Send(ctx context.Context, shardKey string, payload []byte) error
	Close() error
}

// ErrorHandler is invoked with any send failure. The default logs nothing
// and swallows the error, matching StatsD's fire-and-forget contract;
// callers that want visibility should supply their own.
type ErrorHandler func(err error)

// Format selects the line-protocol dialect: vanilla StatsD has no tag
// suffix at all, while DogStatsD appends "|#k:v,k:v" after the sample
// rate.
type Format int

const (
	// DogStatsD is the default: tags are rendered as a "|#..." suffix.
	DogStatsD Format = iota
	// Vanilla emits untagged classic StatsD lines; tags are dropped.
	Vanilla
)

// Config configures a StatsD exporter.
type Config struct {
	Prefix        string
	GlobalTags    map[string]string
	MaxPacketSize int
	Format        Format
	OnError       ErrorHandler
	Transport     Transport // nil uses DefaultTransport with Addrs
	Addrs         []string  // used only when Transport is nil; one UDP socket per addr, rendezvous-sharded
}

// Exporter is a StatsD/DogStatsD line-protocol backend. One line is built
// per sample, lines are packed up to MaxPacketSize per shard, and each
// shard's packed payload is sent through Transport.
type Exporter struct {
	cfg       Config
	transport Transport
	hrw       *rendezvous.Rendezvous
	nodes     []string

	active     atomic.Bool
	sent       atomic.Int64
	errCount   atomic.Int64
	lastErrMu  sync.Mutex
	lastErr    error
}

// djb2 matches the deterministic hash used by the exporter core's sampler
// and aggregator so that a given metric name always lands on the same
// shard across process restarts.
func djb2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) + uint64(s[i])
	}
	return h
}

// New builds a StatsD exporter. If cfg.Transport is nil, a DefaultTransport
// is constructed from cfg.Addrs (one non-blocking UDP socket per address).
func New(cfg Config) (*Exporter, error) {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	transport := cfg.Transport
	if transport == nil {
		t, err := NewDefaultTransport(cfg.Addrs)
		if err != nil {
			return nil, err
		}
		transport = t
	}
	nodes := make([]string, 0, len(cfg.Addrs))
	for i := range cfg.Addrs {
		nodes = append(nodes, strconv.Itoa(i))
	}
	if len(nodes) == 0 {
		nodes = []string{"0"}
	}
	e := &Exporter{cfg: cfg, transport: transport, nodes: nodes, hrw: rendezvous.New(nodes, djb2)}
	e.active.Store(true)
	return e, nil
}

func (e *Exporter) shardFor(name string) string {
	return e.hrw.Lookup(name)
}

// line renders one StatsD line for sample, merging global and per-sample
// tags (per-sample wins on key collision) and sorting tag keys so the
// wire form is deterministic.
func (e *Exporter) line(sample metrics.Sample, rate float64) string {
	name := sanitizeName(sample.Name)
	if e.cfg.Prefix != "" {
		name = sanitizeName(e.cfg.Prefix) + "." + name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(sample.Value, 'g', -1, 64))
	b.WriteByte('|')
	b.WriteString(statsdType(sample.Kind))
	if rate > 0 && rate < 1 {
		b.WriteString("|@")
		b.WriteString(strconv.FormatFloat(rate, 'g', -1, 64))
	}
	tags := mergedTags(e.cfg.GlobalTags, sample.Tags)
	if e.cfg.Format != Vanilla && len(tags) > 0 {
		b.WriteString("|#")
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(sanitizeName(k))
			b.WriteByte(':')
			b.WriteString(sanitizeName(tags[k]))
		}
	}
	return b.String()
}

func mergedTags(global, local map[string]string) map[string]string {
	if len(global) == 0 {
		return local
	}
	out := make(map[string]string, len(global)+len(local))
	for k, v := range global {
		out[k] = v
	}
	for k, v := range local {
		out[k] = v
	}
	return out
}

// packLines joins lines with '\n' up to MaxPacketSize per packet, grouped
// by shard key so each packet goes to exactly one transport destination.
func (e *Exporter) packLines(byShard map[string][]string) map[string][][]byte {
	out := make(map[string][][]byte, len(byShard))
	for shard, lines := range byShard {
		var packets [][]byte
		var cur strings.Builder
		for _, line := range lines {
			if cur.Len() > 0 && cur.Len()+1+len(line) > e.cfg.MaxPacketSize {
				packets = append(packets, []byte(cur.String()))
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(line)
		}
		if cur.Len() > 0 {
			packets = append(packets, []byte(cur.String()))
		}
		out[shard] = packets
	}
	return out
}

func (e *Exporter) sendBatch(ctx context.Context, samples []metrics.Sample, rate float64) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	byShard := make(map[string][]string)
	for _, s := range samples {
		shard := e.shardFor(s.Name)
		byShard[shard] = append(byShard[shard], e.line(s, rate))
	}
	packets := e.packLines(byShard)
	var firstErr error
	for shard, pkts := range packets {
		for _, p := range pkts {
			if err := e.transport.Send(ctx, shard, p); err != nil {
				e.errCount.Add(1)
				e.lastErrMu.Lock()
				e.lastErr = err
				e.lastErrMu.Unlock()
				e.cfg.OnError(err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			e.sent.Add(1)
		}
	}
	return firstErr
}

func (e *Exporter) Export(ctx context.Context, sample metrics.Sample) error {
	return e.sendBatch(ctx, []metrics.Sample{sample}, 0)
}

func (e *Exporter) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	return e.sendBatch(ctx, samples, 0)
}

// ExportAggregated flattens each Aggregated's snapshot into a single
// sample per key: StatsD has no native aggregated-window representation,
// so basic-stats and decay snapshots are emitted as a gauge of the mean and
// every other kind as a counter of the sum.
func (e *Exporter) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	samples := make([]metrics.Sample, 0, len(aggregated))
	for _, a := range aggregated {
		value := a.Snapshot.Sum
		kind := metrics.KindCounter
		if a.Snapshot.Kind == metrics.SnapshotBasicStats || a.Snapshot.Kind == metrics.SnapshotExponentialDecay {
			value = a.Snapshot.Mean
			kind = metrics.KindGauge
		}
		samples = append(samples, metrics.Sample{Name: a.Name, Kind: kind, Value: value, Tags: a.Tags})
	}
	return e.sendBatch(ctx, samples, 0)
}

func (e *Exporter) Flush(ctx context.Context) error { return nil }

func (e *Exporter) Shutdown(ctx context.Context) error {
	e.active.Store(false)
	return e.transport.Close()
}

func (e *Exporter) Status() export.Status {
	e.lastErrMu.Lock()
	lastErr := e.lastErr
	e.lastErrMu.Unlock()
	return export.Status{
		Active:     e.active.Load(),
		LastError:  lastErr,
		SentCount:  e.sent.Load(),
		ErrorCount: e.errCount.Load(),
	}
}
