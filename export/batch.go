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
	"sync"
	"sync/atomic"
	"time"

	"pipelinekit/metrics"
)

// OverflowPolicy governs what Batcher does when its backing buffer is
// full and another sample arrives before a flush has drained it.
type OverflowPolicy int

const (
	// Block waits (holding the caller) until the flush completes.
	Block OverflowPolicy = iota
	// DropOldestSample discards the buffer's oldest entry to make room.
	DropOldestSample
	// DropNewestSample discards the incoming entry.
	DropNewestSample
)

// BatchConfig configures a Batcher.
type BatchConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	Overflow      OverflowPolicy
}

// Batcher buffers samples up to MaxBatchSize or FlushInterval, then
// calls the wrapped Exporter's ExportBatch. Export may be called from
// multiple goroutines; the buffer itself is guarded by mu. Shutdown is
// idempotent.
type Batcher struct {
	next Exporter
	cfg  BatchConfig

	mu     sync.Mutex
	buf    []metrics.Sample
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once

	active   atomic.Bool
	sent     atomic.Int64
	errCount atomic.Int64
	lastErr  atomic.Value // holds errBox
}

// errBox gives atomic.Value a single concrete type to store, since the
// underlying errors returned by sendBatch can vary in concrete type.
type errBox struct{ err error }

// NewBatcher wraps next in a Batcher. A background goroutine flushes
// on FlushInterval; Shutdown stops it and performs a final flush.
func NewBatcher(next Exporter, cfg BatchConfig) *Batcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	b := &Batcher{
		next:   next,
		cfg:    cfg,
		buf:    make([]metrics.Sample, 0, cfg.MaxBatchSize),
		stopCh: make(chan struct{}),
	}
	b.active.Store(true)
	if cfg.FlushInterval > 0 {
		b.ticker = time.NewTicker(cfg.FlushInterval)
		go b.flushLoop()
	}
	return b
}

func (b *Batcher) flushLoop() {
	for {
		select {
		case <-b.ticker.C:
			_ = b.Flush(context.Background())
		case <-b.stopCh:
			return
		}
	}
}

// Export appends sample to the buffer, flushing synchronously if the
// buffer is now at MaxBatchSize.
func (b *Batcher) Export(ctx context.Context, sample metrics.Sample) error {
	if !b.active.Load() {
		return ErrExporterClosed
	}
	b.mu.Lock()
	if len(b.buf) >= b.cfg.MaxBatchSize {
		switch b.cfg.Overflow {
		case DropOldestSample:
			b.buf = append(b.buf[1:], sample)
			b.mu.Unlock()
			return nil
		case DropNewestSample:
			b.mu.Unlock()
			return nil
		default: // Block: flush now, then append
			toFlush := b.buf
			b.buf = make([]metrics.Sample, 0, b.cfg.MaxBatchSize)
			b.mu.Unlock()
			if err := b.sendBatch(ctx, toFlush); err != nil {
				return err
			}
			b.mu.Lock()
		}
	}
	b.buf = append(b.buf, sample)
	shouldFlush := len(b.buf) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush(ctx)
	}
	return nil
}

// ExportBatch appends every sample, flushing whenever MaxBatchSize is
// reached along the way.
func (b *Batcher) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	for _, s := range samples {
		if err := b.Export(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ExportAggregated passes straight through: aggregated values are
// already the output of a flush and are not re-batched.
func (b *Batcher) ExportAggregated(ctx context.Context, aggregated []Aggregated) error {
	return b.next.ExportAggregated(ctx, aggregated)
}

// Flush drains the buffer into the wrapped exporter's ExportBatch.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	toFlush := b.buf
	b.buf = make([]metrics.Sample, 0, b.cfg.MaxBatchSize)
	b.mu.Unlock()
	if err := b.sendBatch(ctx, toFlush); err != nil {
		return err
	}
	return b.next.Flush(ctx)
}

func (b *Batcher) sendBatch(ctx context.Context, batch []metrics.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	err := b.next.ExportBatch(ctx, batch)
	if err != nil {
		b.errCount.Add(1)
		b.lastErr.Store(errBox{err})
		return err
	}
	b.sent.Add(int64(len(batch)))
	return nil
}

// Shutdown performs a best-effort final flush, stops the flush
// goroutine, and delegates to the wrapped exporter. Idempotent.
func (b *Batcher) Shutdown(ctx context.Context) error {
	var err error
	b.once.Do(func() {
		b.active.Store(false)
		if b.ticker != nil {
			b.ticker.Stop()
		}
		close(b.stopCh)
		_ = b.Flush(ctx)
		err = b.next.Shutdown(ctx)
	})
	return err
}

// Status reports this wrapper's own counters, not the wrapped
// exporter's.
func (b *Batcher) Status() Status {
	var lastErr error
	if v := b.lastErr.Load(); v != nil {
		lastErr = v.(errBox).err
	}
	return Status{
		Active:     b.active.Load(),
		LastError:  lastErr,
		SentCount:  b.sent.Load(),
		ErrorCount: b.errCount.Load(),
	}
}
