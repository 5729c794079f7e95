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

// Package pool provides a generic object pool with statistics and a
// back-pressure-aware shrinker. Config's HighWaterMark and LowWaterMark
// are stored, but no Pool operation reads them. Pool operations never
// fail; the only panic is New's, on a nil Config.Factory.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory constructs a new instance of T on demand.
type Factory[T any] func() T

// Reset, if configured, is called on a pooled instance when Acquire takes
// it off the available stack, before handing it out.
type Reset[T any] func(T)

// Stats is a point-in-time snapshot of a Pool's bookkeeping counters.
type Stats struct {
	TotalAllocated     int64
	CurrentlyAvailable int64
	CurrentlyInUse     int64
	TotalBorrows       int64
	TotalReturns       int64
	Hits               int64
	HitRate            float64
	PeakUsage          int64
	MaxSize            int64
}

// Pool is a thread-safe, generic object pool. Zero value is not usable;
// construct with New.
type Pool[T any] struct {
	mu        sync.Mutex
	available []T
	factory   Factory[T]
	reset     Reset[T]

	maxSize        int
	highWaterMark  int
	lowWaterMark   int
	trackStats     bool

	allocated  int64
	inUse      int64
	borrows    int64
	returns    int64
	hits       int64
	peakUsage  int64

	handleMu    sync.Mutex
	outstanding map[string]time.Time // handle id -> AcquirePooled time
	scanStop    chan struct{}
}

// Config configures a Pool at construction.
type Config[T any] struct {
	Factory Factory[T]
	Reset   Reset[T]

	MaxSize       int
	HighWaterMark int
	LowWaterMark  int
	PreAllocate   int
	TrackStats    bool
}

// New constructs a Pool. Panics if Factory is nil (a construction-time
// programmer error, not a runtime failure mode).
func New[T any](cfg Config[T]) *Pool[T] {
	if cfg.Factory == nil {
		panic("pool: Config.Factory must not be nil")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1 << 20 // effectively unbounded
	}
	p := &Pool[T]{
		factory:       cfg.Factory,
		reset:         cfg.Reset,
		maxSize:       cfg.MaxSize,
		highWaterMark: cfg.HighWaterMark,
		lowWaterMark:  cfg.LowWaterMark,
		trackStats:    cfg.TrackStats,
	}
	if cfg.PreAllocate > 0 {
		p.warmUpLocked(cfg.PreAllocate)
	}
	return p
}

// Acquire pops an available instance (resetting it if a Reset func is
// configured) or calls the factory. Always succeeds.
func (p *Pool[T]) Acquire() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked()
}

func (p *Pool[T]) acquireLocked() T {
	p.borrows++
	var v T
	if n := len(p.available); n > 0 {
		v = p.available[n-1]
		p.available = p.available[:n-1]
		p.hits++
		if p.reset != nil {
			p.reset(v)
		}
	} else {
		v = p.factory()
		p.allocated++
	}
	p.inUse++
	if p.inUse > p.peakUsage {
		p.peakUsage = p.inUse
	}
	return v
}

// Release returns v to the pool. If the available stack is already at
// maxSize, v is dropped (not retained, not reset, left for GC).
func (p *Pool[T]) Release(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(v)
}

func (p *Pool[T]) releaseLocked(v T) {
	if p.inUse > 0 {
		p.inUse--
	}
	p.returns++
	if len(p.available) < p.maxSize {
		p.available = append(p.available, v)
	}
	// else: dropped. in_use + available <= max_size holds either way.
}

// WithBorrowed runs body with a freshly acquired instance and guarantees
// release on every exit path, including a panic inside body. A standalone
// function (not a method) because Go methods cannot introduce a new type
// parameter (R) beyond the receiver's.
func WithBorrowed[T any, R any](ctx context.Context, p *Pool[T], body func(context.Context, T) (R, error)) (R, error) {
	v := p.Acquire()
	defer p.Release(v)
	return body(ctx, v)
}

// Handle is an RAII wrapper returned by AcquirePooled: calling Close
// returns the wrapped value to the pool. Close is idempotent. Go has no
// destructors, so Close is the idiomatic explicit-release path; a handle
// never Closed is the nearest equivalent to a leaked resource, and is
// what the pool's leak scanner (see StartLeakScanner) watches for.
type Handle[T any] struct {
	mu       sync.Mutex
	pool     *Pool[T]
	value    T
	id       string
	released bool
}

// Value returns the wrapped instance.
func (h *Handle[T]) Value() T { return h.value }

// ID returns the handle's unique identifier, stable for its lifetime.
func (h *Handle[T]) ID() string { return h.id }

// Close releases the handle's instance back to the pool. Safe to call
// more than once; only the first call has an effect.
func (h *Handle[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.pool.forgetHandle(h.id)
	h.pool.Release(h.value)
}

// AcquirePooled returns a Handle wrapping a freshly borrowed instance,
// registered under a fresh uuid so a background leak scan can report it
// if it outlives a caller-chosen age without being Closed.
func (p *Pool[T]) AcquirePooled() *Handle[T] {
	h := &Handle[T]{pool: p, value: p.Acquire(), id: uuid.NewString()}
	p.handleMu.Lock()
	if p.outstanding == nil {
		p.outstanding = make(map[string]time.Time)
	}
	p.outstanding[h.id] = time.Now()
	p.handleMu.Unlock()
	return h
}

func (p *Pool[T]) forgetHandle(id string) {
	p.handleMu.Lock()
	delete(p.outstanding, id)
	p.handleMu.Unlock()
}

// LeakCandidates returns the ids of outstanding handles acquired more
// than threshold ago and not yet Closed.
func (p *Pool[T]) LeakCandidates(threshold time.Duration) []string {
	now := time.Now()
	p.handleMu.Lock()
	defer p.handleMu.Unlock()
	var ids []string
	for id, acquiredAt := range p.outstanding {
		if now.Sub(acquiredAt) >= threshold {
			ids = append(ids, id)
		}
	}
	return ids
}

// StartLeakScanner runs a background loop (grounded on the safety
// monitor's watchdog/leak-scanner idiom) that every interval prints a
// line for each handle outstanding past threshold. The returned func
// stops the loop; calling it more than once is safe.
func (p *Pool[T]) StartLeakScanner(interval, threshold time.Duration) (stop func()) {
	p.handleMu.Lock()
	if p.scanStop != nil {
		close(p.scanStop)
	}
	stopCh := make(chan struct{})
	p.scanStop = stopCh
	p.handleMu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				for _, id := range p.LeakCandidates(threshold) {
					fmt.Printf("pool: handle outstanding past threshold id=%s threshold=%s\n", id, threshold)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
	}
}

// WarmUp pre-allocates count instances into the available stack via the
// factory, up to maxSize.
func (p *Pool[T]) WarmUp(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warmUpLocked(count)
}

func (p *Pool[T]) warmUpLocked(count int) {
	for i := 0; i < count && len(p.available) < p.maxSize; i++ {
		p.available = append(p.available, p.factory())
		p.allocated++
	}
}

// Clear drops all available instances (not those currently in use).
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = p.available[:0]
}

// Shrink trims the available stack down to at most `to` entries.
func (p *Pool[T]) Shrink(to int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if to < 0 {
		to = 0
	}
	if len(p.available) > to {
		p.available = p.available[:to]
	}
}

// Statistics returns a point-in-time snapshot of the pool's counters.
func (p *Pool[T]) Statistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hitRate float64
	if p.borrows > 0 {
		hitRate = float64(p.hits) / float64(p.borrows)
	}
	return Stats{
		TotalAllocated:     p.allocated,
		CurrentlyAvailable: int64(len(p.available)),
		CurrentlyInUse:     p.inUse,
		TotalBorrows:       p.borrows,
		TotalReturns:       p.returns,
		Hits:               p.hits,
		HitRate:            hitRate,
		PeakUsage:          p.peakUsage,
		MaxSize:            int64(p.maxSize),
	}
}

// MaxSize returns the pool's configured maximum available-stack size.
func (p *Pool[T]) MaxSize() int { return p.maxSize }
