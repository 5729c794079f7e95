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

package metrics

import "time"

// Window wraps an inner accumulator (or accumulators) with a rotation
// policy. Unlike Accumulator, Snapshot/Rotate take the current wall-clock
// time explicitly since sliding windows need it to decide which buckets
// are stale.
type Window interface {
	Record(value float64, at time.Time)
	Snapshot(now time.Time) Snapshot
	Rotate(now time.Time)
}

// AccumulatorFactory builds a fresh, zeroed Accumulator of the desired
// shape (Counter/BasicStats/Histogram). Sliding windows call this once
// per bucket; Fixed windows call it once.
type AccumulatorFactory func() Accumulator

// ---- Fixed window ----

// FixedWindow records into a single accumulator; Rotate discards the
// accumulated state (the caller is expected to have read a Snapshot
// first if it wants the pre-rotation values).
type FixedWindow struct {
	factory AccumulatorFactory
	inner   Accumulator
}

func NewFixedWindow(factory AccumulatorFactory) *FixedWindow {
	return &FixedWindow{factory: factory, inner: factory()}
}

func (w *FixedWindow) Record(value float64, at time.Time) { w.inner.Record(value, at) }

func (w *FixedWindow) Snapshot(time.Time) Snapshot { return w.inner.Snapshot() }

func (w *FixedWindow) Rotate(time.Time) { w.inner.Reset() }

// ---- Sliding window ----

// SlidingWindow keeps a ring of bucketCount accumulators rotated by wall
// clock. The bucket for timestamp t is floor((t mod duration) /
// (duration/bucketCount)); a bucket whose last-write epoch differs from
// t's epoch is reset before the new sample is recorded into it, so stale
// data never survives into a new cycle through that slot. Snapshot merges
// every bucket's current snapshot via the accumulator's own Merge rule.
type SlidingWindow struct {
	duration    time.Duration
	bucketWidth time.Duration
	buckets     []Accumulator
	epochs      []int64
	factory     AccumulatorFactory
}

func NewSlidingWindow(duration time.Duration, bucketCount int, factory AccumulatorFactory) *SlidingWindow {
	if bucketCount < 1 {
		bucketCount = 1
	}
	buckets := make([]Accumulator, bucketCount)
	for i := range buckets {
		buckets[i] = factory()
	}
	return &SlidingWindow{
		duration:    duration,
		bucketWidth: duration / time.Duration(bucketCount),
		buckets:     buckets,
		epochs:      make([]int64, bucketCount),
		factory:     factory,
	}
}

func (w *SlidingWindow) slot(at time.Time) (idx int, epoch int64) {
	durNs := w.duration.Nanoseconds()
	if durNs <= 0 {
		return 0, 0
	}
	tNs := at.UnixNano()
	epoch = tNs / durNs
	offset := tNs % durNs
	if offset < 0 {
		offset += durNs
		epoch--
	}
	bw := w.bucketWidth.Nanoseconds()
	if bw <= 0 {
		bw = 1
	}
	idx = int(offset / bw)
	if idx >= len(w.buckets) {
		idx = len(w.buckets) - 1
	}
	return idx, epoch
}

func (w *SlidingWindow) Record(value float64, at time.Time) {
	idx, epoch := w.slot(at)
	if w.epochs[idx] != epoch {
		w.buckets[idx].Reset()
		w.epochs[idx] = epoch
	}
	w.buckets[idx].Record(value, at)
}

// Snapshot merges all buckets whose epoch is either the current epoch or
// the immediately preceding one (so a bucket written just before a slot
// boundary is still visible for one more read), discarding buckets older
// than that as stale. Buckets that were never written merge as no-ops
// (their accumulator's zero Snapshot has Count==0).
func (w *SlidingWindow) Snapshot(now time.Time) Snapshot {
	_, curEpoch := w.slot(now)
	var merged Snapshot
	first := true
	for i, acc := range w.buckets {
		if curEpoch-w.epochs[i] > 1 {
			continue // stale by more than one full cycle; excluded
		}
		s := acc.Snapshot()
		if first {
			merged = s
			first = false
			continue
		}
		merged = acc.Merge(merged)
	}
	return merged
}

// Rotate resets any bucket whose epoch has fallen more than one cycle
// behind now, freeing stale state proactively instead of lazily on next
// write.
func (w *SlidingWindow) Rotate(now time.Time) {
	_, curEpoch := w.slot(now)
	for i := range w.buckets {
		if curEpoch-w.epochs[i] > 1 {
			w.buckets[i].Reset()
		}
	}
}

// ---- ExponentialDecay window ----

// DecayWindow forwards directly to an ExpDecayAcc. Rotate is a no-op: the
// decay accumulator never resets on large gaps by design (spec.md §4.2).
type DecayWindow struct {
	acc *ExpDecayAcc
}

func NewDecayWindow(halfLife, warmupPeriod time.Duration, minWeight float64) *DecayWindow {
	return &DecayWindow{acc: NewExpDecayAcc(halfLife, warmupPeriod, minWeight)}
}

func (w *DecayWindow) Record(value float64, at time.Time) { w.acc.Record(value, at) }

func (w *DecayWindow) Snapshot(time.Time) Snapshot { return w.acc.Snapshot() }

func (w *DecayWindow) Rotate(time.Time) {}

// ToTarget exposes the decay accumulator's target conversion (spec.md
// §4.2's "Decay→Target conversion") for exporters that need to render a
// decay window as a Counter/BasicStats/Histogram-shaped snapshot.
func (w *DecayWindow) ToTarget(kind SnapshotKind) Snapshot { return w.acc.ToTarget(kind) }

// ---- Spec / factory ----

// WindowKind enumerates the three window strategies recognized by
// configuration (spec.md §6's "Aggregation window" enum).
type WindowKind int

const (
	WindowFixed WindowKind = iota
	WindowSliding
	WindowExponentialDecay
)

// WindowSpec is the configuration-facing description of a window, matching
// the exported enum shape documented in spec.md §6.
type WindowSpec struct {
	Kind WindowKind

	// Fixed, Sliding
	Duration time.Duration
	// Sliding only
	Buckets int

	// ExponentialDecay only
	HalfLife     time.Duration
	WarmupPeriod time.Duration
	MinWeight    float64
}

// NewWindow builds the concrete Window described by spec, using factory to
// construct inner accumulators for Fixed/Sliding. factory is ignored for
// ExponentialDecay windows, which always use ExpDecayAcc.
func NewWindow(spec WindowSpec, factory AccumulatorFactory) Window {
	switch spec.Kind {
	case WindowSliding:
		return NewSlidingWindow(spec.Duration, spec.Buckets, factory)
	case WindowExponentialDecay:
		return NewDecayWindow(spec.HalfLife, spec.WarmupPeriod, spec.MinWeight)
	default:
		return NewFixedWindow(factory)
	}
}
