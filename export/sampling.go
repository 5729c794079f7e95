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
	"strings"

	"pipelinekit/metrics"
)

// DefaultCriticalPatterns bypass sampling regardless of rate: a metric
// name containing one of these substrings is always exported.
var DefaultCriticalPatterns = []string{"error", "timeout", "failure", "fatal", "panic"}

// djb2 is Bernstein's hash: deterministic across process restarts,
// which a random or seeded hash would not be.
func djb2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) + uint64(s[i]) // h*33 + c
	}
	return h
}

// sampled reports whether name passes a deterministic rate-r sample,
// per spec.md §4.6: hash(name)/2^64 < rate.
func sampled(name string, rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	const two64 = 1 << 63 * 2.0 // float64(2^64), computed without overflowing an untyped int constant
	frac := float64(djb2(name)) / two64
	return frac < rate
}

func isCritical(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// SamplingConfig configures a Sampler.
type SamplingConfig struct {
	Rate              float64 // 0 <= Rate <= 1; 0 passes only critical names
	CriticalPatterns  []string
}

// Sampler deterministically samples metric names by DJB2 hash, scaling
// counter values by 1/rate to stay unbiased, and always passing through
// names that match a critical pattern.
type Sampler struct {
	next Exporter
	cfg  SamplingConfig
}

// NewSampler wraps next in a Sampler. A zero CriticalPatterns uses
// DefaultCriticalPatterns.
func NewSampler(next Exporter, cfg SamplingConfig) *Sampler {
	if cfg.CriticalPatterns == nil {
		cfg.CriticalPatterns = DefaultCriticalPatterns
	}
	return &Sampler{next: next, cfg: cfg}
}

func (s *Sampler) admit(sample metrics.Sample) (metrics.Sample, bool) {
	if isCritical(sample.Name, s.cfg.CriticalPatterns) {
		return sample, true
	}
	if !sampled(sample.Name, s.cfg.Rate) {
		return sample, false
	}
	if sample.Kind == metrics.KindCounter && s.cfg.Rate > 0 {
		sample.Value /= s.cfg.Rate
	}
	return sample, true
}

func (s *Sampler) Export(ctx context.Context, sample metrics.Sample) error {
	if adjusted, ok := s.admit(sample); ok {
		return s.next.Export(ctx, adjusted)
	}
	return nil
}

func (s *Sampler) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	kept := make([]metrics.Sample, 0, len(samples))
	for _, sample := range samples {
		if adjusted, ok := s.admit(sample); ok {
			kept = append(kept, adjusted)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return s.next.ExportBatch(ctx, kept)
}

// ExportAggregated passes through unsampled: aggregation already
// reduced cardinality, and re-sampling would distort decayed/windowed
// sums a second time.
func (s *Sampler) ExportAggregated(ctx context.Context, aggregated []Aggregated) error {
	return s.next.ExportAggregated(ctx, aggregated)
}

func (s *Sampler) Flush(ctx context.Context) error    { return s.next.Flush(ctx) }
func (s *Sampler) Shutdown(ctx context.Context) error { return s.next.Shutdown(ctx) }
func (s *Sampler) Status() Status                     { return s.next.Status() }
