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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinekit/metrics"
)

func TestDjb2_IsDeterministicAcrossCalls(t *testing.T) {
	assert.Equal(t, djb2("requests.count"), djb2("requests.count"))
}

func TestSampled_RateOneAlwaysAdmits(t *testing.T) {
	assert.True(t, sampled("anything", 1))
}

func TestSampled_RateZeroNeverAdmits(t *testing.T) {
	assert.False(t, sampled("anything", 0))
}

func TestSampled_IsDeterministicForAGivenNameAndRate(t *testing.T) {
	first := sampled("requests.count", 0.5)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, sampled("requests.count", 0.5))
	}
}

func TestIsCritical_MatchesSubstringFromDefaultPatterns(t *testing.T) {
	assert.True(t, isCritical("db.connection.timeout", DefaultCriticalPatterns))
	assert.False(t, isCritical("requests.count", DefaultCriticalPatterns))
}

func TestSampler_CriticalPatternAlwaysBypassesSampling(t *testing.T) {
	next := &recordingExporter{}
	s := NewSampler(next, SamplingConfig{Rate: 0}) // rate 0 would normally admit nothing

	require.NoError(t, s.Export(context.Background(), metrics.Sample{Name: "service.fatal.count", Value: 1}))
	assert.Len(t, next.exported, 1, "a critical-pattern name must bypass the rate regardless of its value")
}

func TestSampler_ZeroRateDropsNonCriticalSamples(t *testing.T) {
	next := &recordingExporter{}
	s := NewSampler(next, SamplingConfig{Rate: 0})

	require.NoError(t, s.Export(context.Background(), metrics.Sample{Name: "requests.count", Value: 1}))
	assert.Empty(t, next.exported)
}

func TestSampler_FullRateAdmitsEverythingUnscaled(t *testing.T) {
	next := &recordingExporter{}
	s := NewSampler(next, SamplingConfig{Rate: 1})

	require.NoError(t, s.Export(context.Background(), metrics.Sample{Name: "requests.count", Kind: metrics.KindCounter, Value: 7}))
	require.Len(t, next.exported, 1)
	assert.Equal(t, float64(7), next.exported[0].Value)
}

func TestSampler_CounterValuesAreScaledByInverseRateWhenAdmitted(t *testing.T) {
	next := &recordingExporter{}
	name := "requests.count"

	// Derive a rate just above this name's deterministic frac so sampled()
	// admits it, without depending on djb2's hash landing under a fixed rate.
	const two64 = 1 << 63 * 2.0
	frac := float64(djb2(name)) / two64
	rate := frac + 0.01
	if rate > 1 {
		rate = 1
	}

	s := NewSampler(next, SamplingConfig{Rate: rate})
	require.NoError(t, s.Export(context.Background(), metrics.Sample{Name: name, Kind: metrics.KindCounter, Value: 2}))

	require.Len(t, next.exported, 1)
	assert.InDelta(t, 2/rate, next.exported[0].Value, 1e-9)
}

func TestSampler_CriticalBypassDoesNotApplyRateScaling(t *testing.T) {
	next := &recordingExporter{}
	s := NewSampler(next, SamplingConfig{Rate: 0.25})

	require.NoError(t, s.Export(context.Background(), metrics.Sample{
		Name: "service.error.count", Kind: metrics.KindCounter, Value: 2,
	}))
	require.Len(t, next.exported, 1)
	assert.Equal(t, float64(2), next.exported[0].Value, "critical bypass must not apply the rate-scaling adjustment")
}

func TestSampler_ExportBatchFiltersDroppedSamples(t *testing.T) {
	next := &recordingExporter{}
	s := NewSampler(next, SamplingConfig{Rate: 0})

	err := s.ExportBatch(context.Background(), []metrics.Sample{
		{Name: "requests.count", Value: 1},
		{Name: "another.fatal.count", Value: 2},
	})
	require.NoError(t, err)
	require.Len(t, next.exported, 1)
	assert.Equal(t, "another.fatal.count", next.exported[0].Name)
}

func TestSampler_ExportAggregatedPassesThroughUnfiltered(t *testing.T) {
	next := &recordingExporter{}
	s := NewSampler(next, SamplingConfig{Rate: 0})

	err := s.ExportAggregated(context.Background(), []Aggregated{{Name: "requests.count"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, next.calls.Load())
}
