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

package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func samplesAt(base time.Time, step time.Duration, maxSize int, inUse ...int) []UsageSample {
	out := make([]UsageSample, len(inUse))
	for i, u := range inUse {
		out[i] = UsageSample{
			At:      base.Add(time.Duration(i) * step),
			InUse:   u,
			MaxSize: maxSize,
		}
	}
	return out
}

func TestAnalyze_SteadyPattern(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Analyze(samplesAt(base, time.Second, 100, 50, 50, 50, 51, 50, 49, 50))
	require.Equal(t, PatternSteady, a.Pattern)
}

func TestAnalyze_GrowingPattern(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Analyze(samplesAt(base, time.Second, 100, 10, 15, 20, 60, 70, 80))
	require.Equal(t, PatternGrowing, a.Pattern)
}

func TestAnalyze_DecliningPattern(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Analyze(samplesAt(base, time.Second, 100, 80, 75, 70, 10, 15, 12))
	require.Equal(t, PatternDeclining, a.Pattern)
}

func TestAnalyze_BurstyPattern(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Analyze(samplesAt(base, time.Second, 100, 5, 95, 5, 90, 5, 95))
	require.Equal(t, PatternBursty, a.Pattern)
}

func TestIntelligentShrinker_NeverBelowRecentPeak(t *testing.T) {
	var s IntelligentShrinker
	stats := Stats{CurrentlyAvailable: 10, CurrentlyInUse: 0, MaxSize: 10}
	analysis := Analysis{
		AvgUtilization:     0.9,
		AllocationVelocity: 0,
		Pattern:            PatternDeclining,
		RecentPeakUsage:    8,
		WindowSeconds:      60,
		SampleCount:        10,
	}
	target := s.Target(stats, analysis, PressureCritical)
	require.GreaterOrEqual(t, target, 8)
}

func TestIntelligentShrinker_CriticalPressureShrinksMore(t *testing.T) {
	var s IntelligentShrinker
	stats := Stats{CurrentlyAvailable: 100, CurrentlyInUse: 0, MaxSize: 100}
	analysis := Analysis{
		AvgUtilization:     0.1,
		AllocationVelocity: 10,
		Pattern:            PatternSteady,
		RecentPeakUsage:    0,
		WindowSeconds:      600,
		SampleCount:        20,
	}
	normalTarget := s.Target(stats, analysis, PressureNormal)
	criticalTarget := s.Target(stats, analysis, PressureCritical)
	require.Less(t, criticalTarget, normalTarget)
}

func TestIntelligentShrinker_UsesConfiguredMaxSizeNotCurrentOccupancy(t *testing.T) {
	var s IntelligentShrinker
	analysis := Analysis{
		AvgUtilization:     0.1,
		AllocationVelocity: 100,
		Pattern:            PatternSteady,
		RecentPeakUsage:    0,
		WindowSeconds:      600,
		SampleCount:        20,
	}

	// A nearly-empty pool (few instances currently checked out) but a
	// large configured MaxSize must scale target off MaxSize, not off
	// CurrentlyAvailable+CurrentlyInUse (which would understate capacity
	// whenever the pool isn't momentarily full).
	starved := Stats{CurrentlyAvailable: 1, CurrentlyInUse: 1, MaxSize: 1000}
	full := Stats{CurrentlyAvailable: 1, CurrentlyInUse: 1, MaxSize: 2}

	starvedTarget := s.Target(starved, analysis, PressureNormal)
	fullTarget := s.Target(full, analysis, PressureNormal)
	require.Greater(t, starvedTarget, fullTarget)
}

func TestIntelligentShrinker_ShrinkPoolAppliesTarget(t *testing.T) {
	p := newPool(false)
	p.WarmUp(4)

	var s IntelligentShrinker
	analysis := Analysis{
		AvgUtilization:     1,
		AllocationVelocity: 0,
		Pattern:             PatternSteady,
		RecentPeakUsage:     0,
		WindowSeconds:       600,
		SampleCount:         20,
	}
	s.ShrinkPool(p, p.Statistics(), analysis, PressureCritical)
	require.LessOrEqual(t, p.Statistics().CurrentlyAvailable, int64(4))
	// Full utilization and no recent peak give a target of 0.
	require.Equal(t, int64(0), p.Statistics().CurrentlyAvailable)
}
