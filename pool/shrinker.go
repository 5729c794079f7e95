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

import "time"

// PressureLevel describes system memory pressure, governing how
// aggressively the shrinker reclaims idle pool capacity (spec.md §6).
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

// UsagePattern is the detected shape of a pool's recent utilization
// history (spec.md §4.3's pattern-detection rules).
type UsagePattern int

const (
	PatternUnknown UsagePattern = iota
	PatternSteady
	PatternBursty
	PatternGrowing
	PatternDeclining
)

// UsageSample is one point in a pool's utilization history, taken at
// regular intervals by whatever caller drives the shrinker loop.
type UsageSample struct {
	At          time.Time
	InUse       int
	Available   int
	MaxSize     int
}

func (s UsageSample) utilization() float64 {
	if s.MaxSize <= 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.MaxSize)
}

// Analysis summarizes a window of UsageSamples for the shrinker.
type Analysis struct {
	AvgUtilization     float64
	AllocationVelocity float64 // allocations per minute, approximated from sample deltas
	Pattern            UsagePattern
	RecentPeakUsage    int
	WindowSeconds      float64
	SampleCount        int
}

// Analyze computes an Analysis from an ordered (oldest-first) history of
// samples. Pattern detection follows spec.md §4.3: variance < 0.01 is
// steady, > 0.1 is bursty; otherwise compare second-half mean to
// first-half mean (×1.2 growing, ×0.8 declining, else unknown).
func Analyze(samples []UsageSample) Analysis {
	n := len(samples)
	if n == 0 {
		return Analysis{Pattern: PatternUnknown}
	}

	var sum, peak float64
	utils := make([]float64, n)
	for i, s := range samples {
		u := s.utilization()
		utils[i] = u
		sum += u
		if float64(s.InUse) > peak {
			peak = float64(s.InUse)
		}
	}
	avg := sum / float64(n)

	var variance float64
	for _, u := range utils {
		d := u - avg
		variance += d * d
	}
	variance /= float64(n)

	windowSeconds := samples[n-1].At.Sub(samples[0].At).Seconds()

	var velocity float64
	if windowSeconds > 0 {
		totalAlloc := 0
		for i := 1; i < n; i++ {
			if samples[i].InUse > samples[i-1].InUse {
				totalAlloc += samples[i].InUse - samples[i-1].InUse
			}
		}
		velocity = float64(totalAlloc) / (windowSeconds / 60)
	}

	pattern := PatternUnknown
	switch {
	case variance < 0.01:
		pattern = PatternSteady
	case variance > 0.1:
		pattern = PatternBursty
	default:
		half := n / 2
		if half > 0 {
			var firstSum, secondSum float64
			for i := 0; i < half; i++ {
				firstSum += utils[i]
			}
			for i := n - half; i < n; i++ {
				secondSum += utils[i]
			}
			firstMean := firstSum / float64(half)
			secondMean := secondSum / float64(n-half)
			switch {
			case firstMean > 0 && secondMean > firstMean*1.2:
				pattern = PatternGrowing
			case firstMean > 0 && secondMean < firstMean*0.8:
				pattern = PatternDeclining
			}
		}
	}

	return Analysis{
		AvgUtilization:     avg,
		AllocationVelocity: velocity,
		Pattern:            pattern,
		RecentPeakUsage:    int(peak),
		WindowSeconds:      windowSeconds,
		SampleCount:        n,
	}
}

// confidence is the mean of three 0-1 scores, per spec.md §4.3: sample
// count /20, window seconds /600, and a pattern-clarity constant.
func confidence(a Analysis) float64 {
	countScore := clamp01(float64(a.SampleCount) / 20)
	windowScore := clamp01(a.WindowSeconds / 600)

	var clarity float64
	switch a.Pattern {
	case PatternSteady:
		clarity = 0.9
	case PatternBursty, PatternGrowing, PatternDeclining:
		clarity = 0.7
	default:
		clarity = 0.3
	}

	return (countScore + windowScore + clarity) / 3
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pressureMultiplier(p PressureLevel) float64 {
	switch p {
	case PressureWarning:
		return 0.5
	case PressureCritical:
		return 0.2
	default:
		return 1.0
	}
}

func patternAdjustment(p UsagePattern) float64 {
	switch p {
	case PatternSteady:
		return 1.0
	case PatternBursty:
		return 1.5
	case PatternGrowing:
		return 2.0
	case PatternDeclining:
		return 0.8
	default:
		return 1.2
	}
}

// IntelligentShrinker computes a target available-stack size for a pool
// given its current statistics, a window analysis, and system pressure
// level, per spec.md §4.3's water-mark shrink policy.
type IntelligentShrinker struct{}

// Target computes the recommended target size for the pool's available
// stack.
func (IntelligentShrinker) Target(stats Stats, analysis Analysis, pressure PressureLevel) int {
	utilizationScore := 1 - analysis.AvgUtilization
	velocityFactor := clamp01(analysis.AllocationVelocity / 100)
	pm := pressureMultiplier(pressure)
	pa := patternAdjustment(analysis.Pattern)
	conf := confidence(analysis)

	maxSize := stats.MaxSize
	if maxSize <= 0 {
		maxSize = 1
	}

	base := float64(maxSize) * utilizationScore * pm
	scaled := conf * pa * velocityFactor * base

	target := scaled
	if float64(maxSize) < target {
		target = float64(maxSize)
	}
	if float64(analysis.RecentPeakUsage) > target {
		target = float64(analysis.RecentPeakUsage)
	}

	t := int(target)
	if t < 0 {
		t = 0
	}
	return t
}

// ShrinkPool applies the shrinker's computed target to p's available
// stack via Shrink.
func (s IntelligentShrinker) ShrinkPool(p interface{ Shrink(int) }, stats Stats, analysis Analysis, pressure PressureLevel) {
	p.Shrink(s.Target(stats, analysis, pressure))
}
