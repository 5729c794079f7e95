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

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounter_IncrementDecrement(t *testing.T) {
	c := NewCounter()
	require.Equal(t, float64(1), c.Increment(0))
	require.Equal(t, float64(3), c.Increment(2))
	require.Equal(t, float64(1), c.Decrement(2))
	require.Equal(t, float64(1), c.Value())
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 5000
	c := NewCounter()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Increment(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, float64(goroutines*perGoroutine), c.Value())
}

func TestCounter_ResetAndGetAndReset(t *testing.T) {
	c := NewCounter()
	c.Increment(10)
	require.Equal(t, float64(10), c.GetAndReset())
	require.Equal(t, float64(0), c.Value())

	c.Increment(5)
	c.Reset()
	require.Equal(t, float64(0), c.Value())
}

func TestGauge_SetAdjustGetAndSet(t *testing.T) {
	g := NewGauge()
	g.Set(42)
	require.Equal(t, float64(42), g.Value())

	require.Equal(t, float64(45), g.Adjust(3))

	prev := g.GetAndSet(100)
	require.Equal(t, float64(45), prev)
	require.Equal(t, float64(100), g.Value())
}

func TestGauge_CompareAndSet(t *testing.T) {
	g := NewGauge()
	g.Set(1)
	require.False(t, g.CompareAndSet(2, 99))
	require.Equal(t, float64(1), g.Value())

	require.True(t, g.CompareAndSet(1, 99))
	require.Equal(t, float64(99), g.Value())
}

func TestGauge_Update(t *testing.T) {
	g := NewGauge()
	g.Set(10)
	result := g.Update(func(v float64) float64 { return v * 2 })
	require.Equal(t, float64(20), result)
	require.Equal(t, float64(20), g.Value())
}

func TestGauge_ConcurrentUpdate(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 2000
	g := NewGauge()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				g.Update(func(v float64) float64 { return v + 1 })
			}
		}()
	}
	wg.Wait()

	require.Equal(t, float64(goroutines*perGoroutine), g.Value())
}
