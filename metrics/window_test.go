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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindow_RotateResets(t *testing.T) {
	w := NewFixedWindow(func() Accumulator { return NewCounterAcc() })
	w.Record(5, baseTime)
	w.Record(5, baseTime.Add(time.Second))
	require.Equal(t, int64(2), w.Snapshot(baseTime).Count)

	w.Rotate(baseTime)
	require.Equal(t, int64(0), w.Snapshot(baseTime).Count)
}

func TestNewWindow_Factory(t *testing.T) {
	fixed := NewWindow(WindowSpec{Kind: WindowFixed}, func() Accumulator { return NewCounterAcc() })
	_, ok := fixed.(*FixedWindow)
	require.True(t, ok)

	sliding := NewWindow(WindowSpec{Kind: WindowSliding, Duration: 10 * time.Second, Buckets: 5}, func() Accumulator { return NewCounterAcc() })
	_, ok = sliding.(*SlidingWindow)
	require.True(t, ok)

	decay := NewWindow(WindowSpec{Kind: WindowExponentialDecay, HalfLife: time.Second}, nil)
	_, ok = decay.(*DecayWindow)
	require.True(t, ok)
}
