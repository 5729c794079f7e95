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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinekit/metrics"
)

// recordingExporter is a test double that counts calls and can be made to
// fail on demand, optionally after a delay to exercise concurrency.
type recordingExporter struct {
	mu       sync.Mutex
	exported []metrics.Sample
	fail     error
	delay    time.Duration
	calls    atomic.Int64
}

func (r *recordingExporter) Export(ctx context.Context, sample metrics.Sample) error {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	r.exported = append(r.exported, sample)
	r.mu.Unlock()
	return nil
}

func (r *recordingExporter) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	r.calls.Add(1)
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	r.exported = append(r.exported, samples...)
	r.mu.Unlock()
	return nil
}

func (r *recordingExporter) ExportAggregated(ctx context.Context, aggregated []Aggregated) error {
	r.calls.Add(1)
	return r.fail
}

func (r *recordingExporter) Flush(ctx context.Context) error    { return r.fail }
func (r *recordingExporter) Shutdown(ctx context.Context) error { return r.fail }
func (r *recordingExporter) Status() Status {
	return Status{Active: r.fail == nil, LastError: r.fail, SentCount: r.calls.Load()}
}

func TestMulti_FanOutReachesAllExporters(t *testing.T) {
	a := &recordingExporter{}
	b := &recordingExporter{}
	m := NewMulti(a, b)

	err := m.Export(context.Background(), metrics.Sample{Name: "requests"})
	require.NoError(t, err)
	assert.Len(t, a.exported, 1)
	assert.Len(t, b.exported, 1)
}

func TestMulti_OneFailureDoesNotHaltOthers(t *testing.T) {
	failing := &recordingExporter{fail: errors.New("backend down")}
	healthy := &recordingExporter{}
	m := NewMulti(failing, healthy)

	err := m.Export(context.Background(), metrics.Sample{Name: "requests"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Len(t, healthy.exported, 1, "healthy exporter must still receive the sample")
}

func TestMulti_RunsInParallel(t *testing.T) {
	slow1 := &recordingExporter{delay: 50 * time.Millisecond}
	slow2 := &recordingExporter{delay: 50 * time.Millisecond}
	m := NewMulti(slow1, slow2)

	start := time.Now()
	require.NoError(t, m.Export(context.Background(), metrics.Sample{Name: "x"}))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 90*time.Millisecond, "parallel fan-out should take ~1 delay, not 2")
}

func TestMulti_StatusActiveOnlyWhenAllActive(t *testing.T) {
	a := &recordingExporter{}
	b := &recordingExporter{fail: errors.New("down")}
	m := NewMulti(a, b)

	status := m.Status()
	assert.False(t, status.Active)
	assert.Error(t, status.LastError)
}

func TestMulti_ShutdownFansOut(t *testing.T) {
	a := &recordingExporter{}
	b := &recordingExporter{}
	m := NewMulti(a, b)

	require.NoError(t, m.Shutdown(context.Background()))
}
