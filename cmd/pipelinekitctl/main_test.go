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

package main

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinekit/config"
	"pipelinekit/export/statsdexp"
	"pipelinekit/metrics"
	"pipelinekit/pool"
	"pipelinekit/safety"
	"pipelinekit/semaphore"
)

func TestBuildBackend_ConsoleAndNull(t *testing.T) {
	c, err := buildBackend(config.ExporterConfig{Backend: "console", Pretty: true})
	require.NoError(t, err)
	require.NoError(t, c.Export(context.Background(), metrics.Sample{Name: "x", Value: 1}))

	n, err := buildBackend(config.ExporterConfig{Backend: "null"})
	require.NoError(t, err)
	require.NoError(t, n.Export(context.Background(), metrics.Sample{Name: "x", Value: 1}))
}

func TestBuildBackend_UnknownBackendErrors(t *testing.T) {
	_, err := buildBackend(config.ExporterConfig{Backend: "carrier-pigeon"})
	require.Error(t, err)
}

func TestBuildBackend_RedisRequiresAddr(t *testing.T) {
	_, err := buildBackend(config.ExporterConfig{Backend: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_addr")
}

func TestBuildMulti_EmptyDefaultsToConsole(t *testing.T) {
	e, err := buildMulti(nil)
	require.NoError(t, err)
	require.NoError(t, e.Export(context.Background(), metrics.Sample{Name: "x", Value: 1}))
}

func TestBuildMulti_FansOutAcrossMultipleBackends(t *testing.T) {
	dir := t.TempDir()
	e, err := buildMulti([]config.ExporterConfig{
		{Backend: "console", Pretty: false},
		{Backend: "json", FilePath: filepath.Join(dir, "m.json")},
	})
	require.NoError(t, err)
	require.NoError(t, e.Export(context.Background(), metrics.Sample{Name: "x", Value: 1}))
	assert.True(t, e.Status().Active)
}

func TestBuildMulti_WrapsSamplerWhenConfigured(t *testing.T) {
	e, err := buildMulti([]config.ExporterConfig{
		{Backend: "console", SampleRate: 0.5},
	})
	require.NoError(t, err)
	require.NoError(t, e.Export(context.Background(), metrics.Sample{Name: "always.error", Value: 1}))
}

func TestStatsdFormat_MapsKnownNames(t *testing.T) {
	assert.Equal(t, statsdexp.DogStatsD, statsdFormat(""))
	assert.Equal(t, statsdexp.DogStatsD, statsdFormat("dogstatsd"))
	assert.Equal(t, statsdexp.Vanilla, statsdFormat("vanilla"))
}

func TestSemaphoreStrategy_MapsKnownNames(t *testing.T) {
	assert.Equal(t, semaphore.Suspend, semaphoreStrategy(""))
	assert.Equal(t, semaphore.ErrorStrategy, semaphoreStrategy("error"))
	assert.Equal(t, semaphore.DropNewest, semaphoreStrategy("drop_newest"))
	assert.Equal(t, semaphore.DropOldest, semaphoreStrategy("evict_oldest"))
}

func TestDefaultConfig_IsUsableStandalone(t *testing.T) {
	cfg := defaultConfig()
	require.Len(t, cfg.Exporters, 1)
	assert.Equal(t, "console", cfg.Exporters[0].Backend)
	assert.Greater(t, cfg.Pool.MaxSize, 0)
}

func TestUpdateSelfMetrics_PopulatesGauges(t *testing.T) {
	r := metrics.NewSelfRegistry()
	monitor := safety.New(safety.Config{ReservationTimeout: time.Second, RegistryCapacity: 100})

	updateSelfMetrics(r, pool.Stats{CurrentlyInUse: 3, CurrentlyAvailable: 5, HitRate: 0.75}, semaphore.Stats{InUse: 2, Queued: 1}, monitor)

	assert.Equal(t, float64(3), testutil.ToFloat64(r.PoolInUse.WithLabelValues("demo")))
	assert.Equal(t, float64(5), testutil.ToFloat64(r.PoolAvailable.WithLabelValues("demo")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.SemaphoreQueued.WithLabelValues("demo")))
}

func TestRun_WithSelfMetricsAddrServesPrometheusFormat(t *testing.T) {
	o := opts{duration: 300 * time.Millisecond, producers: 2, rate: 10 * time.Millisecond, selfMetricsAddr: "127.0.0.1:19876"}

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), o) }()

	time.Sleep(100 * time.Millisecond)
	resp, err := http.Get("http://127.0.0.1:19876/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pipelinekit_pool_in_use")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return within timeout")
	}
}

func TestRun_CompletesWithinDuration(t *testing.T) {
	o := opts{duration: 200 * time.Millisecond, producers: 2, rate: 10 * time.Millisecond, pretty: false}

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), o) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return within timeout")
	}
}
