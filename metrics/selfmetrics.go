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

import "github.com/prometheus/client_golang/prometheus"

// SelfRegistry exposes PipelineKit's own internal health (pool, semaphore,
// safety-monitor statistics) as Prometheus gauges/counters, mirroring the
// teacher's telemetry/churn package: metrics are created once, registered
// eagerly, and updated from whichever subsystem owns the underlying
// counter. Callers that don't want a self-observability endpoint simply
// never construct a SelfRegistry; nothing in the rest of the module
// depends on it.
type SelfRegistry struct {
	registry *prometheus.Registry

	PoolInUse       *prometheus.GaugeVec
	PoolAvailable   *prometheus.GaugeVec
	PoolHitRate     *prometheus.GaugeVec
	SemaphoreQueued *prometheus.GaugeVec
	SemaphoreInUse  *prometheus.GaugeVec
	ResourceUsage   *prometheus.GaugeVec
	ResourceLeaks   *prometheus.CounterVec
}

// NewSelfRegistry builds and registers the self-observability metric set
// against a dedicated prometheus.Registry (not the global default
// registry, so embedding applications don't get surprise metrics).
func NewSelfRegistry() *SelfRegistry {
	r := prometheus.NewRegistry()
	sr := &SelfRegistry{
		registry: r,
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinekit_pool_in_use",
			Help: "Currently borrowed instances per pool.",
		}, []string{"pool"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinekit_pool_available",
			Help: "Currently available (idle) instances per pool.",
		}, []string{"pool"}),
		PoolHitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinekit_pool_hit_rate",
			Help: "Fraction of borrows satisfied from the available stack rather than the factory.",
		}, []string{"pool"}),
		SemaphoreQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinekit_semaphore_queued",
			Help: "Waiters currently queued per semaphore.",
		}, []string{"semaphore"}),
		SemaphoreInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinekit_semaphore_in_use",
			Help: "Tokens currently held per semaphore.",
		}, []string{"semaphore"}),
		ResourceUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipelinekit_safety_resource_allocated",
			Help: "Currently allocated count per resource kind.",
		}, []string{"kind"}),
		ResourceLeaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinekit_safety_resource_leaks_total",
			Help: "Total resource leaks detected by the periodic scan, per kind.",
		}, []string{"kind"}),
	}
	r.MustRegister(
		sr.PoolInUse, sr.PoolAvailable, sr.PoolHitRate,
		sr.SemaphoreQueued, sr.SemaphoreInUse,
		sr.ResourceUsage, sr.ResourceLeaks,
	)
	return sr
}

// Registry returns the underlying prometheus.Registry so an integrator can
// mount it behind promhttp.HandlerFor.
func (s *SelfRegistry) Registry() *prometheus.Registry { return s.registry }
