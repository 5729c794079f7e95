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

// Package otelexp bridges exported samples onto an injected
// go.opentelemetry.io/otel metric.Meter: counters and gauges become
// instruments created lazily on first use and cached by name, the same
// shape as a conventional OTEL metrics bridge.
package otelexp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

// Exporter records samples onto instruments obtained from Meter. Gauges
// have no native "Set" semantics in the OTEL metric API's synchronous
// instruments, so they are modeled as a Float64UpDownCounter and each
// Export computes and applies the delta from the previously recorded
// value, mirroring the teacher's otelGauge.Set.
type Exporter struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64UpDownCounter
	histograms map[string]metric.Float64Histogram
	gaugeLast  map[string]float64

	active   atomic.Bool
	sent     atomic.Int64
	errCount atomic.Int64
}

// New builds an otelexp Exporter recording onto meter.
func New(meter metric.Meter) *Exporter {
	e := &Exporter{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64UpDownCounter),
		histograms: make(map[string]metric.Float64Histogram),
		gaugeLast:  make(map[string]float64),
	}
	e.active.Store(true)
	return e
}

func tagAttributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		out = append(out, attribute.String(k, v))
	}
	return out
}

func (e *Exporter) counterFor(name string) (metric.Float64Counter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.counters[name]; ok {
		return c, nil
	}
	c, err := e.meter.Float64Counter(name)
	if err != nil {
		return metric.Float64Counter{}, err
	}
	e.counters[name] = c
	return c, nil
}

func (e *Exporter) gaugeFor(name string) (metric.Float64UpDownCounter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gauges[name]; ok {
		return g, nil
	}
	g, err := e.meter.Float64UpDownCounter(name)
	if err != nil {
		return metric.Float64UpDownCounter{}, err
	}
	e.gauges[name] = g
	return g, nil
}

func (e *Exporter) histogramFor(name string) (metric.Float64Histogram, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.histograms[name]; ok {
		return h, nil
	}
	h, err := e.meter.Float64Histogram(name)
	if err != nil {
		return metric.Float64Histogram{}, err
	}
	e.histograms[name] = h
	return h, nil
}

func (e *Exporter) recordGaugeDelta(ctx context.Context, name string, value float64, attrs []attribute.KeyValue) error {
	g, err := e.gaugeFor(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	prev := e.gaugeLast[name]
	diff := value - prev
	e.gaugeLast[name] = value
	e.mu.Unlock()
	if diff == 0 {
		return nil
	}
	g.Add(ctx, diff, metric.WithAttributes(attrs...))
	return nil
}

func (e *Exporter) record(ctx context.Context, sample metrics.Sample) error {
	attrs := tagAttributes(sample.Tags)
	switch sample.Kind {
	case metrics.KindCounter:
		c, err := e.counterFor(sample.Name)
		if err != nil {
			return err
		}
		if sample.Value > 0 {
			c.Add(ctx, sample.Value, metric.WithAttributes(attrs...))
		}
		return nil
	case metrics.KindHistogram, metrics.KindTimer:
		h, err := e.histogramFor(sample.Name)
		if err != nil {
			return err
		}
		h.Record(ctx, sample.Value, metric.WithAttributes(attrs...))
		return nil
	default: // gauge
		return e.recordGaugeDelta(ctx, sample.Name, sample.Value, attrs)
	}
}

func (e *Exporter) Export(ctx context.Context, sample metrics.Sample) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	if err := e.record(ctx, sample); err != nil {
		e.errCount.Add(1)
		return fmt.Errorf("otelexp: record %s: %w", sample.Name, err)
	}
	e.sent.Add(1)
	return nil
}

func (e *Exporter) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	for _, s := range samples {
		if err := e.Export(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ExportAggregated records each key's mean (basic-stats/decay) or sum
// (counter) as a gauge-style delta, since OTEL has no native windowed
// aggregation snapshot instrument.
func (e *Exporter) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	for _, a := range aggregated {
		value := a.Snapshot.Sum
		if a.Snapshot.Kind == metrics.SnapshotBasicStats || a.Snapshot.Kind == metrics.SnapshotExponentialDecay {
			value = a.Snapshot.Mean
		}
		if err := e.Export(ctx, metrics.Sample{Name: a.Name, Kind: metrics.KindGauge, Value: value, Tags: a.Tags}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) Flush(ctx context.Context) error { return nil }

func (e *Exporter) Shutdown(ctx context.Context) error {
	e.active.Store(false)
	return nil
}

func (e *Exporter) Status() export.Status {
	return export.Status{Active: e.active.Load(), SentCount: e.sent.Load(), ErrorCount: e.errCount.Load()}
}
