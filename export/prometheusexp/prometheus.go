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

// Package prometheusexp renders exported samples as Prometheus text
// exposition format, deduplicating repeated (name, tag-set) pairs down
// to their latest value the way a /metrics scrape expects.
package prometheusexp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

var nameReplacer = strings.NewReplacer(".", "_", "-", "_")

func sanitizeMetricName(name string) string {
	return nameReplacer.Replace(name)
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}

func promTypeAndSuffix(kind metrics.Kind) (promType, suffix string) {
	switch kind {
	case metrics.KindCounter:
		return "counter", "_total"
	case metrics.KindGauge:
		return "gauge", ""
	case metrics.KindTimer:
		return "gauge", "_milliseconds"
	case metrics.KindHistogram:
		return "histogram", ""
	default:
		return "gauge", ""
	}
}

func labelString(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, escapeLabelValue(tags[k])))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type series struct {
	name  string
	kind  metrics.Kind
	tags  map[string]string
	value float64

	// Histogram-only.
	isHistogram bool
	buckets     map[float64]uint64
	sum         float64
	count       int64
}

func seriesKey(name string, tags map[string]string) string {
	return sanitizeMetricName(name) + labelString(tags)
}

// Exporter accumulates the latest value per (name, tag-set) key and
// renders the full text exposition format on demand via Render (served
// over HTTP by MetricsHandler).
type Exporter struct {
	mu       sync.Mutex
	series   map[string]*series
	order    []string // first-seen order, for deterministic output

	active     atomic.Bool
	sent       atomic.Int64
	errCount   atomic.Int64
}

// New builds a Prometheus text exporter.
func New() *Exporter {
	e := &Exporter{series: make(map[string]*series)}
	e.active.Store(true)
	return e
}

func (e *Exporter) upsert(sample metrics.Sample) {
	key := seriesKey(sample.Name, sample.Tags)
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		s = &series{name: sample.Name, kind: sample.Kind, tags: sample.Tags}
		e.series[key] = s
		e.order = append(e.order, key)
	}
	s.value = sample.Value
	s.isHistogram = false
}

func (e *Exporter) upsertAggregated(a export.Aggregated) {
	key := seriesKey(a.Name, a.Tags)
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[key]
	if !ok {
		e.order = append(e.order, key)
		s = &series{name: a.Name, tags: a.Tags}
		e.series[key] = s
	}
	if a.Snapshot.Kind == metrics.SnapshotHistogram {
		s.isHistogram = true
		s.kind = metrics.KindHistogram
		s.buckets = a.Snapshot.Buckets
		s.sum = a.Snapshot.Sum
		s.count = a.Snapshot.Count
		return
	}
	s.isHistogram = false
	s.kind = metrics.KindGauge
	if a.Snapshot.Kind == metrics.SnapshotCounter {
		s.kind = metrics.KindCounter
		s.value = a.Snapshot.Sum
	} else {
		s.value = a.Snapshot.Mean
	}
}

func (e *Exporter) Export(ctx context.Context, sample metrics.Sample) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	e.upsert(sample)
	e.sent.Add(1)
	return nil
}

func (e *Exporter) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	for _, s := range samples {
		e.upsert(s)
	}
	e.sent.Add(int64(len(samples)))
	return nil
}

func (e *Exporter) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	for _, a := range aggregated {
		e.upsertAggregated(a)
	}
	e.sent.Add(int64(len(aggregated)))
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

// Render produces the full Prometheus text exposition payload for every
// series observed so far, grouping lines by sanitized metric name with one
// "# TYPE" header per name as the format requires.
func (e *Exporter) Render() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	byName := make(map[string][]*series)
	var names []string
	for _, key := range e.order {
		s := e.series[key]
		sanitized := sanitizeMetricName(s.name)
		if _, ok := byName[sanitized]; !ok {
			names = append(names, sanitized)
		}
		byName[sanitized] = append(byName[sanitized], s)
	}

	var b strings.Builder
	for _, name := range names {
		group := byName[name]
		promType, suffix := promTypeAndSuffix(group[0].kind)
		for _, s := range group {
			if s.isHistogram {
				promType, suffix = "histogram", ""
				break
			}
		}
		fullName := name + suffix
		fmt.Fprintf(&b, "# TYPE %s %s\n", fullName, promType)
		for _, s := range group {
			if s.isHistogram {
				writeHistogram(&b, name, s)
				continue
			}
			fmt.Fprintf(&b, "%s%s %s\n", fullName, labelString(s.tags), formatFloat(s.value))
		}
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name string, s *series) {
	bounds := make([]float64, 0, len(s.buckets))
	for bound := range s.buckets {
		bounds = append(bounds, bound)
	}
	sort.Float64s(bounds)
	baseLabels := s.tags
	for _, bound := range bounds {
		tags := withLabel(baseLabels, "le", strconv.FormatFloat(bound, 'g', -1, 64))
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, labelString(tags), s.buckets[bound])
	}
	infTags := withLabel(baseLabels, "le", "+Inf")
	fmt.Fprintf(b, "%s_bucket%s %d\n", name, labelString(infTags), s.count)
	fmt.Fprintf(b, "%s_sum%s %s\n", name, labelString(baseLabels), formatFloat(s.sum))
	fmt.Fprintf(b, "%s_count%s %d\n", name, labelString(baseLabels), s.count)
}

func withLabel(tags map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for tk, tv := range tags {
		out[tk] = tv
	}
	out[k] = v
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
