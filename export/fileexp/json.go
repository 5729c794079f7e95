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

package fileexp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

// JSONConfig configures the JSON file exporter.
type JSONConfig struct {
	Rotation     RotationConfig
	DateEnc      DateEncoding
	CustomLayout string // time.Format reference layout; used only when DateEnc == DateCustom
	Precision    int    // decimal places for float values; 0 or -1 disables rounding
}

type jsonSample struct {
	Name      string            `json:"name"`
	Kind      string            `json:"type"`
	Value     float64           `json:"value"`
	Timestamp interface{}       `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

type jsonAggregated struct {
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags,omitempty"`
	Stats interface{}       `json:"stats"`
}

// JSONExporter writes samples as a streaming JSON array: "[\n" to open,
// comma-separated entries, "\n]" on rotation or shutdown.
type JSONExporter struct {
	cfg  JSONConfig
	file *rotatingFile

	mu      sync.Mutex
	wrote   bool // at least one entry written to the current file

	active     atomic.Bool
	sent       atomic.Int64
	errCount   atomic.Int64
}

// NewJSON builds a JSON file exporter and writes the opening "[\n".
func NewJSON(cfg JSONConfig) (*JSONExporter, error) {
	if cfg.Precision == 0 {
		cfg.Precision = -1
	}
	rf, err := newRotatingFile(cfg.Rotation)
	if err != nil {
		return nil, err
	}
	e := &JSONExporter{cfg: cfg, file: rf}
	e.active.Store(true)
	rf.setHooks(rotationHooks{
		beforeRotate: func() []byte { return []byte("\n]") },
		afterRotate: func() []byte {
			e.wrote = false
			return []byte("[\n")
		},
	})
	if _, err := rf.Write([]byte("[\n")); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *JSONExporter) encodeTimestamp(t time.Time) interface{} {
	switch e.cfg.DateEnc {
	case DateUnixSeconds:
		return t.Unix()
	case DateUnixMillis:
		return t.UnixMilli()
	case DateCustom:
		layout := e.cfg.CustomLayout
		if layout == "" {
			layout = time.RFC3339Nano
		}
		return t.Format(layout)
	default:
		return t.Format(time.RFC3339Nano)
	}
}

func (e *JSONExporter) writeEntry(v interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.file.WriteEntry(b, func() []byte {
		if !e.wrote {
			e.wrote = true
			return nil
		}
		return []byte(",\n")
	})
	return err
}

func (e *JSONExporter) sampleEntry(s metrics.Sample) jsonSample {
	value := s.Value
	if e.cfg.Precision >= 0 {
		value = roundTo(value, e.cfg.Precision)
	}
	return jsonSample{
		Name: s.Name, Kind: s.Kind.String(), Value: value,
		Timestamp: e.encodeTimestamp(s.Timestamp), Tags: s.Tags,
	}
}

func (e *JSONExporter) Export(ctx context.Context, sample metrics.Sample) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	if err := e.writeEntry(e.sampleEntry(sample)); err != nil {
		e.errCount.Add(1)
		return err
	}
	e.sent.Add(1)
	return nil
}

func (e *JSONExporter) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	for _, s := range samples {
		if err := e.Export(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ExportAggregated serializes each Aggregated's snapshot with a
// discriminated union on statistics type (the "kind" field inside "stats").
func (e *JSONExporter) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	for _, a := range aggregated {
		entry := jsonAggregated{Name: a.Name, Tags: a.Tags, Stats: snapshotUnion(a.Snapshot)}
		if err := e.writeEntry(entry); err != nil {
			e.errCount.Add(1)
			return err
		}
		e.sent.Add(1)
	}
	return nil
}

// snapshotUnion renders a Snapshot as a discriminated union keyed by kind,
// so a JSON reader can dispatch on "kind" without guessing which numeric
// fields are meaningful.
func snapshotUnion(s metrics.Snapshot) map[string]interface{} {
	switch s.Kind {
	case metrics.SnapshotCounter:
		return map[string]interface{}{
			"kind": "counter", "count": s.Count, "sum": s.Sum,
			"first": s.FirstValue, "last": s.LastValue, "rate": s.Rate(),
		}
	case metrics.SnapshotBasicStats:
		return map[string]interface{}{
			"kind": "basic_stats", "count": s.Count, "sum": s.Sum,
			"min": s.Min, "max": s.Max, "mean": s.Mean,
		}
	case metrics.SnapshotHistogram:
		return map[string]interface{}{
			"kind": "histogram", "count": s.Count, "sum": s.Sum,
			"min": s.Min, "max": s.Max, "mean": s.Mean,
			"buckets": s.Buckets,
			"p50": s.P50, "p90": s.P90, "p95": s.P95, "p99": s.P99, "p999": s.P999,
		}
	case metrics.SnapshotExponentialDecay:
		return map[string]interface{}{
			"kind": "exponential_decay", "count": s.Count,
			"ewma": s.EWMA, "ewmv": s.EWMV, "effective_weight": s.EffectiveWeight,
			"ci_lower": s.CILower, "ci_upper": s.CIUpper,
		}
	default:
		return map[string]interface{}{"kind": "unknown"}
	}
}

func (e *JSONExporter) Flush(ctx context.Context) error {
	return e.file.Flush()
}

func (e *JSONExporter) Shutdown(ctx context.Context) error {
	if !e.active.CompareAndSwap(true, false) {
		return nil
	}
	e.mu.Lock()
	_, err := e.file.Write([]byte("\n]"))
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.file.Close()
}

func (e *JSONExporter) Status() export.Status {
	return export.Status{Active: e.active.Load(), SentCount: e.sent.Load(), ErrorCount: e.errCount.Load()}
}
