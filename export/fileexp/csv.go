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
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

// CSVConfig configures the CSV file exporter.
type CSVConfig struct {
	Rotation RotationConfig
	Header   []string // caller-provided header; nil derives "timestamp,name,value,type" + sorted tag keys
}

// CSVExporter writes one header row per file, then one row per sample.
// Rotation reopens the file and rewrites the header.
type CSVExporter struct {
	cfg  CSVConfig
	file *rotatingFile

	mu           sync.Mutex
	headerWritten bool
	knownTagKeys map[string]bool
	tagKeyOrder  []string

	active   atomic.Bool
	sent     atomic.Int64
	errCount atomic.Int64
}

// NewCSV builds a CSV file exporter. The header row is deferred until the
// first Export call so a derived header can include the first sample's
// sorted tag keys. Those keys fix the tag columns for the whole stream:
// tag keys first seen in later samples are not written, so every row has
// the header's column count.
func NewCSV(cfg CSVConfig) (*CSVExporter, error) {
	rf, err := newRotatingFile(cfg.Rotation)
	if err != nil {
		return nil, err
	}
	e := &CSVExporter{cfg: cfg, file: rf, knownTagKeys: make(map[string]bool)}
	e.active.Store(true)
	rf.setHooks(rotationHooks{
		afterRotate: func() []byte {
			e.headerWritten = true
			return []byte(strings.Join(e.headerFields(), ",") + "\n")
		},
	})
	return e, nil
}

// headerFields returns the column list for the current (or next) header
// row: the caller-provided Header if set, otherwise the fixed leading
// columns plus whatever tag keys were derived from the first sample.
func (e *CSVExporter) headerFields() []string {
	if e.cfg.Header != nil {
		return e.cfg.Header
	}
	return append([]string{"timestamp", "name", "value", "type"}, e.tagKeyOrder...)
}

func (e *CSVExporter) ensureHeaderLocked(sample metrics.Sample) error {
	if e.headerWritten {
		return nil
	}
	if e.cfg.Header == nil {
		keys := make([]string, 0, len(sample.Tags))
		for k := range sample.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.tagKeyOrder = keys
	}
	line := strings.Join(e.headerFields(), ",") + "\n"
	if _, err := e.file.Write([]byte(line)); err != nil {
		return err
	}
	e.headerWritten = true
	return nil
}

func (e *CSVExporter) row(sample metrics.Sample) string {
	fields := []string{
		sample.Timestamp.Format(time.RFC3339Nano),
		sample.Name,
		strconv.FormatFloat(sample.Value, 'g', -1, 64),
		sample.Kind.String(),
	}
	for _, k := range e.tagKeyOrder {
		fields = append(fields, sample.Tags[k])
	}
	for i, f := range fields {
		fields[i] = quoteCSVField(f)
	}
	return strings.Join(fields, ",") + "\n"
}

func (e *CSVExporter) Export(ctx context.Context, sample metrics.Sample) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureHeaderLocked(sample); err != nil {
		e.errCount.Add(1)
		return err
	}
	if _, err := e.file.Write([]byte(e.row(sample))); err != nil {
		e.errCount.Add(1)
		return err
	}
	e.sent.Add(1)
	return nil
}

func (e *CSVExporter) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	for _, s := range samples {
		if err := e.Export(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ExportAggregated flattens each key's mean/sum into a single CSV row
// using the same schema as raw samples; the CSV format has no native
// discriminated-union shape the way JSON does.
func (e *CSVExporter) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	samples := make([]metrics.Sample, 0, len(aggregated))
	now := time.Time{}
	for _, a := range aggregated {
		value := a.Snapshot.Sum
		if a.Snapshot.Kind == metrics.SnapshotBasicStats || a.Snapshot.Kind == metrics.SnapshotExponentialDecay {
			value = a.Snapshot.Mean
		}
		ts := a.Snapshot.LastTS
		if ts.IsZero() {
			ts = now
		}
		samples = append(samples, metrics.Sample{Name: a.Name, Value: value, Tags: a.Tags, Timestamp: ts})
	}
	return e.ExportBatch(ctx, samples)
}

func (e *CSVExporter) Flush(ctx context.Context) error {
	return e.file.Flush()
}

func (e *CSVExporter) Shutdown(ctx context.Context) error {
	if !e.active.CompareAndSwap(true, false) {
		return nil
	}
	return e.file.Close()
}

func (e *CSVExporter) Status() export.Status {
	return export.Status{Active: e.active.Load(), SentCount: e.sent.Load(), ErrorCount: e.errCount.Load()}
}
