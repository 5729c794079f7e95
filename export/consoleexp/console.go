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

// Package consoleexp implements the console (pretty or compact text) and
// null exporter backends.
package consoleexp

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

// Config configures the console exporter.
type Config struct {
	Writer  io.Writer // defaults to os.Stdout
	Pretty  bool      // multi-line, aligned; false = single compact line
	Prefix  string
}

// Exporter prints samples to Writer as they arrive, one line (or block)
// per sample, matching the teacher's fmt.Printf-based lifecycle logging.
type Exporter struct {
	cfg Config
	mu  sync.Mutex

	active   atomic.Bool
	sent     atomic.Int64
	errCount atomic.Int64
}

// New builds a console exporter. A nil cfg.Writer defaults to os.Stdout.
func New(cfg Config) *Exporter {
	if cfg.Writer == nil {
		cfg.Writer = stdout
	}
	e := &Exporter{cfg: cfg}
	e.active.Store(true)
	return e
}

func (e *Exporter) formatSample(s metrics.Sample) string {
	var b strings.Builder
	if e.cfg.Prefix != "" {
		b.WriteString(e.cfg.Prefix)
		b.WriteByte(' ')
	}
	if e.cfg.Pretty {
		fmt.Fprintf(&b, "%s\n  kind:  %s\n  value: %v\n", s.Name, s.Kind, s.Value)
		if len(s.Tags) > 0 {
			b.WriteString("  tags:\n")
			for _, k := range sortedKeys(s.Tags) {
				fmt.Fprintf(&b, "    %s=%s\n", k, s.Tags[k])
			}
		}
		return b.String()
	}
	fmt.Fprintf(&b, "%s kind=%s value=%v", s.Name, s.Kind, s.Value)
	if len(s.Tags) > 0 {
		var parts []string
		for _, k := range sortedKeys(s.Tags) {
			parts = append(parts, k+"="+s.Tags[k])
		}
		b.WriteString(" " + strings.Join(parts, ","))
	}
	b.WriteByte('\n')
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Exporter) Export(ctx context.Context, sample metrics.Sample) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	e.mu.Lock()
	_, err := io.WriteString(e.cfg.Writer, e.formatSample(sample))
	e.mu.Unlock()
	if err != nil {
		e.errCount.Add(1)
		return err
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

func (e *Exporter) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range aggregated {
		line := fmt.Sprintf("%s count=%d sum=%.4f mean=%.4f\n", a.Name, a.Snapshot.Count, a.Snapshot.Sum, a.Snapshot.Mean)
		if e.cfg.Prefix != "" {
			line = e.cfg.Prefix + " " + line
		}
		if _, err := io.WriteString(e.cfg.Writer, line); err != nil {
			e.errCount.Add(1)
			return err
		}
		e.sent.Add(1)
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
