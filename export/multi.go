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

	"pipelinekit/metrics"
)

// Multi fans a single call out to N underlying exporters in parallel.
// One exporter's failure never stops the others from running; a
// Multi call that has any failures returns a joined error.
type Multi struct {
	exporters []Exporter
}

// NewMulti constructs a Multi over the given exporters.
func NewMulti(exporters ...Exporter) *Multi {
	return &Multi{exporters: exporters}
}

func fanOut(exporters []Exporter, do func(Exporter) error) error {
	errs := make([]error, len(exporters))
	var wg sync.WaitGroup
	for i, e := range exporters {
		wg.Add(1)
		go func(i int, e Exporter) {
			defer wg.Done()
			errs[i] = do(e)
		}(i, e)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Multi) Export(ctx context.Context, sample metrics.Sample) error {
	return fanOut(m.exporters, func(e Exporter) error { return e.Export(ctx, sample) })
}

func (m *Multi) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	return fanOut(m.exporters, func(e Exporter) error { return e.ExportBatch(ctx, samples) })
}

func (m *Multi) ExportAggregated(ctx context.Context, aggregated []Aggregated) error {
	return fanOut(m.exporters, func(e Exporter) error { return e.ExportAggregated(ctx, aggregated) })
}

func (m *Multi) Flush(ctx context.Context) error {
	return fanOut(m.exporters, func(e Exporter) error { return e.Flush(ctx) })
}

func (m *Multi) Shutdown(ctx context.Context) error {
	return fanOut(m.exporters, func(e Exporter) error { return e.Shutdown(ctx) })
}

// Status aggregates each underlying exporter's counters. Active is
// true only if every underlying exporter is still active.
func (m *Multi) Status() Status {
	agg := Status{Active: true}
	for _, e := range m.exporters {
		s := e.Status()
		agg.Active = agg.Active && s.Active
		agg.SentCount += s.SentCount
		agg.ErrorCount += s.ErrorCount
		if s.LastError != nil {
			agg.LastError = s.LastError
		}
	}
	return agg
}
