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

// Package export defines the exporter trait and the composable
// wrappers (batching, sampling, aggregation, fan-out) that sit in
// front of the concrete backends in the statsdexp/prometheusexp/
// fileexp/consoleexp/redisexp/otelexp subpackages.
package export

import (
	"context"
	"errors"

	"pipelinekit/metrics"
)

// ErrExporterClosed is returned by export/export_batch/export_aggregated
// once Shutdown has completed.
var ErrExporterClosed = errors.New("export: exporter closed")

// Aggregated is one pre-aggregated (name, tag-set) key emitted by the
// aggregation wrapper on flush.
type Aggregated struct {
	Name     string
	Tags     map[string]string
	Snapshot metrics.Snapshot
}

// Status reports an exporter's liveness for health checks.
type Status struct {
	Active      bool
	LastError   error
	SentCount   int64
	ErrorCount  int64
}

// Exporter is the trait every backend and wrapper implements.
type Exporter interface {
	Export(ctx context.Context, sample metrics.Sample) error
	ExportBatch(ctx context.Context, samples []metrics.Sample) error
	ExportAggregated(ctx context.Context, aggregated []Aggregated) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Status() Status
}
