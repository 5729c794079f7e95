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

package consoleexp

import (
	"context"
	"os"
	"sync/atomic"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

var stdout = os.Stdout

// Null accepts and discards everything; used in tests and demos where
// exporting is wired but output is not wanted.
type Null struct {
	active atomic.Bool
	sent   atomic.Int64
}

// NewNull builds a Null exporter.
func NewNull() *Null {
	n := &Null{}
	n.active.Store(true)
	return n
}

func (n *Null) Export(ctx context.Context, sample metrics.Sample) error {
	n.sent.Add(1)
	return nil
}

func (n *Null) ExportBatch(ctx context.Context, samples []metrics.Sample) error {
	n.sent.Add(int64(len(samples)))
	return nil
}

func (n *Null) ExportAggregated(ctx context.Context, aggregated []export.Aggregated) error {
	n.sent.Add(int64(len(aggregated)))
	return nil
}

func (n *Null) Flush(ctx context.Context) error    { return nil }
func (n *Null) Shutdown(ctx context.Context) error { n.active.Store(false); return nil }
func (n *Null) Status() export.Status {
	return export.Status{Active: n.active.Load(), SentCount: n.sent.Load()}
}
