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

package statsdexp

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent map[string][]string
	fail bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][]string)}
}

func (f *fakeTransport) Send(ctx context.Context, shardKey string, payload []byte) error {
	if f.fail {
		return assert.AnError
	}
	f.mu.Lock()
	f.sent[shardKey] = append(f.sent[shardKey], string(payload))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) allLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, packets := range f.sent {
		for _, p := range packets {
			out = append(out, strings.Split(p, "\n")...)
		}
	}
	return out
}

func TestSanitizeName_ReplacesReservedChars(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e", sanitizeName("a:b|c@d e"))
}

func TestExporter_LineFormat_Counter(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft})
	require.NoError(t, err)

	err = exp.Export(context.Background(), metrics.Sample{Name: "requests", Kind: metrics.KindCounter, Value: 3})
	require.NoError(t, err)

	lines := ft.allLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "requests:3|c", lines[0])
}

func TestExporter_LineFormat_WithTagsAndPrefix(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft, Prefix: "app", GlobalTags: map[string]string{"env": "prod"}})
	require.NoError(t, err)

	err = exp.Export(context.Background(), metrics.Sample{
		Name: "latency", Kind: metrics.KindGauge, Value: 12.5,
		Tags: map[string]string{"route": "/x"},
	})
	require.NoError(t, err)

	lines := ft.allLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "app.latency:12.5|g|#env:prod,route:/x", lines[0])
}

func TestExporter_VanillaFormatOmitsTagSuffix(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft, Format: Vanilla, GlobalTags: map[string]string{"env": "prod"}})
	require.NoError(t, err)

	err = exp.Export(context.Background(), metrics.Sample{
		Name: "latency", Kind: metrics.KindGauge, Value: 12.5,
		Tags: map[string]string{"route": "/x"},
	})
	require.NoError(t, err)

	lines := ft.allLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "latency:12.5|g", lines[0])
}

func TestExporter_DogStatsDIsTheZeroValueFormat(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft, GlobalTags: map[string]string{"env": "prod"}})
	require.NoError(t, err)

	err = exp.Export(context.Background(), metrics.Sample{Name: "latency", Kind: metrics.KindGauge, Value: 12.5})
	require.NoError(t, err)

	lines := ft.allLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "latency:12.5|g|#env:prod", lines[0])
}

func TestExporter_SampleRateAnnotation(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft})
	require.NoError(t, err)

	line := exp.line(metrics.Sample{Name: "hits", Kind: metrics.KindCounter, Value: 1}, 0.1)
	assert.Equal(t, "hits:1|c|@0.1", line)
}

func TestExporter_SampleRateOmittedWhenOne(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft})
	require.NoError(t, err)

	line := exp.line(metrics.Sample{Name: "hits", Kind: metrics.KindCounter, Value: 1}, 1)
	assert.Equal(t, "hits:1|c", line)
}

func TestExporter_PacksUnderMaxPacketSize(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft, MaxPacketSize: 20})
	require.NoError(t, err)

	samples := []metrics.Sample{
		{Name: "a", Kind: metrics.KindCounter, Value: 1},
		{Name: "b", Kind: metrics.KindCounter, Value: 2},
		{Name: "c", Kind: metrics.KindCounter, Value: 3},
	}
	require.NoError(t, exp.ExportBatch(context.Background(), samples))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	for _, packets := range ft.sent {
		for _, p := range packets {
			assert.LessOrEqual(t, len(p), 20)
		}
	}
}

func TestExporter_SendFailureRecordedInStatus(t *testing.T) {
	ft := newFakeTransport()
	ft.fail = true
	exp, err := New(Config{Transport: ft})
	require.NoError(t, err)

	err = exp.Export(context.Background(), metrics.Sample{Name: "x", Kind: metrics.KindCounter, Value: 1})
	require.Error(t, err)

	status := exp.Status()
	assert.EqualValues(t, 1, status.ErrorCount)
	assert.Error(t, status.LastError)
}

func TestExporter_ShutdownRejectsFurtherExports(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft})
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))

	err = exp.Export(context.Background(), metrics.Sample{Name: "x", Kind: metrics.KindCounter, Value: 1})
	assert.Error(t, err)
}

func TestExporter_ExportAggregatedEmitsGaugeForStats(t *testing.T) {
	ft := newFakeTransport()
	exp, err := New(Config{Transport: ft})
	require.NoError(t, err)

	err = exp.ExportAggregated(context.Background(), []export.Aggregated{
		{Name: "latency", Snapshot: metrics.Snapshot{Kind: metrics.SnapshotBasicStats, Mean: 42}},
	})
	require.NoError(t, err)

	lines := ft.allLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "latency:42|g", lines[0])
}
