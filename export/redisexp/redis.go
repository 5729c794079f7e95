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

// Package redisexp pushes exported samples onto a Redis stream for
// cross-process fan-in: several PipelineKit instances can export to the
// same stream and a single downstream consumer drains it.
package redisexp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"pipelinekit/export"
	"pipelinekit/metrics"
)

// StreamClient abstracts the minimal surface needed from a Redis client,
// mirroring the ratelimiter persistence layer's RedisEvaler abstraction so
// callers can substitute a fake in tests without pulling in a real server.
// Implementations typically wrap (*redis.Client).XAdd from
// github.com/redis/go-redis/v9.
type StreamClient interface {
	XAdd(ctx context.Context, stream string, values map[string]interface{}) error
}

// Config configures a redisexp Exporter.
type Config struct {
	Client StreamClient
	Stream string // stream key; defaults to "pipelinekit:metrics"
}

type wireSample struct {
	Name      string            `json:"name"`
	Kind      string            `json:"type"`
	Value     float64           `json:"value"`
	TimestampNano int64         `json:"ts_unix_nano"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Exporter pushes one stream entry per sample (or per aggregated key),
// each carrying a single "payload" field holding the JSON-encoded sample.
type Exporter struct {
	cfg Config

	active   atomic.Bool
	sent     atomic.Int64
	errCount atomic.Int64
}

// New builds a redisexp Exporter over an already-connected StreamClient.
func New(cfg Config) *Exporter {
	if cfg.Stream == "" {
		cfg.Stream = "pipelinekit:metrics"
	}
	e := &Exporter{cfg: cfg}
	e.active.Store(true)
	return e
}

func (e *Exporter) push(ctx context.Context, payload []byte) error {
	if !e.active.Load() {
		return export.ErrExporterClosed
	}
	err := e.cfg.Client.XAdd(ctx, e.cfg.Stream, map[string]interface{}{"payload": payload})
	if err != nil {
		e.errCount.Add(1)
		return fmt.Errorf("redisexp: xadd %s: %w", e.cfg.Stream, err)
	}
	e.sent.Add(1)
	return nil
}

func (e *Exporter) Export(ctx context.Context, sample metrics.Sample) error {
	b, err := json.Marshal(wireSample{
		Name: sample.Name, Kind: sample.Kind.String(), Value: sample.Value,
		TimestampNano: sample.Timestamp.UnixNano(), Tags: sample.Tags,
	})
	if err != nil {
		return err
	}
	return e.push(ctx, b)
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
	for _, a := range aggregated {
		b, err := json.Marshal(struct {
			Name string            `json:"name"`
			Tags map[string]string `json:"tags,omitempty"`
			Snap metrics.Snapshot  `json:"snapshot"`
		}{Name: a.Name, Tags: a.Tags, Snap: a.Snapshot})
		if err != nil {
			return err
		}
		if err := e.push(ctx, b); err != nil {
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
