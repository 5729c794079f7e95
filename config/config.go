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

// Package config loads the YAML file that drives a PipelineKit deployment:
// pool sizes, semaphore limits, safety-monitor policy and exporter wiring,
// in one place rather than as scattered constructor arguments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError wraps a malformed or inconsistent config, surfaced at
// construction time rather than later at first use.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s", e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PoolConfig mirrors pool.Config's scalar fields.
type PoolConfig struct {
	MaxSize       int `yaml:"max_size"`
	HighWaterMark int `yaml:"high_water_mark"`
	LowWaterMark  int `yaml:"low_water_mark"`
	PreAllocate   int `yaml:"pre_allocate"`
	TrackStats    bool `yaml:"track_stats"`
}

// SemaphoreConfig mirrors semaphore.Config.
type SemaphoreConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	MaxOutstanding int    `yaml:"max_outstanding"`
	MaxQueueMemory int64  `yaml:"max_queue_memory"`
	Strategy       string `yaml:"strategy"` // "error", "drop_newest", "drop_oldest" (or "evict_oldest"); anything else suspends
}

// SafetyConfig mirrors safety.Config.
type SafetyConfig struct {
	ReservationTimeout time.Duration `yaml:"reservation_timeout"`
	RegistryCapacity   int           `yaml:"registry_capacity"`
	LeakScanInterval   time.Duration `yaml:"leak_scan_interval"`
	LeakAgeThreshold   time.Duration `yaml:"leak_age_threshold"`
}

// ExporterConfig selects and configures one export backend. Only the
// fields relevant to Backend are read; the rest are ignored, matching the
// teacher's BuildPersister(adapter, opts) selector-plus-grab-bag shape.
type ExporterConfig struct {
	Backend string `yaml:"backend"` // "statsd", "prometheus", "json", "csv", "console", "null", "redis", "otel"

	// statsd
	StatsdAddrs  []string `yaml:"statsd_addrs"`
	StatsdPrefix string   `yaml:"statsd_prefix"`
	StatsdFormat string   `yaml:"statsd_format"` // "dogstatsd" (default) or "vanilla"

	// file (json/csv)
	FilePath     string `yaml:"file_path"`
	MaxBytes     int64  `yaml:"max_bytes"`
	MaxFiles     int    `yaml:"max_files"`
	Gzip         bool   `yaml:"gzip"`

	// console
	Pretty bool   `yaml:"pretty"`
	Prefix string `yaml:"prefix"`

	// redis
	RedisAddr   string `yaml:"redis_addr"`
	RedisStream string `yaml:"redis_stream"`

	// batching/sampling wrappers applied around the backend
	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
	SampleRate    float64       `yaml:"sample_rate"`
}

// Config is the top-level, YAML-decoded deployment configuration.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Semaphore SemaphoreConfig `yaml:"semaphore"`
	Safety    SafetyConfig    `yaml:"safety"`
	Exporters []ExporterConfig `yaml:"exporters"`
}

// Load reads and parses the YAML file at path. A missing or malformed
// file fails fast with a ConfigurationError rather than returning a
// half-populated Config for the caller to discover later.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	return &cfg, nil
}

// Validate checks cross-field invariants that yaml.Unmarshal alone can't
// catch (negative sizes, unknown backend names, out-of-range sample rates,
// unknown statsd formats). Zero sizes are accepted.
func (c *Config) Validate() error {
	if c.Pool.MaxSize < 0 {
		return fmt.Errorf("pool.max_size must be >= 0, got %d", c.Pool.MaxSize)
	}
	if c.Semaphore.MaxConcurrency < 0 {
		return fmt.Errorf("semaphore.max_concurrency must be >= 0, got %d", c.Semaphore.MaxConcurrency)
	}
	for i, e := range c.Exporters {
		switch e.Backend {
		case "statsd", "prometheus", "json", "csv", "console", "null", "redis", "otel":
		case "":
			return fmt.Errorf("exporters[%d].backend is required", i)
		default:
			return fmt.Errorf("exporters[%d].backend: unknown backend %q", i, e.Backend)
		}
		if e.SampleRate < 0 || e.SampleRate > 1 {
			return fmt.Errorf("exporters[%d].sample_rate must be in [0,1], got %f", i, e.SampleRate)
		}
		switch e.StatsdFormat {
		case "", "dogstatsd", "vanilla":
		default:
			return fmt.Errorf("exporters[%d].statsd_format: unknown format %q", i, e.StatsdFormat)
		}
	}
	return nil
}
