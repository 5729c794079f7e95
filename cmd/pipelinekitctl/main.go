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

// Command pipelinekitctl runs a self-contained demo producer against a
// pool, a semaphore and a safety monitor, exporting the resulting
// metrics through whichever backends a config file (or the default
// console backend) names, and prints a periodic stats table.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"pipelinekit/config"
	"pipelinekit/export"
	"pipelinekit/export/consoleexp"
	"pipelinekit/export/fileexp"
	"pipelinekit/export/otelexp"
	"pipelinekit/export/prometheusexp"
	"pipelinekit/export/redisexp"
	"pipelinekit/export/statsdexp"
	"pipelinekit/metrics"
	"pipelinekit/pool"
	"pipelinekit/safety"
	"pipelinekit/semaphore"
)

type opts struct {
	configPath      string
	duration        time.Duration
	producers       int
	rate            time.Duration
	pretty          bool
	selfMetricsAddr string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "pipelinekitctl",
		Short: "Run a PipelineKit demo workload against a pool/semaphore/safety-monitor pipeline",
		Long: `pipelinekitctl spins up N producer goroutines that acquire pool
handles, take semaphore tokens, reserve safety-monitor budget, and emit
metric samples through the exporter chain described by --config (or a
console backend by default), printing a periodic stats table.

Examples:
  pipelinekitctl --duration 30s --producers 8
  pipelinekitctl --config ops/pipelinekit.yaml --duration 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.configPath, "config", "", "path to a YAML config file (default: built-in console-only demo config)")
	root.Flags().DurationVar(&o.duration, "duration", 15*time.Second, "how long to run the demo (0 = until Ctrl-C)")
	root.Flags().IntVar(&o.producers, "producers", 4, "number of concurrent producer goroutines")
	root.Flags().DurationVar(&o.rate, "rate", 50*time.Millisecond, "delay between samples per producer")
	root.Flags().BoolVar(&o.pretty, "pretty", true, "unused: the stats table is always printed")
	root.Flags().StringVar(&o.selfMetricsAddr, "self-metrics-addr", "", "if set, serve pool/semaphore/safety-monitor Prometheus metrics on this address (e.g. :9090)")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func statsdFormat(name string) statsdexp.Format {
	if name == "vanilla" {
		return statsdexp.Vanilla
	}
	return statsdexp.DogStatsD
}

func semaphoreStrategy(name string) semaphore.Strategy {
	switch name {
	case "error":
		return semaphore.ErrorStrategy
	case "drop_newest":
		return semaphore.DropNewest
	case "drop_oldest", "evict_oldest":
		return semaphore.DropOldest
	default:
		return semaphore.Suspend
	}
}

func defaultConfig() *config.Config {
	return &config.Config{
		Pool:      config.PoolConfig{MaxSize: 64, HighWaterMark: 48, LowWaterMark: 8, TrackStats: true},
		Semaphore: config.SemaphoreConfig{MaxConcurrency: 16, MaxOutstanding: 32},
		Safety:    config.SafetyConfig{ReservationTimeout: 2 * time.Second, RegistryCapacity: 1000},
		Exporters: []config.ExporterConfig{{Backend: "console", Pretty: true}},
	}
}

func run(ctx context.Context, o opts) error {
	cfg := defaultConfig()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	exporter, err := buildMulti(cfg.Exporters)
	if err != nil {
		return fmt.Errorf("build exporters: %w", err)
	}

	demoPool := pool.New(pool.Config[*[]byte]{
		Factory:       func() *[]byte { b := make([]byte, 4096); return &b },
		MaxSize:       cfg.Pool.MaxSize,
		HighWaterMark: cfg.Pool.HighWaterMark,
		LowWaterMark:  cfg.Pool.LowWaterMark,
		PreAllocate:   cfg.Pool.PreAllocate,
		TrackStats:    cfg.Pool.TrackStats,
	})

	stopLeakScan := demoPool.StartLeakScanner(5*time.Second, 30*time.Second)
	defer stopLeakScan()

	sem := semaphore.New(semaphore.Config{
		MaxConcurrency: cfg.Semaphore.MaxConcurrency,
		MaxOutstanding: cfg.Semaphore.MaxOutstanding,
		MaxQueueMemory: cfg.Semaphore.MaxQueueMemory,
		Strategy:       semaphoreStrategy(cfg.Semaphore.Strategy),
	})

	monitor := safety.New(safety.Config{
		ReservationTimeout: cfg.Safety.ReservationTimeout,
		RegistryCapacity:   cfg.Safety.RegistryCapacity,
	})

	var selfReg *metrics.SelfRegistry
	var selfSrv *http.Server
	if o.selfMetricsAddr != "" {
		selfReg = metrics.NewSelfRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(selfReg.Registry(), promhttp.HandlerOpts{}))
		selfSrv = &http.Server{Addr: o.selfMetricsAddr, Handler: mux}
		go func() {
			if err := selfSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("self-metrics server failed", "err", err)
			}
		}()
		slog.Info("self-metrics server listening", "addr", o.selfMetricsAddr)
	}

	slog.Info("pipelinekitctl starting", "producers", o.producers, "duration", o.duration, "exporters", len(cfg.Exporters))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	for i := 0; i < o.producers; i++ {
		go produce(ctx, i, o.rate, demoPool, sem, monitor, exporter)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPOOL_INUSE\tPOOL_HITRATE\tSEM_INUSE\tSEM_QUEUED\tSEM_TIMEOUTS\tEXPORT_SENT\tEXPORT_ERRORS")
	tw.Flush()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var shrinker pool.IntelligentShrinker
	var usageHistory []pool.UsageSample
	const maxHistory = 30

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipelinekitctl stopping")
			_ = exporter.Flush(context.Background())
			_ = exporter.Shutdown(context.Background())
			if selfSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_ = selfSrv.Shutdown(shutdownCtx)
				cancel()
			}
			printSummary(demoPool.Statistics(), sem.Statistics(), exporter.Status())
			return nil
		case <-ticker.C:
			ps, ss := demoPool.Statistics(), sem.Statistics()
			printRow(tw, ps, ss, exporter.Status())
			if selfReg != nil {
				updateSelfMetrics(selfReg, ps, ss, monitor)
			}

			usageHistory = append(usageHistory, pool.UsageSample{
				At:        time.Now(),
				InUse:     int(ps.CurrentlyInUse),
				Available: int(ps.CurrentlyAvailable),
				MaxSize:   int(ps.MaxSize),
			})
			if len(usageHistory) > maxHistory {
				usageHistory = usageHistory[len(usageHistory)-maxHistory:]
			}
			shrinker.ShrinkPool(demoPool, ps, pool.Analyze(usageHistory), pool.PressureNormal)
		}
	}
}

func produce(ctx context.Context, id int, rate time.Duration, p *pool.Pool[*[]byte], sem *semaphore.Semaphore, monitor *safety.Monitor, exporter export.Exporter) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := p.AcquirePooled()

			tok, err := sem.Acquire(ctx, semaphore.Normal, int64(len(*h.Value())), 500*time.Millisecond)
			if err != nil {
				h.Close()
				continue
			}

			var safetyHandle *safety.Handle
			if res, err := monitor.Reserve(ctx, safety.Task, 1); err == nil {
				safetyHandle, _ = monitor.Confirm(res)
			}

			sample := metrics.Sample{
				Name:      "pipelinekitctl.demo.samples",
				Kind:      metrics.KindCounter,
				Value:     1,
				Timestamp: time.Now(),
				Tags:      map[string]string{"producer": fmt.Sprintf("%d", id)},
			}
			if err := exporter.Export(ctx, sample); err != nil {
				slog.Warn("export failed", "producer", id, "err", err)
			}

			if rate > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(rate))) / 4)
			}

			if safetyHandle != nil {
				safetyHandle.Release()
			}
			tok.Close()
			h.Close()
		}
	}
}

// updateSelfMetrics pushes the demo pool/semaphore/safety-monitor
// counters into the self-observability registry, using demoPool and sem
// as the single instance of each registered under the "demo" label, and
// the safety monitor's own consistency/leak scans for the resource-kind
// gauges.
func updateSelfMetrics(r *metrics.SelfRegistry, ps pool.Stats, ss semaphore.Stats, monitor *safety.Monitor) {
	r.PoolInUse.WithLabelValues("demo").Set(float64(ps.CurrentlyInUse))
	r.PoolAvailable.WithLabelValues("demo").Set(float64(ps.CurrentlyAvailable))
	r.PoolHitRate.WithLabelValues("demo").Set(ps.HitRate)
	r.SemaphoreQueued.WithLabelValues("demo").Set(float64(ss.Queued))
	r.SemaphoreInUse.WithLabelValues("demo").Set(float64(ss.InUse))

	for _, kind := range []safety.ResourceKind{safety.Task} {
		report := monitor.CheckConsistency(kind, false)
		r.ResourceUsage.WithLabelValues(kind.String()).Set(float64(report.RegistryAllocated))
	}
	for _, leak := range monitor.DetectLeaks(30 * time.Second) {
		r.ResourceLeaks.WithLabelValues(leak.Kind.String()).Inc()
	}
}

func printRow(tw *tabwriter.Writer, ps pool.Stats, ss semaphore.Stats, st export.Status) {
	fmt.Fprintf(tw, "%s\t%d\t%.2f\t%d\t%d\t%d\t%d\t%d\n",
		time.Now().Format("15:04:05"),
		ps.CurrentlyInUse, ps.HitRate,
		ss.InUse, ss.Queued, ss.Timeouts,
		st.SentCount, st.ErrorCount,
	)
	tw.Flush()
}

func printSummary(ps pool.Stats, ss semaphore.Stats, st export.Status) {
	fmt.Println()
	fmt.Println("pipelinekitctl summary:")
	fmt.Printf("- pool:      allocated=%d hits=%d hit_rate=%.2f peak=%d\n", ps.TotalAllocated, ps.Hits, ps.HitRate, ps.PeakUsage)
	fmt.Printf("- semaphore: granted=%d timeouts=%d dropped=%d\n", ss.Granted, ss.Timeouts, ss.Dropped)
	fmt.Printf("- export:    sent=%d errors=%d active=%v\n", st.SentCount, st.ErrorCount, st.Active)
	fmt.Println()
}

// buildMulti constructs one backend per ExporterConfig entry (wrapping
// each in a Sampler/Batcher when so configured) and fans out across all
// of them via export.Multi, mirroring the teacher's BuildPersister
// adapter-selector factory generalized to a list of simultaneous
// backends instead of one.
func buildMulti(cfgs []config.ExporterConfig) (export.Exporter, error) {
	if len(cfgs) == 0 {
		return consoleexp.New(consoleexp.Config{Pretty: true}), nil
	}

	backends := make([]export.Exporter, 0, len(cfgs))
	for _, c := range cfgs {
		backend, err := buildBackend(c)
		if err != nil {
			return nil, err
		}

		var wrapped export.Exporter = backend
		if c.SampleRate > 0 && c.SampleRate < 1 {
			wrapped = export.NewSampler(wrapped, export.SamplingConfig{Rate: c.SampleRate})
		}
		if c.BatchSize > 0 || c.BatchInterval > 0 {
			wrapped = export.NewBatcher(wrapped, export.BatchConfig{
				MaxBatchSize:  c.BatchSize,
				FlushInterval: c.BatchInterval,
			})
		}
		backends = append(backends, wrapped)
	}

	if len(backends) == 1 {
		return backends[0], nil
	}
	return export.NewMulti(backends...), nil
}

func buildBackend(c config.ExporterConfig) (export.Exporter, error) {
	switch c.Backend {
	case "console":
		return consoleexp.New(consoleexp.Config{Pretty: c.Pretty, Prefix: c.Prefix}), nil
	case "null":
		return consoleexp.NewNull(), nil
	case "statsd":
		return statsdexp.New(statsdexp.Config{Prefix: c.StatsdPrefix, Addrs: c.StatsdAddrs, Format: statsdFormat(c.StatsdFormat)})
	case "prometheus":
		return prometheusexp.New(), nil
	case "json":
		return fileexp.NewJSON(fileexp.JSONConfig{
			Rotation: fileexp.RotationConfig{Path: c.FilePath, MaxBytes: c.MaxBytes, MaxFiles: c.MaxFiles, Gzip: c.Gzip},
		})
	case "csv":
		return fileexp.NewCSV(fileexp.CSVConfig{
			Rotation: fileexp.RotationConfig{Path: c.FilePath, MaxBytes: c.MaxBytes, MaxFiles: c.MaxFiles, Gzip: c.Gzip},
		})
	case "redis":
		if c.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires redis_addr")
		}
		client := redisexp.NewGoRedisClient(goredis.NewClient(&goredis.Options{Addr: c.RedisAddr}))
		return redisexp.New(redisexp.Config{Client: client, Stream: c.RedisStream}), nil
	case "otel":
		mp := sdkmetric.NewMeterProvider()
		return otelexp.New(mp.Meter("pipelinekitctl")), nil
	default:
		return nil, fmt.Errorf("unknown exporter backend: %s", c.Backend)
	}
}
