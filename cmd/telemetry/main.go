package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/theburgerllc/nycayen-telemetry/internal/beacon"
	"github.com/theburgerllc/nycayen-telemetry/internal/collector"
	"github.com/theburgerllc/nycayen-telemetry/internal/config"
	"github.com/theburgerllc/nycayen-telemetry/internal/core/storage/postgres"
	"github.com/theburgerllc/nycayen-telemetry/internal/delivery"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
	"github.com/theburgerllc/nycayen-telemetry/internal/metrics"
	"github.com/theburgerllc/nycayen-telemetry/internal/migrations"
	"github.com/theburgerllc/nycayen-telemetry/internal/pipeline"
	"github.com/theburgerllc/nycayen-telemetry/internal/providers"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema/api"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema/builtin"
	"github.com/theburgerllc/nycayen-telemetry/internal/server"
)

const closeTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "telemetry.yaml", "Path to configuration file")
	checkOnly := pflag.Bool("check", false, "Validate configuration and schemas, then exit")
	pflag.Parse()

	// 0. Initialize Logger (reconfigured once the config is known)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("Loaded config", "path", *configPath)

	if err := run(cfg, *checkOnly); err != nil {
		slog.Error("Telemetry stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(cfg *config.Config, checkOnly bool) error {
	// 2. Schema Registry (built-ins plus optional directory)
	registry, err := builtin.NewRegistry()
	if err != nil {
		return fmt.Errorf("built-in schemas: %w", err)
	}
	if cfg.Schema.Path != "" {
		n, err := registry.LoadDir(cfg.Schema.Path)
		if err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
		slog.Info("Loaded custom schemas", "path", cfg.Schema.Path, "count", n)
	}
	if checkOnly {
		slog.Info("Configuration is valid", "schemas", len(registry.Names()))
		return nil
	}

	// 3. Durable storage; failure degrades to memory for this lifetime
	store, err := kv.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		slog.Warn("Durable storage unavailable, falling back to memory", "driver", cfg.Storage.Driver, "error", err)
		store = kv.NewMemoryStore()
	}
	defer store.Close()

	// 4. Metrics
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var snapshot *metrics.Snapshot
	if cfg.Metrics.Enabled {
		snapshot = metrics.NewSnapshot()
		recorder = snapshot.Recorder()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := snapshot.Shutdown(ctx); err != nil {
				slog.Warn("Failed to shut down meter provider", "error", err)
			}
		}()
	}

	// 5. Delivery and providers
	sender, err := newSender(cfg.Pipeline)
	if err != nil {
		return err
	}
	fanout := providers.NewFanOut(providers.WithRecorder(recorder))
	if err := providers.Build(fanout, cfg.Providers); err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Pipeline
	pipe := pipeline.New(ctx, pipeline.Config{
		BatchSize:             cfg.Pipeline.BatchSize,
		FlushInterval:         cfg.Pipeline.FlushIntervalDuration(),
		AttributionWindowDays: cfg.Pipeline.AttributionWindowDays,
		MaxTouchpoints:        cfg.Pipeline.MaxTouchpoints,
		SiteHost:              cfg.Pipeline.SiteHost,
	}, pipeline.Deps{
		Registry: registry,
		Durable:  store,
		Sender:   sender,
		FanOut:   fanout,
		Recorder: recorder,
	})
	pipe.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := pipe.Close(closeCtx); err != nil {
			slog.Warn("Pipeline closed with undelivered events", "error", err)
		}
	}()

	// 7. HTTP surfaces
	srv := server.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode)
	srv.AddHealthCheck("storage", store)
	api.NewService(registry).RegisterRoutes(srv.Engine)
	if snapshot != nil {
		srv.Engine.GET("/metrics", snapshot.Handler)
	}

	if cfg.Beacon.Enabled {
		beaconSvc, err := beacon.NewService(pipe, cfg.Server.MaxBodySizeMB)
		if err != nil {
			return err
		}
		beaconSvc.RegisterRoutes(srv.Engine)
	}

	if cfg.Collector.Enabled {
		adapter, err := postgres.NewAdapter(
			cfg.Collector.DSN,
			cfg.Collector.MaxOpenConns,
			cfg.Collector.MaxIdleConns,
			migrations.Runner(cfg.Collector.AutoMigrate),
		)
		if err != nil {
			return fmt.Errorf("collector database: %w", err)
		}
		defer adapter.Close()

		collectorSvc, err := collector.NewService(adapter, recorder, cfg.Server.MaxBodySizeMB)
		if err != nil {
			return err
		}
		defer collectorSvc.Close()
		collectorSvc.RegisterRoutes(srv.Engine)
		srv.AddHealthCheck("collector", adapter)
	}

	// 8. Run until a signal arrives or the server fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		drainDiagnostics(gctx, pipe.Diagnostics())
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("Shutting down, flushing pending events...")
	return err
}

// newSender fans one batch out to every configured collector. With no
// endpoints, events are tracked and fanned out to providers but dropped
// at delivery.
func newSender(cfg config.PipelineConfig) (delivery.Sender, error) {
	compression, err := delivery.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	senders := make(delivery.MultiSender, 0, len(cfg.CollectorEndpoints))
	for _, endpoint := range cfg.CollectorEndpoints {
		s, err := delivery.NewHTTPSender(endpoint, delivery.HTTPSenderOptions{
			Timeout:     cfg.RequestTimeoutDuration(),
			Compression: compression,
		})
		if err != nil {
			return nil, fmt.Errorf("collector endpoint %s: %w", endpoint, err)
		}
		senders = append(senders, s)
	}

	switch len(senders) {
	case 0:
		slog.Warn("No collector endpoints configured, delivered batches are discarded")
		return delivery.DiscardSender{}, nil
	case 1:
		return senders[0], nil
	default:
		return senders, nil
	}
}

// drainDiagnostics keeps the side channel flowing. The pipeline already
// logs each report; this only counts them at debug level.
func drainDiagnostics(ctx context.Context, diags <-chan pipeline.Diagnostic) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-diags:
			slog.Debug("Diagnostic drained", "kind", d.Kind, "event", d.Event)
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
