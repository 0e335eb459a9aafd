// Command leash-worker reads a partitioned event stream as one member of a
// worker group. Workers share partitions through leases and log every record
// they consume.
//
// Usage:
//
//	leash-worker -config worker.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/leash"
	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/metrics"
	"github.com/arloliu/leash/pinned"
	"github.com/arloliu/leash/source"
	"github.com/arloliu/leash/stream"
)

func main() {
	configPath := flag.String("config", "worker.yaml", "path of the worker configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "leash-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadWorkerConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewZap(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus(reg, cfg.MetricsNamespace)

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if cfg.Checkpoints.Backend == backendMemory {
		logger.Warn("memory checkpoints are not shared between workers; partitions moved between workers restart from the current time")
	}
	if err := resetForeignCheckpoints(ctx, b.checkpoints, cfg.sourceID(), logger); err != nil {
		return err
	}

	factory, err := pinned.NewFactory(b.transport, b.checkpoints, newLoggingConsumer(logger),
		pinned.WithStreamConfig(cfg.streamConfig()),
		pinned.WithCheckpointInterval(cfg.CheckpointInterval),
		pinned.WithLogger(logger),
		pinned.WithMetrics(collector),
	)
	if err != nil {
		return fmt.Errorf("create processor factory: %w", err)
	}

	rb, err := leash.NewRebalancer(&cfg.Config, b.leases, source.NewTransport(b.transport), factory,
		leash.WithLogger(logger),
		leash.WithMetrics(collector),
		leash.WithHooks(newHooks(logger)),
	)
	if err != nil {
		return fmt.Errorf("create rebalancer: %w", err)
	}

	srv := serveMetrics(cfg.MetricsAddr, reg, logger)

	if err := rb.Start(ctx); err != nil {
		return fmt.Errorf("start rebalancer: %w", err)
	}
	logger.Info("worker running", "workerID", rb.WorkerID(), "transport", cfg.Transport.Kind)

	<-ctx.Done()
	logger.Info("shutting down", "workerID", rb.WorkerID())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+5*time.Second)
	defer cancel()

	var errs []error
	if err := rb.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop rebalancer: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}

	return errors.Join(errs...)
}

// resetForeignCheckpoints removes the checkpoints of every other stream
// source, so a worker pointed at a new stream never resumes from positions
// recorded for the previous one.
func resetForeignCheckpoints(ctx context.Context, store checkpoint.Store, sourceID string, logger leash.Logger) error {
	if err := store.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset checkpoints: %w", err)
	}
	logger.Info("checkpoints of other stream sources removed", "sourceID", sourceID)

	return nil
}

// serveMetrics exposes reg on /metrics. It returns nil when addr is "-".
func serveMetrics(addr string, reg *prometheus.Registry, logger leash.Logger) *http.Server {
	if addr == "-" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return srv
}

func newHooks(logger leash.Logger) *leash.Hooks {
	return &leash.Hooks{
		OnOwnershipChanged: func(_ context.Context, owned []string) error {
			logger.Info("owned partitions changed", "owned", owned)
			return nil
		},
		OnError: func(_ context.Context, err error) error {
			if leash.IsCoordinationOutage(err) {
				logger.Error("coordination outage", "error", err)
			}

			return nil
		},
	}
}

// loggingConsumer logs every record it receives.
type loggingConsumer struct {
	logger leash.Logger
}

func newLoggingConsumer(logger leash.Logger) *loggingConsumer {
	return &loggingConsumer{logger: logger}
}

func (c *loggingConsumer) Consume(_ context.Context, rec stream.Record) error {
	if rec.NoData {
		c.logger.Debug("partition idle", "partition", rec.PartitionID)
		return nil
	}

	c.logger.Info("record",
		"partition", rec.PartitionID,
		"position", rec.Position,
		"enqueuedAt", rec.EnqueuedAt,
		"bytes", len(rec.Data),
	)

	return nil
}
