package leash

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/metrics"
)

// NewSlogLogger adapts a log/slog logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) Logger {
	return logging.NewSlog(logger)
}

// NewZapLogger adapts a zap logger. A nil logger discards everything.
func NewZapLogger(logger *zap.Logger) Logger {
	return logging.FromZap(logger)
}

// NewPrometheusMetrics returns a MetricsCollector that registers its series
// with reg under namespace on first use.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory,
//	    leash.WithMetrics(leash.NewPrometheusMetrics(reg, "leash")))
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}
