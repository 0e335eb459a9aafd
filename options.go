package leash

import "time"

// Option configures a Rebalancer with optional dependencies.
type Option func(*rebalancerOptions)

// rebalancerOptions holds optional Rebalancer configuration.
type rebalancerOptions struct {
	hooks    *Hooks
	metrics  MetricsCollector
	logger   Logger
	workerID string
	clock    func() time.Time
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewRebalancer
//
// Example:
//
//	hooks := &leash.Hooks{
//	    OnError: func(ctx context.Context, err error) error {
//	        if leash.IsCoordinationOutage(err) {
//	            alert(err)
//	        }
//	        return nil
//	    },
//	}
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory, leash.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *rebalancerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewRebalancer
//
// Example:
//
//	collector := leash.NewPrometheusMetrics(prometheus.DefaultRegisterer, "leash")
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory, leash.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *rebalancerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation
//
// Returns:
//   - Option: Functional option for NewRebalancer
//
// Example:
//
//	logger := leash.NewZapLogger(zap.NewExample())
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory, leash.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *rebalancerOptions) {
		o.logger = logger
	}
}

// WithWorkerID fixes the worker ID, bypassing Config.Identity.
//
// Parameters:
//   - workerID: Worker ID; must be non-empty and must not contain '.'
//
// Returns:
//   - Option: Functional option for NewRebalancer
func WithWorkerID(workerID string) Option {
	return func(o *rebalancerOptions) {
		o.workerID = workerID
	}
}

// WithClock sets the time source used for liveness and staleness decisions.
// Intended for tests that drive a fake lease store clock.
func WithClock(clock func() time.Time) Option {
	return func(o *rebalancerOptions) {
		o.clock = clock
	}
}
