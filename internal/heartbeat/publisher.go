package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoWorkerID     = errors.New("worker ID not set")
)

// Registrar writes the liveness record of one worker.
//
// *coordinator.Coordinator satisfies it.
type Registrar interface {
	RegisterWorker(ctx context.Context) error
}

// Publisher refreshes a worker's liveness record at a fixed interval.
//
// Other workers count the worker as active while the record is fresher than the
// liveness TTL, so the interval must be well below it (typically a quarter).
// Stop does not delete the record: it simply stops being refreshed and expires.
type Publisher struct {
	registrar Registrar
	workerID  string
	interval  time.Duration
	metrics   types.WorkerMetrics
	logger    types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	ticker  *time.Ticker
}

// New creates a new heartbeat publisher.
//
// Parameters:
//   - registrar: Writes the liveness record (usually the worker's coordinator)
//   - workerID: Worker ID, used for logs and metrics
//   - interval: Refresh interval (typically 15s against a 60s liveness TTL)
//
// Returns:
//   - *Publisher: New heartbeat publisher instance
//
// Example:
//
//	coord, _ := coordinator.New(store, "worker-1", coordinator.Config{})
//	publisher := heartbeat.New(coord, "worker-1", 15*time.Second)
func New(registrar Registrar, workerID string, interval time.Duration) *Publisher {
	return &Publisher{
		registrar: registrar,
		workerID:  workerID,
		interval:  interval,
		logger:    logging.NewNop(),
	}
}

// SetMetrics sets the metrics collector for heartbeat events.
//
// Optional. If not set, metrics are not recorded.
//
// Parameters:
//   - metrics: Metrics collector instance
func (p *Publisher) SetMetrics(metrics types.WorkerMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics = metrics
}

// SetLogger sets the logger for failed refreshes.
func (p *Publisher) SetLogger(logger types.Logger) {
	if logger == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger = logger
}

// Start registers the worker immediately, then refreshes the record in the
// background until Stop is called.
//
// Parameters:
//   - ctx: Context for the initial registration
//
// Returns:
//   - error: ErrAlreadyStarted if already running, ErrNoWorkerID if worker ID not set,
//     or the initial registration error
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	if p.workerID == "" {
		return ErrNoWorkerID
	}

	err := p.publish(ctx)
	recordMetric(p.metrics, p.workerID, err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)

	go p.publishLoop(p.ticker, p.stopCh, p.doneCh)

	return nil
}

// Stop stops refreshing. It blocks until the background goroutine exits.
//
// Returns:
//   - error: ErrNotStarted if not running
func (p *Publisher) Stop() error {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}

	p.ticker.Stop()
	close(p.stopCh)
	p.started = false
	doneCh := p.doneCh

	p.mu.Unlock()

	<-doneCh

	return nil
}

func (p *Publisher) publishLoop(ticker *time.Ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			err := p.publish(ctx)
			cancel()

			logger, metrics := p.observers()
			recordMetric(metrics, p.workerID, err == nil)
			if err != nil {
				logger.Warn("heartbeat failed", "worker", p.workerID, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	if err := p.registrar.RegisterWorker(ctx); err != nil {
		return fmt.Errorf("failed to publish heartbeat for %s: %w", p.workerID, err)
	}

	return nil
}

// recordMetric records heartbeat success/failure to metrics collector.
func recordMetric(metrics types.WorkerMetrics, workerID string, success bool) {
	if metrics != nil {
		metrics.RecordHeartbeat(workerID, success)
	}
}

func (p *Publisher) observers() (types.Logger, types.WorkerMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.logger, p.metrics
}

// WorkerID returns the worker ID.
//
// Returns:
//   - string: Worker ID
func (p *Publisher) WorkerID() string {
	return p.workerID
}

// IsStarted returns whether the publisher is currently running.
//
// Returns:
//   - bool: true if started, false otherwise
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}
