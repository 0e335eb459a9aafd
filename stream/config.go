package stream

import (
	"errors"
	"time"
)

// Config configures a Processor.
type Config struct {
	// OwnerID identifies this processor in the ownership store.
	OwnerID string

	// MaxBatchSize caps records per ProcessBatch call.
	MaxBatchSize int

	// MaxWaitTime is how long a pump waits for data before delivering an empty batch.
	MaxWaitTime time.Duration

	// LoadBalancingInterval is the period of the discovery and ownership pass.
	LoadBalancingInterval time.Duration

	// OwnershipExpiration is how long an ownership entry stays valid without refresh.
	OwnershipExpiration time.Duration

	// CloseTimeout bounds each PartitionHandler.Close call.
	CloseTimeout time.Duration

	// DefaultStart is used when the handler returns the zero StartPosition.
	DefaultStart StartPosition

	// RetryBase, RetryMultiplier and RetryCap shape the jittered backoff
	// between re-initializations of a faulted partition.
	RetryBase       time.Duration
	RetryMultiplier float64
	RetryCap        time.Duration

	// RetrySeed makes backoff jitter deterministic when non-zero.
	RetrySeed int64
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:          100,
		MaxWaitTime:           time.Second,
		LoadBalancingInterval: 10 * time.Second,
		OwnershipExpiration:   time.Minute,
		CloseTimeout:          10 * time.Second,
		DefaultStart:          Latest(),
		RetryBase:             200 * time.Millisecond,
		RetryMultiplier:       2,
		RetryCap:              10 * time.Second,
	}
}

// SetDefaults fills zero fields from DefaultConfig.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = d.MaxWaitTime
	}
	if c.LoadBalancingInterval <= 0 {
		c.LoadBalancingInterval = d.LoadBalancingInterval
	}
	if c.OwnershipExpiration <= 0 {
		c.OwnershipExpiration = d.OwnershipExpiration
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.DefaultStart.IsZero() {
		c.DefaultStart = d.DefaultStart
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = d.RetryMultiplier
	}
	if c.RetryCap <= 0 {
		c.RetryCap = d.RetryCap
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return errors.New("stream: owner id is required")
	}
	if c.OwnershipExpiration <= c.LoadBalancingInterval {
		return errors.New("stream: ownership expiration must exceed the load balancing interval")
	}

	return nil
}
