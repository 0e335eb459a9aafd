// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 10 * time.Millisecond
)

// BucketSpec describes a KV bucket used by the coordination layer.
type BucketSpec struct {
	// Name is the bucket name.
	Name string
	// Description is stored with the bucket for operators.
	Description string
	// TTL expires entries server-side; 0 keeps them until deleted.
	TTL time.Duration
	// Replicas is the JetStream replication factor (default 1).
	Replicas int
	// Memory selects memory storage instead of file storage.
	Memory bool
}

// Config converts the spec into a jetstream.KeyValueConfig.
//
// History is pinned to 1: the coordination records only ever need their latest
// revision, and revision numbers are what conditional updates compare against.
func (s BucketSpec) Config() jetstream.KeyValueConfig {
	storage := jetstream.FileStorage
	if s.Memory {
		storage = jetstream.MemoryStorage
	}
	replicas := s.Replicas
	if replicas <= 0 {
		replicas = 1
	}

	return jetstream.KeyValueConfig{
		Bucket:      s.Name,
		Description: s.Description,
		TTL:         s.TTL,
		History:     1,
		Storage:     storage,
		Replicas:    replicas,
	}
}

// EnsureKVBucketWithRetry creates or opens a KV bucket with retry logic.
//
// Several workers usually start at the same time and race to create the same
// bucket. A create that loses the race opens the existing bucket instead; other
// failures are retried with exponential backoff.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (defaults to 3 when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Any error that occurred after all retries
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, kvutil.BucketSpec{Name: "leash-leases"}.Config(), 3)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = defaultAttempts
	}

	var lastErr error
	for attempt := range maxRetries {
		kv, err := openOrCreate(ctx, js, config)
		if err == nil {
			return kv, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := defaultBackoff << uint(attempt) //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// Ensure is EnsureKVBucketWithRetry for a BucketSpec with the default attempt count.
func Ensure(ctx context.Context, js jetstream.JetStream, spec BucketSpec) (jetstream.KeyValue, error) {
	return EnsureKVBucketWithRetry(ctx, js, spec.Config(), defaultAttempts)
}

func openOrCreate(ctx context.Context, js jetstream.JetStream, config jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, config)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketExists) {
		return nil, err
	}

	kv, err = js.KeyValue(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists but failed to open: %w", err)
	}

	return kv, nil
}
