package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leash"
	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/internal/objstore"
	"github.com/arloliu/leash/lease"
	"github.com/arloliu/leash/stream"
)

// backends holds the opened lease store, checkpoint store and transport.
type backends struct {
	leases      lease.Store
	checkpoints checkpoint.Store
	transport   stream.Transport

	nc *nats.Conn
}

// Close releases the NATS connection.
func (b *backends) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}

// openBackends connects to NATS and AWS as the configuration requires and
// builds the three backends.
func openBackends(ctx context.Context, cfg *WorkerConfig, logger leash.Logger) (*backends, error) {
	b := &backends{}

	var js jetstream.JetStream
	if cfg.usesNATS() {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.nc = nc

		js, err = jetstream.New(nc)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("init jetstream: %w", err)
		}
	}

	var err error
	if b.leases, err = openLeaseStore(ctx, cfg, js); err != nil {
		b.Close()
		return nil, err
	}
	if b.checkpoints, err = openCheckpointStore(ctx, cfg, js); err != nil {
		b.Close()
		return nil, err
	}
	if b.transport, err = openTransport(ctx, cfg, js); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func openLeaseStore(ctx context.Context, cfg *WorkerConfig, js jetstream.JetStream) (lease.Store, error) {
	if cfg.Leases.Backend == backendS3 {
		client, err := newS3Client(ctx, cfg, cfg.Leases)
		if err != nil {
			return nil, err
		}

		return lease.NewS3Store(client, cfg.Leases.Bucket, cfg.Leases.Prefix), nil
	}

	store, err := lease.OpenNATSStore(ctx, js, lease.BucketSpec{
		Name:        cfg.Leases.Bucket,
		Description: "leash worker liveness and partition leases",
		Replicas:    cfg.Leases.Replicas,
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}

func openCheckpointStore(ctx context.Context, cfg *WorkerConfig, js jetstream.JetStream) (checkpoint.Store, error) {
	sourceID := cfg.sourceID()

	switch cfg.Checkpoints.Backend {
	case backendMemory:
		return checkpoint.NewMemoryStore(sourceID), nil
	case backendS3:
		client, err := newS3Client(ctx, cfg, cfg.Checkpoints)
		if err != nil {
			return nil, err
		}

		return checkpoint.NewS3Store(client, cfg.Checkpoints.Bucket, cfg.Checkpoints.Prefix, sourceID), nil
	}

	store, err := checkpoint.OpenNATSStore(ctx, js, checkpoint.BucketSpec{
		Name:        cfg.Checkpoints.Bucket,
		Description: "leash partition checkpoints",
		Replicas:    cfg.Checkpoints.Replicas,
	}, sourceID)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func openTransport(ctx context.Context, cfg *WorkerConfig, js jetstream.JetStream) (stream.Transport, error) {
	if cfg.Transport.Kind == transportKDS {
		awsCfg, err := objstore.LoadAWSConfig(ctx, cfg.AWS.Region, cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken)
		if err != nil {
			return nil, err
		}
		client := kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})

		transport, err := stream.NewKinesisTransport(client, cfg.Transport.Kinesis)
		if err != nil {
			return nil, err
		}

		return transport, nil
	}

	transport, err := stream.NewJetStreamTransport(js, cfg.Transport.JetStream)
	if err != nil {
		return nil, err
	}

	return transport, nil
}

func newS3Client(ctx context.Context, cfg *WorkerConfig, backend BackendConfig) (*s3.Client, error) {
	client, err := objstore.NewClient(ctx, objstore.Config{
		Bucket:          backend.Bucket,
		Prefix:          backend.Prefix,
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		ForcePathStyle:  cfg.AWS.ForcePathStyle,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return client, nil
}
