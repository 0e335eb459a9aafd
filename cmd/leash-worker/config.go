package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/leash"
	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/stream"
)

// Backend and transport names accepted in the worker configuration.
const (
	backendNATS    = "nats"
	backendS3      = "s3"
	backendMemory  = "memory"
	transportJS    = "jetstream"
	transportKDS   = "kinesis"
	defaultMetrics = ":9090"
)

// WorkerConfig is the YAML configuration of leash-worker. The rebalancer
// settings sit at the top level of the file.
type WorkerConfig struct {
	leash.Config `yaml:",inline"`

	LogLevel       string `yaml:"logLevel"`
	LogDevelopment bool   `yaml:"logDevelopment"`

	// MetricsAddr is the listen address of the /metrics endpoint; "-" disables it.
	MetricsAddr      string `yaml:"metricsAddr"`
	MetricsNamespace string `yaml:"metricsNamespace"`

	NATS NATSConfig `yaml:"nats"`
	AWS  AWSConfig  `yaml:"aws"`

	Leases      BackendConfig   `yaml:"leases"`
	Checkpoints BackendConfig   `yaml:"checkpoints"`
	Transport   TransportConfig `yaml:"transport"`
}

// NATSConfig selects the NATS server.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// AWSConfig selects the AWS region, endpoint and credentials shared by S3 and Kinesis.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"forcePathStyle"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
}

// BackendConfig selects a storage backend. Bucket names the KV bucket for
// "nats" and the S3 bucket for "s3".
type BackendConfig struct {
	Backend  string `yaml:"backend"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Replicas int    `yaml:"replicas"`
}

// TransportConfig selects the event stream.
type TransportConfig struct {
	Kind      string                 `yaml:"kind"`
	JetStream stream.JetStreamConfig `yaml:"jetstream"`
	Kinesis   stream.KinesisConfig   `yaml:"kinesis"`

	MaxBatchSize int           `yaml:"maxBatchSize"`
	MaxWaitTime  time.Duration `yaml:"maxWaitTime"`
}

// loadWorkerConfig reads, defaults and validates the file at path.
func loadWorkerConfig(path string) (*WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return parseWorkerConfig(data)
}

func parseWorkerConfig(data []byte) (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *WorkerConfig) setDefaults() {
	leash.SetDefaults(&c.Config)

	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetrics
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "leash"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "leash-worker"
	}
	if c.Leases.Backend == "" {
		c.Leases.Backend = backendNATS
	}
	if c.Leases.Bucket == "" && c.Leases.Backend == backendNATS {
		c.Leases.Bucket = "leash-leases"
	}
	if c.Checkpoints.Backend == "" {
		c.Checkpoints.Backend = c.Leases.Backend
	}
	if c.Checkpoints.Bucket == "" && c.Checkpoints.Backend == backendNATS {
		c.Checkpoints.Bucket = "leash-checkpoints"
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = transportJS
	}
}

func (c *WorkerConfig) validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	switch c.Leases.Backend {
	case backendNATS, backendS3:
	default:
		return fmt.Errorf("unknown lease backend %q", c.Leases.Backend)
	}
	switch c.Checkpoints.Backend {
	case backendNATS, backendS3, backendMemory:
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoints.Backend)
	}
	for name, b := range map[string]BackendConfig{"leases": c.Leases, "checkpoints": c.Checkpoints} {
		if b.Backend != backendMemory && b.Bucket == "" {
			return fmt.Errorf("%s: bucket is required for backend %q", name, b.Backend)
		}
	}

	switch c.Transport.Kind {
	case transportJS:
		if err := c.Transport.JetStream.Validate(); err != nil {
			return err
		}
	case transportKDS:
		if err := c.Transport.Kinesis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}

	if c.usesNATS() && c.NATS.URL == "" {
		return errors.New("nats.url is required by the selected backends")
	}
	if c.usesAWS() && c.AWS.Region == "" {
		return errors.New("aws.region is required by the selected backends")
	}

	return nil
}

func (c *WorkerConfig) usesNATS() bool {
	return c.Leases.Backend == backendNATS || c.Checkpoints.Backend == backendNATS || c.Transport.Kind == transportJS
}

func (c *WorkerConfig) usesAWS() bool {
	return c.Leases.Backend == backendS3 || c.Checkpoints.Backend == backendS3 || c.Transport.Kind == transportKDS
}

// sourceID fingerprints the configured stream for checkpoint keys.
func (c *WorkerConfig) sourceID() string {
	if c.Transport.Kind == transportKDS {
		return checkpoint.SourceID(transportKDS, c.Transport.Kinesis.StreamName)
	}

	return checkpoint.SourceID(transportJS, c.Transport.JetStream.Stream, c.Transport.JetStream.SubjectPrefix)
}

// streamConfig returns the per-partition reader settings.
func (c *WorkerConfig) streamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	if c.Transport.MaxBatchSize > 0 {
		cfg.MaxBatchSize = c.Transport.MaxBatchSize
	}
	if c.Transport.MaxWaitTime > 0 {
		cfg.MaxWaitTime = c.Transport.MaxWaitTime
	}
	cfg.CloseTimeout = min(cfg.CloseTimeout, c.StopTimeout)

	return cfg
}
