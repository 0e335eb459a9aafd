package leash

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/leash/types"
)

// Worker identity sources.
const (
	// IdentityUUID generates a random worker ID on every start.
	IdentityUUID = "uuid"
	// IdentityHostname uses the host name and process ID.
	IdentityHostname = "hostname"
	// IdentityStatic uses IdentityConfig.Static verbatim.
	IdentityStatic = "static"
	// IdentityStable claims the lowest free "prefix-N" ID from a numbered pool.
	IdentityStable = "stable"
)

// IdentityConfig selects how a worker identifies itself.
type IdentityConfig struct {
	// Source is one of "uuid", "hostname", "static" or "stable".
	// Default: "uuid".
	Source string `yaml:"source"`

	// Static is the worker ID when Source is "static".
	Static string `yaml:"static"`

	// Prefix, Min and Max define the "stable" pool: Prefix-Min .. Prefix-Max.
	Prefix string `yaml:"prefix"`
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`

	// TTL is the lease TTL of a stable ID claim, renewed every TTL/3.
	// Must outlive LivenessTTL so an ID is never reused while its previous
	// holder still counts as active.
	TTL time.Duration `yaml:"ttl"`
}

// KeyConfig sets the lease store key prefixes. Workers sharing a store and a
// stream must use the same prefixes; different streams must not.
type KeyConfig struct {
	// LivenessPrefix is the prefix of worker liveness records.
	LivenessPrefix string `yaml:"livenessPrefix"`

	// OwnershipPrefix is the prefix of partition ownership leases.
	OwnershipPrefix string `yaml:"ownershipPrefix"`
}

// ============================================================================
// Timing model
// ============================================================================
//
// Membership:
//   - HeartbeatInterval (15s): how often a worker refreshes its liveness record
//   - LivenessTTL (60s): a worker is active while its record is younger than this
//   - MembershipWatchInterval (30s): how often a running worker recounts workers
//
// Ownership:
//   - LeaseTTL (60s): validity of a partition lease after a claim or renewal
//   - RenewalInterval (20s): how often owned leases are renewed
//
// Acquisition:
//   - ClaimRetryDelay (1s): pause after a contended claim
//   - ScanRetryDelay (5s): pause before rescanning the catalog short of the fair share
//   - OutageRetryDelay (5s): pause before restarting a failed cycle
//
// Crash recovery time is bounded by LivenessTTL + MembershipWatchInterval
// (noticing the crash) plus LeaseTTL (waiting for its leases to expire).
//
// Constraints:
//   - RenewalInterval < LeaseTTL
//   - HeartbeatInterval < LivenessTTL
//
// ============================================================================

// Config is the configuration of a Rebalancer.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// Identity selects the worker ID source.
	Identity IdentityConfig `yaml:"identity"`

	// Keys sets the lease store key prefixes.
	Keys KeyConfig `yaml:"keys"`

	// LivenessTTL is how long a liveness record counts as active after its last refresh.
	LivenessTTL time.Duration `yaml:"livenessTtl"`

	// HeartbeatInterval is how often the worker refreshes its liveness record.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// LeaseTTL is the validity of a partition lease after each claim or renewal.
	LeaseTTL time.Duration `yaml:"leaseTtl"`

	// RenewalInterval is how often owned partition leases are renewed.
	RenewalInterval time.Duration `yaml:"renewalInterval"`

	// MembershipWatchInterval is how often the active worker count is rechecked.
	MembershipWatchInterval time.Duration `yaml:"membershipWatchInterval"`

	// ClaimRetryDelay is the pause after a contended partition claim.
	ClaimRetryDelay time.Duration `yaml:"claimRetryDelay"`

	// ScanRetryDelay is the pause before rescanning the catalog when the fair
	// share was not reached.
	ScanRetryDelay time.Duration `yaml:"scanRetryDelay"`

	// OutageRetryDelay is the pause before restarting a cycle that failed,
	// including coordination outages.
	OutageRetryDelay time.Duration `yaml:"outageRetryDelay"`

	// StalenessCheckInterval is how often partition leases are checked for staleness.
	StalenessCheckInterval time.Duration `yaml:"stalenessCheckInterval"`

	// StalenessThreshold is the age after which an unrenewed partition lease is reported stale.
	StalenessThreshold time.Duration `yaml:"stalenessThreshold"`

	// CheckpointInterval is how often stream progress is persisted while reading.
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`

	// StopTimeout bounds stopping the partition processor at the end of a cycle.
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

// DefaultConfig returns a Config with production defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			Source: IdentityUUID,
			Prefix: "worker",
			Min:    0,
			Max:    99,
			TTL:    2 * time.Minute,
		},
		Keys: KeyConfig{
			LivenessPrefix:  "liveness",
			OwnershipPrefix: "ownership",
		},
		LivenessTTL:             60 * time.Second,
		HeartbeatInterval:       15 * time.Second,
		LeaseTTL:                60 * time.Second,
		RenewalInterval:         20 * time.Second,
		MembershipWatchInterval: 30 * time.Second,
		ClaimRetryDelay:         time.Second,
		ScanRetryDelay:          5 * time.Second,
		OutageRetryDelay:        5 * time.Second,
		StalenessCheckInterval:  60 * time.Second,
		StalenessThreshold:      60 * time.Second,
		CheckpointInterval:      10 * time.Second,
		StopTimeout:             30 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Identity.Source == "" {
		cfg.Identity.Source = defaults.Identity.Source
	}
	if cfg.Identity.Prefix == "" {
		cfg.Identity.Prefix = defaults.Identity.Prefix
	}
	if cfg.Identity.Max == 0 {
		cfg.Identity.Max = defaults.Identity.Max
	}
	if cfg.Identity.TTL == 0 {
		cfg.Identity.TTL = defaults.Identity.TTL
	}
	if cfg.Keys.LivenessPrefix == "" {
		cfg.Keys.LivenessPrefix = defaults.Keys.LivenessPrefix
	}
	if cfg.Keys.OwnershipPrefix == "" {
		cfg.Keys.OwnershipPrefix = defaults.Keys.OwnershipPrefix
	}
	if cfg.LivenessTTL == 0 {
		cfg.LivenessTTL = defaults.LivenessTTL
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if cfg.RenewalInterval == 0 {
		cfg.RenewalInterval = defaults.RenewalInterval
	}
	if cfg.MembershipWatchInterval == 0 {
		cfg.MembershipWatchInterval = defaults.MembershipWatchInterval
	}
	if cfg.ClaimRetryDelay == 0 {
		cfg.ClaimRetryDelay = defaults.ClaimRetryDelay
	}
	if cfg.ScanRetryDelay == 0 {
		cfg.ScanRetryDelay = defaults.ScanRetryDelay
	}
	if cfg.OutageRetryDelay == 0 {
		cfg.OutageRetryDelay = defaults.OutageRetryDelay
	}
	if cfg.StalenessCheckInterval == 0 {
		cfg.StalenessCheckInterval = defaults.StalenessCheckInterval
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = defaults.StalenessThreshold
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = defaults.CheckpointInterval
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - Every duration is positive
//   - RenewalInterval < LeaseTTL (a renewed lease never lapses)
//   - HeartbeatInterval < LivenessTTL (a running worker never looks stale)
//   - Identity.Source is known; "static" needs Identity.Static; "stable" needs Min <= Max
//
// Returns:
//   - error: Validation error wrapping types.ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"LivenessTTL", cfg.LivenessTTL},
		{"HeartbeatInterval", cfg.HeartbeatInterval},
		{"LeaseTTL", cfg.LeaseTTL},
		{"RenewalInterval", cfg.RenewalInterval},
		{"MembershipWatchInterval", cfg.MembershipWatchInterval},
		{"ClaimRetryDelay", cfg.ClaimRetryDelay},
		{"ScanRetryDelay", cfg.ScanRetryDelay},
		{"OutageRetryDelay", cfg.OutageRetryDelay},
		{"StalenessCheckInterval", cfg.StalenessCheckInterval},
		{"StalenessThreshold", cfg.StalenessThreshold},
		{"StopTimeout", cfg.StopTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %v", types.ErrInvalidConfig, d.name, d.value)
		}
	}

	if cfg.RenewalInterval >= cfg.LeaseTTL {
		return fmt.Errorf("%w: RenewalInterval (%v) must be < LeaseTTL (%v) so leases are renewed before they expire",
			types.ErrInvalidConfig, cfg.RenewalInterval, cfg.LeaseTTL)
	}
	if cfg.HeartbeatInterval >= cfg.LivenessTTL {
		return fmt.Errorf("%w: HeartbeatInterval (%v) must be < LivenessTTL (%v) so running workers stay active",
			types.ErrInvalidConfig, cfg.HeartbeatInterval, cfg.LivenessTTL)
	}
	if cfg.Keys.LivenessPrefix == cfg.Keys.OwnershipPrefix {
		return fmt.Errorf("%w: liveness and ownership prefixes must differ", types.ErrInvalidConfig)
	}

	switch cfg.Identity.Source {
	case IdentityUUID, IdentityHostname:
	case IdentityStatic:
		if cfg.Identity.Static == "" {
			return fmt.Errorf("%w: identity source %q needs a static worker ID", types.ErrInvalidConfig, IdentityStatic)
		}
	case IdentityStable:
		if cfg.Identity.Prefix == "" || strings.Contains(cfg.Identity.Prefix, ".") {
			return fmt.Errorf("%w: identity prefix %q must be non-empty and must not contain '.'",
				types.ErrInvalidConfig, cfg.Identity.Prefix)
		}
		if cfg.Identity.Min > cfg.Identity.Max {
			return fmt.Errorf("%w: identity pool min (%d) exceeds max (%d)",
				types.ErrInvalidConfig, cfg.Identity.Min, cfg.Identity.Max)
		}
		if cfg.Identity.TTL <= 0 {
			return fmt.Errorf("%w: identity TTL must be > 0", types.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown identity source %q", types.ErrInvalidConfig, cfg.Identity.Source)
	}

	return nil
}

// ValidateWithWarnings logs warnings for valid but risky values.
//
// This is called after Validate() in NewRebalancer() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger types.Logger) {
	if cfg.RenewalInterval*2 > cfg.LeaseTTL {
		logger.Warn(
			"RenewalInterval leaves room for a single missed renewal at most",
			"renewalInterval", cfg.RenewalInterval,
			"leaseTTL", cfg.LeaseTTL,
			"recommended", cfg.LeaseTTL/3,
		)
	}

	if cfg.HeartbeatInterval*2 > cfg.LivenessTTL {
		logger.Warn(
			"HeartbeatInterval leaves room for a single missed heartbeat at most",
			"heartbeatInterval", cfg.HeartbeatInterval,
			"livenessTTL", cfg.LivenessTTL,
			"recommended", cfg.LivenessTTL/4,
		)
	}

	if cfg.StopTimeout >= cfg.LeaseTTL {
		logger.Warn(
			"StopTimeout is not shorter than LeaseTTL; leases may lapse while the processor stops",
			"stopTimeout", cfg.StopTimeout,
			"leaseTTL", cfg.LeaseTTL,
		)
	}

	if cfg.Identity.Source == IdentityStable && cfg.Identity.TTL < cfg.LivenessTTL {
		logger.Warn(
			"stable identity TTL is shorter than LivenessTTL; a released ID may be reused while still listed as active",
			"identityTTL", cfg.Identity.TTL,
			"livenessTTL", cfg.LivenessTTL,
		)
	}
}

// LoadConfig reads a YAML configuration file, applies defaults and validates it.
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - *Config: Loaded configuration
//   - error: Read, parse or validation error
//
// Example:
//
//	cfg, err := leash.LoadConfig("/etc/leash/worker.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, applies defaults and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Join(types.ErrInvalidConfig, fmt.Errorf("parse config: %w", err))
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are about 100x faster than production defaults. Use
// DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := leash.TestConfig()
//	rb, err := leash.NewRebalancer(&cfg, lease.NewMemoryStore(), catalog, factory)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.LivenessTTL = 600 * time.Millisecond
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.LeaseTTL = 600 * time.Millisecond
	cfg.RenewalInterval = 150 * time.Millisecond
	cfg.MembershipWatchInterval = 200 * time.Millisecond
	cfg.ClaimRetryDelay = 10 * time.Millisecond
	cfg.ScanRetryDelay = 100 * time.Millisecond
	cfg.OutageRetryDelay = 100 * time.Millisecond
	cfg.StalenessCheckInterval = 200 * time.Millisecond
	cfg.StalenessThreshold = 600 * time.Millisecond
	cfg.CheckpointInterval = 50 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	cfg.Identity.TTL = 3 * time.Second

	return cfg
}
