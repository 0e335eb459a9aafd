package leash

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	leashtest "github.com/arloliu/leash/testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, IdentityUUID, cfg.Identity.Source)
	require.Equal(t, "worker", cfg.Identity.Prefix)
	require.Equal(t, 99, cfg.Identity.Max)
	require.Equal(t, 2*time.Minute, cfg.Identity.TTL)
	require.Equal(t, "liveness", cfg.Keys.LivenessPrefix)
	require.Equal(t, "ownership", cfg.Keys.OwnershipPrefix)
	require.Equal(t, 60*time.Second, cfg.LivenessTTL)
	require.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 60*time.Second, cfg.LeaseTTL)
	require.Equal(t, 20*time.Second, cfg.RenewalInterval)
	require.Equal(t, 30*time.Second, cfg.MembershipWatchInterval)
	require.Equal(t, time.Second, cfg.ClaimRetryDelay)
	require.Equal(t, 5*time.Second, cfg.ScanRetryDelay)
	require.Equal(t, 5*time.Second, cfg.OutageRetryDelay)
	require.Equal(t, 60*time.Second, cfg.StalenessCheckInterval)
	require.Equal(t, 60*time.Second, cfg.StalenessThreshold)
	require.Equal(t, 10*time.Second, cfg.CheckpointInterval)
	require.Equal(t, 30*time.Second, cfg.StopTimeout)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			Identity:          IdentityConfig{Source: IdentityStatic, Static: "w1"},
			Keys:              KeyConfig{LivenessPrefix: "alive", OwnershipPrefix: "owned"},
			LivenessTTL:       10 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			LeaseTTL:          12 * time.Second,
			RenewalInterval:   3 * time.Second,
		}
		SetDefaults(&cfg)

		require.Equal(t, IdentityStatic, cfg.Identity.Source)
		require.Equal(t, "w1", cfg.Identity.Static)
		require.Equal(t, "alive", cfg.Keys.LivenessPrefix)
		require.Equal(t, "owned", cfg.Keys.OwnershipPrefix)
		require.Equal(t, 10*time.Second, cfg.LivenessTTL)
		require.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
		require.Equal(t, 12*time.Second, cfg.LeaseTTL)
		require.Equal(t, 3*time.Second, cfg.RenewalInterval)
		require.Equal(t, 30*time.Second, cfg.MembershipWatchInterval)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"zero lease TTL", func(cfg *Config) { cfg.LeaseTTL = 0 }},
		{"negative claim retry", func(cfg *Config) { cfg.ClaimRetryDelay = -time.Second }},
		{"renewal not shorter than lease", func(cfg *Config) { cfg.RenewalInterval = cfg.LeaseTTL }},
		{"heartbeat not shorter than liveness", func(cfg *Config) { cfg.HeartbeatInterval = cfg.LivenessTTL }},
		{"same prefixes", func(cfg *Config) { cfg.Keys.OwnershipPrefix = cfg.Keys.LivenessPrefix }},
		{"static without ID", func(cfg *Config) { cfg.Identity.Source = IdentityStatic }},
		{"stable with dotted prefix", func(cfg *Config) {
			cfg.Identity.Source = IdentityStable
			cfg.Identity.Prefix = "a.b"
		}},
		{"stable with inverted pool", func(cfg *Config) {
			cfg.Identity.Source = IdentityStable
			cfg.Identity.Min = 10
			cfg.Identity.Max = 5
		}},
		{"unknown identity source", func(cfg *Config) { cfg.Identity.Source = "dns" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("valid identity sources", func(t *testing.T) {
		for _, source := range []string{IdentityUUID, IdentityHostname, IdentityStable} {
			cfg := DefaultConfig()
			cfg.Identity.Source = source
			require.NoError(t, cfg.Validate(), source)
		}

		cfg := DefaultConfig()
		cfg.Identity.Source = IdentityStatic
		cfg.Identity.Static = "worker-7"
		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenewalInterval = 50 * time.Second
	cfg.StopTimeout = 2 * time.Minute

	require.NoError(t, cfg.Validate())
	cfg.ValidateWithWarnings(leashtest.NewTestLogger(t))
}

func TestParseConfig(t *testing.T) {
	t.Run("parses durations and applies defaults", func(t *testing.T) {
		data := []byte(`
identity:
  source: stable
  prefix: orders
  min: 1
  max: 16
keys:
  livenessPrefix: orders-alive
  ownershipPrefix: orders-owned
livenessTtl: 20s
heartbeatInterval: 5s
leaseTtl: 30s
renewalInterval: 10s
`)
		cfg, err := ParseConfig(data)
		require.NoError(t, err)

		require.Equal(t, IdentityStable, cfg.Identity.Source)
		require.Equal(t, "orders", cfg.Identity.Prefix)
		require.Equal(t, 1, cfg.Identity.Min)
		require.Equal(t, 16, cfg.Identity.Max)
		require.Equal(t, 2*time.Minute, cfg.Identity.TTL)
		require.Equal(t, "orders-alive", cfg.Keys.LivenessPrefix)
		require.Equal(t, 20*time.Second, cfg.LivenessTTL)
		require.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
		require.Equal(t, 30*time.Second, cfg.LeaseTTL)
		require.Equal(t, 10*time.Second, cfg.RenewalInterval)
		require.Equal(t, 30*time.Second, cfg.MembershipWatchInterval)
	})

	t.Run("rejects malformed YAML", func(t *testing.T) {
		_, err := ParseConfig([]byte("leaseTtl: [unclosed"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		_, err := ParseConfig([]byte("leaseTtl: 5s\nrenewalInterval: 10s\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity:\n  source: hostname\nleaseTtl: 45s\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, IdentityHostname, cfg.Identity.Source)
	require.Equal(t, 45*time.Second, cfg.LeaseTTL)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.LeaseTTL, DefaultConfig().LeaseTTL)
	require.Greater(t, cfg.Identity.TTL, cfg.LivenessTTL)
}
