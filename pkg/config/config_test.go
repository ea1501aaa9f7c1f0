package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.Announcements.PerSecond = 5
	cfg.RateLimiting.Announcements.Burst = 10
	return cfg
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	// Zero out rate limiting values to ensure they are ignored when disabled.
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.Announcements.PerSecond = 0
	cfg.RateLimiting.Announcements.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "mode must be punch or relay",
			mutate: func(c *Config) {
				c.Rendezvous.Mode = "auto"
			},
		},
		{
			name: "session timeout must be > 0",
			mutate: func(c *Config) {
				c.Rendezvous.SessionTimeout = 0
			},
		},
		{
			name: "relay mapping timeout must be > 0",
			mutate: func(c *Config) {
				c.Relay.MappingTimeout = 0
			},
		},
		{
			name: "relay mode needs public ip",
			mutate: func(c *Config) {
				c.Rendezvous.Mode = ModeRelay
				c.Relay.PublicIP = ""
			},
		},
		{
			name: "peer port must fit in uint16",
			mutate: func(c *Config) {
				c.Peer.VideoPort = 70000
			},
		},
		{
			name: "registration timeout must be > 0",
			mutate: func(c *Config) {
				c.Peer.RegistrationTimeout = -time.Second
			},
		},
		{
			name: "unknown store backend",
			mutate: func(c *Config) {
				c.Store.Backend = "postgres"
			},
		},
		{
			name: "redis backend needs address",
			mutate: func(c *Config) {
				c.Store.Backend = StoreRedis
				c.Store.Redis.Address = ""
			},
		},
		{
			name: "sqlite backend needs path",
			mutate: func(c *Config) {
				c.Store.Backend = StoreSQLite
				c.Store.SQLite.Path = ""
			},
		},
		{
			name: "http enabled needs jwt secret",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.JWTSecret = ""
			},
		},
		{
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "announcement burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Announcements.Burst = 0
			},
		},
		{
			name: "tracing sample rate must be in range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got error: %v", err)
	}
	if cfg.Rendezvous.Address != ":8888" {
		t.Errorf("expected default rendezvous address, got %q", cfg.Rendezvous.Address)
	}
	if cfg.Rendezvous.Mode != ModePunch {
		t.Errorf("expected default mode %q, got %q", ModePunch, cfg.Rendezvous.Mode)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
rendezvous:
  address: ":9999"
  mode: relay
store:
  backend: sqlite
  sqlite:
    path: /tmp/test.db
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Rendezvous.Address != ":9999" {
		t.Errorf("expected address :9999, got %q", cfg.Rendezvous.Address)
	}
	if cfg.Rendezvous.Mode != ModeRelay {
		t.Errorf("expected relay mode, got %q", cfg.Rendezvous.Mode)
	}
	if cfg.Relay.MappingTimeout != 30*time.Second {
		t.Errorf("expected default mapping timeout, got %v", cfg.Relay.MappingTimeout)
	}
	if cfg.Store.Backend != StoreSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.Store.Backend)
	}
	// Untouched sections keep their defaults.
	if cfg.Peer.VideoPort != 6666 {
		t.Errorf("expected default video port, got %d", cfg.Peer.VideoPort)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CAMLINK_RENDEZVOUS_MODE", "relay")
	t.Setenv("CAMLINK_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Rendezvous.Mode != ModeRelay {
		t.Errorf("expected env-overridden relay mode, got %q", cfg.Rendezvous.Mode)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env-overridden debug level, got %q", cfg.Logging.Level)
	}
}
