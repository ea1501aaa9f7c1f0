package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Rendezvous server reply strategies. Punch hands each side the other's real
// address; relay hands both sides the relay's own address and installs
// forwarding mappings. The strategy is an explicit deployment decision, never
// an automatic fallback.
const (
	ModePunch = "punch"
	ModeRelay = "relay"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	Rendezvous struct {
		Address        string        `yaml:"address"`
		Mode           string        `yaml:"mode"`
		SessionTimeout time.Duration `yaml:"session_timeout"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
		AccessControl  bool          `yaml:"access_control"`
	} `yaml:"rendezvous"`

	Relay struct {
		// PublicIP is the address advertised to matched peers in relay mode.
		PublicIP       string        `yaml:"public_ip"`
		MappingTimeout time.Duration `yaml:"mapping_timeout"`
		SweepInterval  time.Duration `yaml:"sweep_interval"`
	} `yaml:"relay"`

	Peer struct {
		RendezvousAddress   string        `yaml:"rendezvous_address"`
		VideoPort           int           `yaml:"video_port"`
		ControlPort         int           `yaml:"control_port"`
		AnnounceTimeout     time.Duration `yaml:"announce_timeout"`
		RetryInterval       time.Duration `yaml:"retry_interval"`
		RegistrationTimeout time.Duration `yaml:"registration_timeout"`
		HandshakeInterval   time.Duration `yaml:"handshake_interval"`
		HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	} `yaml:"peer"`

	Store struct {
		Backend string `yaml:"backend"`

		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`

		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"store"`

	HTTP struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		JWTSecret       string        `yaml:"jwt_secret"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		Announcements struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"announcements"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Rendezvous
	if c.Rendezvous.Address == "" {
		return fmt.Errorf("rendezvous.address must not be empty")
	}
	if c.Rendezvous.Mode != ModePunch && c.Rendezvous.Mode != ModeRelay {
		return fmt.Errorf("rendezvous.mode must be %q or %q", ModePunch, ModeRelay)
	}
	if c.Rendezvous.SessionTimeout <= 0 {
		return fmt.Errorf("rendezvous.session_timeout must be > 0")
	}
	if c.Rendezvous.SweepInterval <= 0 {
		return fmt.Errorf("rendezvous.sweep_interval must be > 0")
	}

	// Relay
	if c.Rendezvous.Mode == ModeRelay && c.Relay.PublicIP == "" {
		return fmt.Errorf("relay.public_ip must not be empty when rendezvous.mode=relay")
	}
	if c.Relay.MappingTimeout <= 0 {
		return fmt.Errorf("relay.mapping_timeout must be > 0")
	}
	if c.Relay.SweepInterval <= 0 {
		return fmt.Errorf("relay.sweep_interval must be > 0")
	}

	// Peer
	if c.Peer.RendezvousAddress == "" {
		return fmt.Errorf("peer.rendezvous_address must not be empty")
	}
	if c.Peer.VideoPort < 0 || c.Peer.VideoPort > 65535 {
		return fmt.Errorf("peer.video_port must be in [0, 65535]")
	}
	if c.Peer.ControlPort < 0 || c.Peer.ControlPort > 65535 {
		return fmt.Errorf("peer.control_port must be in [0, 65535]")
	}
	if c.Peer.AnnounceTimeout <= 0 {
		return fmt.Errorf("peer.announce_timeout must be > 0")
	}
	if c.Peer.RetryInterval <= 0 {
		return fmt.Errorf("peer.retry_interval must be > 0")
	}
	if c.Peer.RegistrationTimeout <= 0 {
		return fmt.Errorf("peer.registration_timeout must be > 0")
	}
	if c.Peer.HandshakeInterval <= 0 {
		return fmt.Errorf("peer.handshake_interval must be > 0")
	}
	if c.Peer.HandshakeTimeout <= 0 {
		return fmt.Errorf("peer.handshake_timeout must be > 0")
	}

	// Store
	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address must not be empty when store.backend=redis")
		}
		if c.Store.Redis.PoolSize <= 0 {
			return fmt.Errorf("store.redis.pool_size must be > 0 when store.backend=redis")
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must not be empty when store.backend=sqlite")
		}
	default:
		return fmt.Errorf("store.backend must be one of %q, %q, %q", StoreMemory, StoreRedis, StoreSQLite)
	}

	// HTTP
	if c.HTTP.Enabled {
		if c.HTTP.Address == "" {
			return fmt.Errorf("http.address must not be empty when http.enabled=true")
		}
		if c.HTTP.JWTSecret == "" {
			return fmt.Errorf("http.jwt_secret must not be empty when http.enabled=true")
		}
		if c.HTTP.ShutdownTimeout <= 0 {
			return fmt.Errorf("http.shutdown_timeout must be > 0 when http.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Announcements.PerSecond <= 0 {
			return fmt.Errorf("rate_limiting.announcements.per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Announcements.Burst <= 0 {
			return fmt.Errorf("rate_limiting.announcements.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Rendezvous.Address = ":8888"
	cfg.Rendezvous.Mode = ModePunch
	cfg.Rendezvous.SessionTimeout = 10 * time.Second
	cfg.Rendezvous.SweepInterval = 5 * time.Second
	cfg.Rendezvous.AccessControl = false

	cfg.Relay.PublicIP = "127.0.0.1"
	cfg.Relay.MappingTimeout = 30 * time.Second
	cfg.Relay.SweepInterval = 5 * time.Second

	cfg.Peer.RendezvousAddress = "127.0.0.1:8888"
	cfg.Peer.VideoPort = 6666
	cfg.Peer.ControlPort = 6668
	cfg.Peer.AnnounceTimeout = 1 * time.Second
	cfg.Peer.RetryInterval = 5 * time.Second
	cfg.Peer.RegistrationTimeout = 300 * time.Second
	cfg.Peer.HandshakeInterval = 1 * time.Second
	cfg.Peer.HandshakeTimeout = 15 * time.Second

	cfg.Store.Backend = StoreMemory
	cfg.Store.Redis.Address = "localhost:6379"
	cfg.Store.Redis.DB = 0
	cfg.Store.Redis.PoolSize = 10
	cfg.Store.SQLite.Path = "camlink.db"

	cfg.HTTP.Enabled = false
	cfg.HTTP.Address = ":8080"
	cfg.HTTP.JWTSecret = "change-me-in-production"
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.Announcements.PerSecond = 10
	cfg.RateLimiting.Announcements.Burst = 20

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("CAMLINK_RENDEZVOUS_ADDRESS"); addr != "" {
		c.Rendezvous.Address = addr
	}
	if mode := os.Getenv("CAMLINK_RENDEZVOUS_MODE"); mode != "" {
		c.Rendezvous.Mode = mode
	}
	if ip := os.Getenv("CAMLINK_RELAY_PUBLIC_IP"); ip != "" {
		c.Relay.PublicIP = ip
	}
	if addr := os.Getenv("CAMLINK_PEER_RENDEZVOUS_ADDRESS"); addr != "" {
		c.Peer.RendezvousAddress = addr
	}
	if backend := os.Getenv("CAMLINK_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
	if addr := os.Getenv("CAMLINK_REDIS_ADDRESS"); addr != "" {
		c.Store.Redis.Address = addr
	}
	if level := os.Getenv("CAMLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CAMLINK_JWT_SECRET"); secret != "" {
		c.HTTP.JWTSecret = secret
	}
}
