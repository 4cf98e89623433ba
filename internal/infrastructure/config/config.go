package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Kernel    KernelConfig
	Sched     SchedConfig
	Boot      BootConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Port    string `envconfig:"IPCORE_PORT" default:"8700"`
	Host    string `envconfig:"IPCORE_HOST" default:"127.0.0.1"`
	Enabled bool   `envconfig:"IPCORE_HTTP_ENABLED" default:"true"`

	// CORSOrigins lists browser origins allowed to call the admin API. Empty allows localhost only.
	CORSOrigins []string `envconfig:"IPCORE_CORS_ORIGINS"`
}

// KernelConfig holds kernel table sizes and limits.
type KernelConfig struct {
	MaxProcs       int    `envconfig:"KERNEL_MAX_PROCS" default:"256"`
	GrantTableSize int    `envconfig:"KERNEL_GRANT_TABLE_SIZE" default:"256"`
	MaxGrantDepth  int    `envconfig:"KERNEL_MAX_GRANT_DEPTH" default:"5"`
	SenderQueue    int    `envconfig:"KERNEL_SENDER_QUEUE" default:"64"`
	AsyncTable     int    `envconfig:"KERNEL_ASYNC_TABLE" default:"64"`
	MemorySize     uint64 `envconfig:"KERNEL_MEMORY_SIZE" default:"65536"`
}

// SchedConfig holds scheduling delegation limits.
type SchedConfig struct {
	MaxHops        int `envconfig:"SCHED_MAX_HOPS" default:"4"`
	DefaultQuantum int `envconfig:"SCHED_DEFAULT_QUANTUM" default:"200"`
	Queues         int `envconfig:"SCHED_QUEUES" default:"16"`
}

// BootConfig points at the boot manifest.
type BootConfig struct {
	Manifest string `envconfig:"BOOT_MANIFEST" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	IdleTTL           time.Duration `envconfig:"RATE_LIMIT_IDLE_TTL" default:"10m"`
	ToolsPerSecond    int           `envconfig:"RATE_LIMIT_TOOLS_RPS" default:"20"`
	Enabled           bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8700",
			Host:    "127.0.0.1",
			Enabled: true,
		},
		Kernel: KernelConfig{
			MaxProcs:       256,
			GrantTableSize: 256,
			MaxGrantDepth:  5,
			SenderQueue:    64,
			AsyncTable:     64,
			MemorySize:     64 * 1024,
		},
		Sched: SchedConfig{
			MaxHops:        4,
			DefaultQuantum: 200,
			Queues:         16,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			IdleTTL:           10 * time.Minute,
			ToolsPerSecond:    20,
			Enabled:           true,
		},
	}
}

// Validate checks limits that the kernel cannot work with.
func (c *Config) Validate() error {
	k := c.Kernel
	switch {
	case k.MaxProcs <= 0 || k.MaxProcs > endpoint.MaxSlots:
		return fmt.Errorf("KERNEL_MAX_PROCS must be in 1..%d, got %d", endpoint.MaxSlots, k.MaxProcs)
	case k.GrantTableSize <= 0 || k.GrantTableSize > grant.MaxSlots:
		return fmt.Errorf("KERNEL_GRANT_TABLE_SIZE must be in 1..%d, got %d", grant.MaxSlots, k.GrantTableSize)
	case k.MaxGrantDepth <= 0:
		return fmt.Errorf("KERNEL_MAX_GRANT_DEPTH must be positive, got %d", k.MaxGrantDepth)
	case k.SenderQueue <= 0:
		return fmt.Errorf("KERNEL_SENDER_QUEUE must be positive, got %d", k.SenderQueue)
	case k.AsyncTable <= 0:
		return fmt.Errorf("KERNEL_ASYNC_TABLE must be positive, got %d", k.AsyncTable)
	case k.MemorySize == 0:
		return fmt.Errorf("KERNEL_MEMORY_SIZE must be positive")
	}

	s := c.Sched
	switch {
	case s.MaxHops <= 0:
		return fmt.Errorf("SCHED_MAX_HOPS must be positive, got %d", s.MaxHops)
	case s.DefaultQuantum <= 0:
		return fmt.Errorf("SCHED_DEFAULT_QUANTUM must be positive, got %d", s.DefaultQuantum)
	case s.Queues <= 0:
		return fmt.Errorf("SCHED_QUEUES must be positive, got %d", s.Queues)
	}

	if r := c.RateLimit; r.Enabled && (r.RequestsPerSecond <= 0 || r.Burst <= 0 || r.ToolsPerSecond <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS, RATE_LIMIT_BURST and RATE_LIMIT_TOOLS_RPS must be positive when rate limiting is enabled")
	}
	return nil
}
