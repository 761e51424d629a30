package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all kernel configuration.
type Config struct {
	Server    ServerConfig
	Kernel    KernelConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Fetch     FetchConfig
	GRPC      GRPCConfig
}

// ServerConfig holds the HTTP shim server configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" default:"8000"`
	Host    string `envconfig:"HOST" default:"0.0.0.0"`
	Enabled bool   `envconfig:"SERVER_ENABLED" default:"true"`
	// CORSOrigins lists pages allowed to call the shim, comma separated.
	// Empty admits any origin.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// KernelConfig tunes the process and IPC layers.
type KernelConfig struct {
	PipeCapacity  int           `envconfig:"KERNEL_PIPE_CAPACITY" default:"65536"`
	AliveTimeout  time.Duration `envconfig:"KERNEL_ALIVE_TIMEOUT" default:"120s"`
	AliveInterval time.Duration `envconfig:"KERNEL_ALIVE_INTERVAL" default:"10s"`
	RelayTimeout  time.Duration `envconfig:"KERNEL_RELAY_TIMEOUT" default:"5s"`
	Manifest      string        `envconfig:"KERNEL_MANIFEST"`
	ConsoleEcho   bool          `envconfig:"KERNEL_CONSOLE_ECHO" default:"false"`
	GuestTimeout  time.Duration `envconfig:"KERNEL_GUEST_TIMEOUT" default:"30s"`
	GuestPool     int           `envconfig:"KERNEL_GUEST_POOL" default:"4"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the shim.
type RateLimitConfig struct {
	RequestsPerSecond int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	IdleTTL           time.Duration `envconfig:"RATE_LIMIT_IDLE_TTL" default:"10m"`
}

// FetchConfig tunes the outbound client behind op_fetch_send.
type FetchConfig struct {
	Timeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	Retries   int           `envconfig:"FETCH_RETRIES" default:"2"`
	UserAgent string        `envconfig:"FETCH_USER_AGENT" default:"webkernel/1.0"`
}

// GRPCConfig holds the gRPC transport listener configuration.
type GRPCConfig struct {
	Address string `envconfig:"GRPC_ADDR" default:"localhost:50051"`
	Enabled bool   `envconfig:"GRPC_ENABLED" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8000",
			Host:    "0.0.0.0",
			Enabled: true,
		},
		Kernel: KernelConfig{
			PipeCapacity:  64 * 1024,
			AliveTimeout:  120 * time.Second,
			AliveInterval: 10 * time.Second,
			RelayTimeout:  5 * time.Second,
			GuestTimeout:  30 * time.Second,
			GuestPool:     4,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			IdleTTL:           10 * time.Minute,
			Enabled:           true,
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			Retries:   2,
			UserAgent: "webkernel/1.0",
		},
		GRPC: GRPCConfig{
			Address: "localhost:50051",
		},
	}
}
