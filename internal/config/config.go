package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete hub configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Media     MediaConfig     `yaml:"media"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServerConfig covers the HTTP/WebSocket surface.
type ServerConfig struct {
	ListenAddress      string `yaml:"listen_address"`
	FrontEndEndpoint   string `yaml:"front_end_endpoint"`
	KernelEndpoint     string `yaml:"kernel_endpoint"`
	StaticDir          string `yaml:"static_dir"`
	AllowAllOrigins    bool   `yaml:"allow_all_origins"`
	HeartbeatInterval  int    `yaml:"heartbeat_interval"` // seconds
	HeartbeatTimeout   int    `yaml:"heartbeat_timeout"`  // seconds
	OutboundQueueDepth int    `yaml:"outbound_queue_depth"`
}

// GatewayConfig covers correlation timeouts.
type GatewayConfig struct {
	AwaitTimeout  int `yaml:"await_timeout"`  // seconds
	PendingTTL    int `yaml:"pending_ttl"`    // seconds
	SweepInterval int `yaml:"sweep_interval"` // seconds
}

type MediaConfig struct {
	ChunkSize int `yaml:"chunk_size"` // bytes
}

type DiscoveryConfig struct {
	ServicePort int    `yaml:"service_port"`
	PingTimeout int    `yaml:"ping_timeout"` // seconds
	DialTimeout int    `yaml:"dial_timeout"` // milliseconds
	HealthPath  string `yaml:"health_path"`
	Handshake   string `yaml:"handshake"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:      "0.0.0.0:8088",
			FrontEndEndpoint:   "/ws",
			KernelEndpoint:     "/connect",
			StaticDir:          "./static",
			AllowAllOrigins:    true,
			HeartbeatInterval:  5,
			HeartbeatTimeout:   10,
			OutboundQueueDepth: 16,
		},
		Gateway: GatewayConfig{
			AwaitTimeout:  10,
			PendingTTL:    60,
			SweepInterval: 30,
		},
		Media: MediaConfig{
			ChunkSize: 1024 * 1024,
		},
		Discovery: DiscoveryConfig{
			ServicePort: 8088,
			PingTimeout: 1,
			DialTimeout: 600,
			HealthPath:  "/test",
			Handshake:   "i am server",
		},
	}
}

// Load reads and parses a configuration file, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be positive, got %d", c.Server.HeartbeatInterval)
	}
	if c.Server.HeartbeatTimeout <= c.Server.HeartbeatInterval {
		return fmt.Errorf("server.heartbeat_timeout (%d) must exceed server.heartbeat_interval (%d)",
			c.Server.HeartbeatTimeout, c.Server.HeartbeatInterval)
	}
	if c.Server.OutboundQueueDepth <= 0 {
		return fmt.Errorf("server.outbound_queue_depth must be positive, got %d", c.Server.OutboundQueueDepth)
	}
	if c.Gateway.AwaitTimeout <= 0 {
		return fmt.Errorf("gateway.await_timeout must be positive, got %d", c.Gateway.AwaitTimeout)
	}
	if c.Gateway.PendingTTL < c.Gateway.AwaitTimeout {
		return fmt.Errorf("gateway.pending_ttl (%d) must not be below gateway.await_timeout (%d)",
			c.Gateway.PendingTTL, c.Gateway.AwaitTimeout)
	}
	if c.Gateway.SweepInterval <= 0 {
		return fmt.Errorf("gateway.sweep_interval must be positive, got %d", c.Gateway.SweepInterval)
	}
	if c.Media.ChunkSize <= 0 {
		return fmt.Errorf("media.chunk_size must be positive, got %d", c.Media.ChunkSize)
	}
	if c.Discovery.ServicePort <= 0 || c.Discovery.ServicePort > 65535 {
		return fmt.Errorf("discovery.service_port must be a valid port, got %d", c.Discovery.ServicePort)
	}
	if c.Discovery.Handshake == "" {
		return fmt.Errorf("discovery.handshake must not be empty")
	}
	return nil
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Server.HeartbeatInterval) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Server.HeartbeatTimeout) * time.Second
}

func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.Gateway.AwaitTimeout) * time.Second
}

func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.Gateway.PendingTTL) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Gateway.SweepInterval) * time.Second
}

func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.Discovery.PingTimeout) * time.Second
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Discovery.DialTimeout) * time.Millisecond
}
