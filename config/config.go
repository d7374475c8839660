// Package config loads and validates the bridge configuration from YAML,
// with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/gateway"
	"github.com/c360/thingbridge/serializer"
)

// Env var names recognized as overrides.
const (
	EnvNATSURL    = "THINGBRIDGE_NATS_URL"
	EnvListenAddr = "THINGBRIDGE_LISTEN_ADDR"
	EnvLogLevel   = "THINGBRIDGE_LOG_LEVEL"
)

// NATSConfig configures the broker connection.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	ReconnectWait time.Duration `yaml:"reconnectWait"`
	MaxReconnects int           `yaml:"maxReconnects"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures broker TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PoolConfig configures Thing bindings.
type PoolConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	UseRegistry      bool          `yaml:"useRegistry"`
}

// TunnelConfig configures event streaming.
type TunnelConfig struct {
	MaxStreams   int           `yaml:"maxStreams"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// ThingConfig statically registers a Thing at startup.
type ThingConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Config is the complete bridge configuration.
type Config struct {
	LogLevel string `yaml:"logLevel"`

	// Serializer names the wire encoding for broker exchanges. All request
	// and reply bytes pass through this serializer; Things on the other
	// side must speak the same encoding.
	Serializer string `yaml:"serializer"`

	Server  ServerConfig   `yaml:"server"`
	NATS    NATSConfig     `yaml:"nats"`
	Gateway gateway.Config `yaml:"gateway"`
	Pool    PoolConfig     `yaml:"pool"`
	Tunnel  TunnelConfig   `yaml:"tunnel"`
	Things  []ThingConfig  `yaml:"things"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		Serializer: serializer.NameJSON,
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			ShutdownTimeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "thingbridge",
			Timeout:       5 * time.Second,
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		},
		Pool: PoolConfig{
			HandshakeTimeout: 60 * time.Second,
			UseRegistry:      true,
		},
		Tunnel: TunnelConfig{
			MaxStreams:   64,
			PollInterval: 10 * time.Second,
		},
	}
}

// Load reads the YAML file, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration and fills remaining defaults.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", c.LogLevel),
			"Config", "Validate", "check log level")
	}

	if _, err := serializer.For(c.Serializer, nil); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check serializer")
	}

	if c.Server.ListenAddr == "" {
		return errors.WrapInvalid(
			fmt.Errorf("server listen address is required"),
			"Config", "Validate", "check listen address")
	}
	if _, err := parsePort(c.Server.ListenAddr); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check listen address")
	}

	if c.NATS.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("nats url is required"),
			"Config", "Validate", "check nats url")
	}
	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return errors.WrapInvalid(
			fmt.Errorf("nats url %q must use nats:// or tls://", c.NATS.URL),
			"Config", "Validate", "check nats url")
	}

	if c.Pool.HandshakeTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("handshake timeout must be positive"),
			"Config", "Validate", "check handshake timeout")
	}
	if c.Tunnel.MaxStreams < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max streams must be positive"),
			"Config", "Validate", "check max streams")
	}

	seen := make(map[string]struct{}, len(c.Things))
	for _, thing := range c.Things {
		if thing.ID == "" || thing.Address == "" {
			return errors.WrapInvalid(
				fmt.Errorf("static thing entries need both id and address"),
				"Config", "Validate", "check things")
		}
		if _, dup := seen[thing.ID]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate thing id %q", thing.ID),
				"Config", "Validate", "check things")
		}
		seen[thing.ID] = struct{}{}
	}

	return c.Gateway.Validate()
}

// parsePort extracts and checks the port of a listen address.
func parsePort(addr string) (int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0, fmt.Errorf("listen address %q has no port", addr)
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("listen address %q has an invalid port", addr)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
