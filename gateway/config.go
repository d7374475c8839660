// Package gateway holds the transport-independent half of the HTTP front
// end: configuration, origin authorization and argument assembly. The
// http subpackage binds these to handlers.
package gateway

import (
	"fmt"
	"time"

	"github.com/c360/thingbridge/errors"
)

// Defaults applied by Config.Validate.
const (
	DefaultMaxRequestSize = int64(1 << 20) // 1 MiB
	DefaultTimeout        = 5 * time.Second
	DefaultPrefix         = "/"
)

// Config configures the HTTP gateway.
type Config struct {
	// Prefix is the path all routes are mounted under.
	Prefix string `yaml:"prefix" json:"prefix"`

	// AllowedOrigins is the CORS allow-list. Empty authorizes every
	// origin; "*" is echoed as-is.
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`

	// MaxRequestSize bounds request bodies in bytes.
	MaxRequestSize int64 `yaml:"maxRequestSize" json:"maxRequestSize"`

	// DefaultTimeout bounds a dispatch when the client supplies no
	// timeout argument.
	DefaultTimeout time.Duration `yaml:"defaultTimeout" json:"defaultTimeout"`

	// ValidateArguments enables JSON-schema validation of assembled
	// arguments for descriptors that carry a schema.
	ValidateArguments bool `yaml:"validateArguments" json:"validateArguments"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max request size must be positive, got %d", c.MaxRequestSize),
			"Config", "Validate", "check max request size")
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.DefaultTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("default timeout must be positive, got %v", c.DefaultTimeout),
			"Config", "Validate", "check default timeout")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "" {
			return errors.WrapInvalid(
				fmt.Errorf("allowed origins must not contain empty entries"),
				"Config", "Validate", "check origins")
		}
	}
	return nil
}
