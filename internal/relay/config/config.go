// Package config groups the relay's runtime settings. Fields left at their
// zero value fall back to the documented defaults when the service starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by Normalize.
const (
	DefaultListenAddress          = ":3001"
	DefaultPingInterval           = 30 * time.Second
	DefaultRelayHeartbeatInterval = 5 * time.Second
	DefaultRingCapacity           = 20
	DefaultOutputBuffer           = 64
	DefaultWriteTimeout           = 10 * time.Second
)

// Config holds every tunable of the relay process.
type Config struct {
	// ListenAddress is the address the HTTP/WebSocket server binds to.
	ListenAddress string

	// PingInterval is how often the liveness monitor probes each
	// connection. A connection with no pong or traffic for LivenessTimeout
	// is declared dead.
	PingInterval time.Duration

	// LivenessTimeout defaults to two ping intervals when zero.
	LivenessTimeout time.Duration

	// RelayHeartbeatInterval is the cadence of the relay-health broadcast
	// sent to every connection (distinct from the per-connection ping).
	RelayHeartbeatInterval time.Duration

	// RingCapacity bounds the recent-events buffer kept for catch-up reads.
	RingCapacity int

	// OutputBuffer is the per-connection outbound frame buffer. A
	// connection whose buffer is full back-pressures the publisher briefly
	// rather than dropping frames.
	OutputBuffer int

	// WriteTimeout bounds each socket write.
	WriteTimeout time.Duration

	// CORSAllowedOrigins lists origins allowed on the HTTP surface. Use
	// "*" for development. Empty disables CORS headers.
	CORSAllowedOrigins []string

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool
}

// Normalize fills zero values with defaults. It returns the receiver for
// chaining.
func (c *Config) Normalize() *Config {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = 2 * c.PingInterval
	}
	if c.RelayHeartbeatInterval == 0 {
		c.RelayHeartbeatInterval = DefaultRelayHeartbeatInterval
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = DefaultRingCapacity
	}
	if c.OutputBuffer == 0 {
		c.OutputBuffer = DefaultOutputBuffer
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Validate checks the configuration and returns every finding joined into
// a single error.
func (c *Config) Validate() error {
	var errs []error

	if c.PingInterval < 0 {
		errs = append(errs, errors.New("liveness: ping interval cannot be negative"))
	}
	if c.LivenessTimeout < 0 {
		errs = append(errs, errors.New("liveness: timeout cannot be negative"))
	}
	if c.LivenessTimeout > 0 && c.PingInterval > 0 && c.LivenessTimeout < c.PingInterval {
		errs = append(errs, errors.New("liveness: timeout cannot be shorter than the ping interval"))
	}
	if c.RelayHeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat: interval cannot be negative"))
	}
	if c.RingCapacity < 0 {
		errs = append(errs, errors.New("ring: capacity cannot be negative"))
	}
	if c.OutputBuffer < 0 {
		errs = append(errs, errors.New("output: buffer cannot be negative"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("output: write timeout cannot be negative"))
	}

	return errors.Join(errs...)
}

// ValidateConfig is a convenience wrapper that also rejects a nil config.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// Getenv is the environment accessor used by FromEnv. Overridable in tests.
var Getenv = os.Getenv

// FromEnv builds a Config from BIDRELAY_* environment variables, leaving
// unset values at zero so Normalize can apply defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddress: Getenv("BIDRELAY_LISTEN_ADDRESS"),
	}

	var errs []error
	parseDuration := func(key string, dst *time.Duration) {
		raw := Getenv(key)
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	parseInt := func(key string, dst *int) {
		raw := Getenv(key)
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	parseDuration("BIDRELAY_PING_INTERVAL", &cfg.PingInterval)
	parseDuration("BIDRELAY_LIVENESS_TIMEOUT", &cfg.LivenessTimeout)
	parseDuration("BIDRELAY_RELAY_HEARTBEAT_INTERVAL", &cfg.RelayHeartbeatInterval)
	parseDuration("BIDRELAY_WRITE_TIMEOUT", &cfg.WriteTimeout)
	parseInt("BIDRELAY_RING_CAPACITY", &cfg.RingCapacity)
	parseInt("BIDRELAY_OUTPUT_BUFFER", &cfg.OutputBuffer)

	if raw := Getenv("BIDRELAY_CORS_ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}
	if raw := Getenv("BIDRELAY_METRICS_ENABLED"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("BIDRELAY_METRICS_ENABLED: %w", err))
		} else {
			cfg.MetricsEnabled = enabled
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
