package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	cfg := (&Config{}).Normalize()

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, DefaultPingInterval, cfg.PingInterval)
	assert.Equal(t, 2*DefaultPingInterval, cfg.LivenessTimeout)
	assert.Equal(t, DefaultRelayHeartbeatInterval, cfg.RelayHeartbeatInterval)
	assert.Equal(t, DefaultRingCapacity, cfg.RingCapacity)
	assert.Equal(t, DefaultOutputBuffer, cfg.OutputBuffer)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestNormalizeDerivesLivenessTimeoutFromPingInterval(t *testing.T) {
	cfg := (&Config{PingInterval: 10 * time.Second}).Normalize()
	assert.Equal(t, 20*time.Second, cfg.LivenessTimeout)
}

func TestValidate(t *testing.T) {
	valid := (&Config{}).Normalize()
	assert.NoError(t, valid.Validate())

	invalid := &Config{
		PingInterval:    -time.Second,
		RingCapacity:    -1,
		OutputBuffer:    -1,
		LivenessTimeout: -time.Second,
	}
	err := invalid.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping interval cannot be negative")
	assert.Contains(t, err.Error(), "capacity cannot be negative")
}

func TestValidateRejectsTimeoutShorterThanInterval(t *testing.T) {
	cfg := &Config{PingInterval: 30 * time.Second, LivenessTimeout: 10 * time.Second}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout cannot be shorter")
}

func TestValidateConfigNil(t *testing.T) {
	assert.Error(t, ValidateConfig(nil))
	assert.NoError(t, ValidateConfig((&Config{}).Normalize()))
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"BIDRELAY_LISTEN_ADDRESS":       ":4040",
		"BIDRELAY_PING_INTERVAL":        "15s",
		"BIDRELAY_RING_CAPACITY":        "50",
		"BIDRELAY_CORS_ALLOWED_ORIGINS": "https://example.com, *",
		"BIDRELAY_METRICS_ENABLED":      "true",
	}
	orig := Getenv
	Getenv = func(key string) string { return env[key] }
	defer func() { Getenv = orig }()

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":4040", cfg.ListenAddress)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, 50, cfg.RingCapacity)
	assert.Equal(t, []string{"https://example.com", "*"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.MetricsEnabled)

	cfg.Normalize()
	assert.Equal(t, 30*time.Second, cfg.LivenessTimeout, "timeout derives from the overridden interval")
}

func TestFromEnvReportsBadValues(t *testing.T) {
	env := map[string]string{
		"BIDRELAY_PING_INTERVAL":   "soon",
		"BIDRELAY_RING_CAPACITY":   "many",
		"BIDRELAY_METRICS_ENABLED": "maybe",
	}
	orig := Getenv
	Getenv = func(key string) string { return env[key] }
	defer func() { Getenv = orig }()

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIDRELAY_PING_INTERVAL")
	assert.Contains(t, err.Error(), "BIDRELAY_RING_CAPACITY")
	assert.Contains(t, err.Error(), "BIDRELAY_METRICS_ENABLED")
}
