package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 30, cfg.LookaheadDays)
	require.Equal(t, "MXN", cfg.Currency)
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing timezone", func(c *Config) { c.Timezone = "" }},
		{"zero lookahead", func(c *Config) { c.LookaheadDays = 0 }},
		{"negative epsilon", func(c *Config) { c.QuotaEpsilon = -0.1 }},
		{"bad currency code", func(c *Config) { c.Currency = "PESOS" }},
		{"missing pipeline", func(c *Config) { c.Pipelines.Manual = "" }},
		{"missing stage", func(c *Config) { c.Stages.Forecast = "" }},
		{"zero page size", func(c *Config) { c.SweepPageSize = 0 }},
		{"zero lock ttl", func(c *Config) { c.LockTTL = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BILLING_TIMEZONE", "UTC")
	t.Setenv("LOOKAHEAD_DAYS", "45")
	t.Setenv("BILLING_CURRENCY", "USD")
	t.Setenv("SWEEP_PACE", "500ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "UTC", cfg.Timezone)
	require.Equal(t, 45, cfg.LookaheadDays)
	require.Equal(t, "USD", cfg.Currency)
	require.Equal(t, 500*time.Millisecond, cfg.SweepPace)
	// untouched values keep their defaults
	require.Equal(t, "manual_fulfillment", cfg.Pipelines.Manual)
}

func TestFromEnvRejectsInvalidOverride(t *testing.T) {
	t.Setenv("BILLING_CURRENCY", "TOOLONG")
	_, err := FromEnv()
	require.Error(t, err)
}
