// Package config holds the engine's runtime configuration. It is read from
// the environment exactly once at process start and passed by reference from
// there on; no component reads ambient configuration mid-computation.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"

	"github.com/hs-interfase/rebill/crm"
)

// Pipelines names the store-side pipeline identifiers for fulfillment
// records. The two lifecycles (manual forecast/ready vs automatic) live in
// separate pipelines.
type Pipelines struct {
	Manual    string `validate:"required"`
	Automatic string `validate:"required"`
}

// Stages names the store-side stage identifiers within the pipelines.
type Stages struct {
	Forecast  string `validate:"required"`
	Ready     string `validate:"required"`
	Invoiced  string `validate:"required"`
	Cancelled string `validate:"required"`
}

type Config struct {
	Timezone string `validate:"required"`

	Pipelines Pipelines
	Stages    Stages

	// LookaheadDays bounds how far ahead of today a forecast record may be
	// promoted and an automatic invoice emitted.
	LookaheadDays int `validate:"min=1"`

	// QuotaEpsilon is the tolerance for the consumed+remaining==total check.
	QuotaEpsilon float64 `validate:"min=0"`

	Currency string `validate:"required,len=3"`

	Retry crm.Policy

	SweepPageSize int           `validate:"min=1"`
	SweepPace     time.Duration `validate:"min=0"`
	LockTTL       time.Duration `validate:"min=1ms"`
}

func Default() Config {
	return Config{
		Timezone: "America/Mexico_City",
		Pipelines: Pipelines{
			Manual:    "manual_fulfillment",
			Automatic: "automatic_fulfillment",
		},
		Stages: Stages{
			Forecast:  "forecast",
			Ready:     "ready",
			Invoiced:  "invoiced",
			Cancelled: "cancelled",
		},
		LookaheadDays: 30,
		QuotaEpsilon:  0.01,
		Currency:      "MXN",
		Retry:         crm.DefaultPolicy(),
		SweepPageSize: 50,
		SweepPace:     2 * time.Second,
		LockTTL:       15 * time.Minute,
	}
}

// FromEnv builds a validated Config from the environment, falling back to
// Default for anything unset. Call it once from main.
func FromEnv() (*Config, error) {
	cfg := Default()

	setString(&cfg.Timezone, "BILLING_TIMEZONE")
	setString(&cfg.Pipelines.Manual, "PIPELINE_MANUAL")
	setString(&cfg.Pipelines.Automatic, "PIPELINE_AUTOMATIC")
	setString(&cfg.Stages.Forecast, "STAGE_FORECAST")
	setString(&cfg.Stages.Ready, "STAGE_READY")
	setString(&cfg.Stages.Invoiced, "STAGE_INVOICED")
	setString(&cfg.Stages.Cancelled, "STAGE_CANCELLED")
	setString(&cfg.Currency, "BILLING_CURRENCY")
	setInt(&cfg.LookaheadDays, "LOOKAHEAD_DAYS")
	setInt(&cfg.SweepPageSize, "SWEEP_PAGE_SIZE")
	setInt(&cfg.Retry.Attempts, "RETRY_ATTEMPTS")
	setFloat(&cfg.QuotaEpsilon, "QUOTA_EPSILON")
	setDuration(&cfg.SweepPace, "SWEEP_PACE")
	setDuration(&cfg.LockTTL, "SWEEP_LOCK_TTL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return extErrors.Wrap(err, "Invalid configuration")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
