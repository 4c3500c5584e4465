// Package config loads and validates Ordinaut's process configuration from
// the environment.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// defaultJWTSecret is the well-known placeholder that must never reach
// production — JWT_SECRET_KEY equal to it is a configuration error.
const defaultJWTSecret = "changeme"

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// JWTSecretKey signs and verifies the bearer tokens the API trusts;
	// issuance itself is an external collaborator.
	JWTSecretKey string `env:"JWT_SECRET_KEY,required" validate:"required,nedefaultjwt"`

	WorkerConcurrency        int `env:"WORKER_CONCURRENCY" envDefault:"10" validate:"min=1,max=1000"`
	SchedulerIntervalSec     int `env:"SCHEDULER_INTERVAL" envDefault:"5" validate:"min=1,max=3600"`
	LeaseDurationSeconds     int `env:"LEASE_DURATION_SECONDS" envDefault:"300" validate:"min=1,max=86400"`
	HeartbeatIntervalSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"10" validate:"min=1,max=3600"`
	ReaperIntervalSeconds    int `env:"REAPER_INTERVAL_SECONDS" envDefault:"30" validate:"min=1,max=3600"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// EventBusURL is optional — when unset, the event/condition schedule
	// kinds sit idle until another process populates due_work directly.
	EventBusURL string `env:"EVENT_BUS_URL"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	v := validator.New()
	if err := v.RegisterValidation("nedefaultjwt", notDefaultJWTSecret); err != nil {
		return nil, fmt.Errorf("register validator: %w", err)
	}
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func notDefaultJWTSecret(fl validator.FieldLevel) bool {
	return fl.Field().String() != defaultJWTSecret
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
