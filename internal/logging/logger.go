package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/graphfleet/internal/config"
)

// NewLogger creates a structured zerolog.Logger with observability context fields
// from the config. Non-empty fields are added automatically.
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		ctx = ctx.Str("environment", cfg.Environment)
	}
	if cfg.Region != "" {
		ctx = ctx.Str("region", cfg.Region)
	}
	if cfg.InstanceID != "" {
		ctx = ctx.Str("instance_id", cfg.InstanceID)
	}
	if cfg.Tier != "" {
		ctx = ctx.Str("tier", cfg.Tier)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
