// Package logging builds the zap logger used at the infrastructure edge
// (cmd/workflowd, internal/server) and the logrus logger used by the domain
// packages (workflow/engine, workflow/statemachine, ai/router, ai/providers)
// and by repository/postgres, per the two-logger ambient convention.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZap builds a *zap.Logger. format is "console" for human-readable,
// colorized output or "json" for structured production output.
func NewZap(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// NewLogrus builds the *logrus.Logger domain packages log through,
// matching format/level to the same config as NewZap so both loggers agree
// on verbosity and rendering.
func NewLogrus(format, level string) (*logrus.Logger, error) {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	switch format {
	case "console":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json", "":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return log, nil
}
