// Package logging builds the server's zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a structured zap.Logger. level is debug, info, warn or error;
// format is json or console.
func New(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = normalizeFormat(format)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "payroll-engine")), nil
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}
