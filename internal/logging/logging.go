// Package logging builds the zap logger shared by every command.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/outreach/internal/model"
)

// New builds a logger from cfg. Output goes to stderr and, when cfg.File
// is set, is also appended to that file as JSON. The returned cleanup
// flushes and closes the file.
func New(cfg model.LoggingConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if cfg.Level == "" {
		level, err = zapcore.InfoLevel, nil
	}
	if err != nil {
		return nil, nil, &model.ConfigError{Field: "logging.level", Message: err.Error()}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		ce := encCfg
		ce.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(ce)
	case "json":
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, nil, &model.ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", cfg.Format)}
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}
	cleanup := func() {}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
		cleanup = func() { _ = f.Close() }
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return log, func() {
		_ = log.Sync()
		cleanup()
	}, nil
}

// WithRun returns log tagged with a fresh run id and the command name.
func WithRun(log *zap.Logger, command string) *zap.Logger {
	return log.With(zap.String("run_id", uuid.NewString()), zap.String("command", command))
}
