// Package logutil builds the zap loggers used across patflow.
package logutil

import (
	"strings"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatText writes human readable console lines.
	FormatText = "text"
	// FormatJSON writes one JSON object per line.
	FormatJSON = "json"

	defaultLogLevel  = "info"
	defaultLogFormat = FormatText
)

// Config is the log section of the patflow configuration.
type Config struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// File is a log file path; empty means stderr.
	File string `toml:"file" json:"file"`
}

// Adjust fills empty fields with defaults.
func (cfg *Config) Adjust() {
	if cfg.Level == "" {
		cfg.Level = defaultLogLevel
	}
	if cfg.Format == "" {
		cfg.Format = defaultLogFormat
	}
}

// InitLogger creates a logger from cfg.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	cfg.Adjust()
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid log level %q", cfg.Level)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.Sampling = nil
	zcfg.DisableStacktrace = true
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		zcfg.Encoding = "json"
	case FormatText:
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.Format)
	}
	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}

	lg, err := zcfg.Build()
	return lg, errors.Trace(err)
}

// ShortError contains only the error message, without the stack trace that
// pingcap/errors attaches.
func ShortError(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", err.Error())
}
