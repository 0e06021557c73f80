// Package logger holds the process-wide zap logger. The service logs
// structured JSON to stdout in production and colored console output during
// development; the container runtime collects both streams, so there is no
// file output.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dessources/PantherKolab-sub001/pkg/env"
)

// Log is the shared logger. Init or InitDefault must run before any logging.
var Log *zap.Logger

// Init builds the shared logger. level is one of debug|info|warn|error and
// format is json or console; anything unparseable falls back to info/json.
func Init(level, format string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	built, err := cfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}

	Log = built
	return nil
}

// InitDefault configures the logger from LOG_LEVEL and LOG_FORMAT, falling
// back to a plain production logger if the configuration cannot be built.
func InitDefault() {
	if err := Init(env.GetString("LOG_LEVEL", "info"), env.GetString("LOG_FORMAT", "json")); err != nil {
		Log, _ = zap.NewProduction()
	}
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

// Sync flushes buffered entries; deferred at shutdown.
func Sync() error {
	return Log.Sync()
}
