// Package logger builds the zap loggers used across the service.
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	OutputPath string // stdout, stderr, or file path
	Format     string // json or console
}

// New creates a structured logger. Unknown levels fall back to info.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var writeSyncer zapcore.WriteSyncer
	switch cfg.OutputPath {
	case "stdout", "":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		dir := filepath.Dir(cfg.OutputPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writeSyncer = zapcore.AddSync(file)
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Sugared adapts a zap logger to the Info/Error keysAndValues methods the
// application packages declare as their Logger interface.
type Sugared struct {
	s *zap.SugaredLogger
}

// Sugar wraps the logger for use behind the application Logger interfaces.
// The extra caller skip keeps call sites correct through the wrapper.
func Sugar(l *zap.Logger) *Sugared {
	return &Sugared{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (s *Sugared) Debug(msg string, keysAndValues ...interface{}) {
	s.s.Debugw(msg, keysAndValues...)
}

func (s *Sugared) Info(msg string, keysAndValues ...interface{}) {
	s.s.Infow(msg, keysAndValues...)
}

func (s *Sugared) Warn(msg string, keysAndValues ...interface{}) {
	s.s.Warnw(msg, keysAndValues...)
}

func (s *Sugared) Error(msg string, keysAndValues ...interface{}) {
	s.s.Errorw(msg, keysAndValues...)
}
