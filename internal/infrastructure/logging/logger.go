// Package logging builds the memory core's structured logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/memorycore/memorycore/internal/infrastructure/config"
)

// New builds a *zap.Logger from a LogConfig, falling back to info/json on
// any unparseable level.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	format := cfg.Format
	if format == "" {
		format = "json"
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zcfg.Build()
}

// GormLogger adapts *zap.Logger to gorm's logger.Writer interface so GORM's
// own query logging flows through the same structured sink as everything
// else.
type GormLogger struct {
	*zap.SugaredLogger
}

// NewGormLogger wraps logger for use as a gorm logger.Writer.
func NewGormLogger(logger *zap.Logger) *GormLogger {
	return &GormLogger{SugaredLogger: logger.Sugar()}
}

// Printf implements gorm logger.Writer.
func (g *GormLogger) Printf(format string, args ...any) {
	g.SugaredLogger.Infof(format, args...)
}
