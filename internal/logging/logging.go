// Package logging builds the process logger: "<timestamp>: <event>" lines appended to a file
// and mirrored to standard output.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimeLayout is the timestamp prefix of every log line
const TimeLayout = "2006-01-02 15:04:05"

// Config contains logging configuration
type Config struct {
	File   string `mapstructure:"file"`
	Stdout bool   `mapstructure:"stdout"`
	Level  string `mapstructure:"level"`
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		File:   "./service.log",
		Stdout: true,
		Level:  "info",
	}
}

// EncoderConfig renders the time, the message and then any fields
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "time",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(TimeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: ": ",
	}
}

// New builds a logger writing to the configured file and, optionally, stdout.
// The returned function flushes and closes the file.
func New(cfg *Config) (*zap.Logger, func(), error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var (
		cores   []zapcore.Core
		closers []func()
	)

	if cfg.File != "" {
		sink, closeFile, err := zap.Open(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
		}
		cores = append(cores, newCore(sink, level))
		closers = append(closers, closeFile)
	}
	if cfg.Stdout {
		cores = append(cores, newCore(zapcore.Lock(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	cleanup := func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}
	return logger, cleanup, nil
}

// NewWriter builds a logger that writes the same line format to w
func NewWriter(w io.Writer, level zapcore.Level) *zap.Logger {
	return zap.New(newCore(zapcore.AddSync(w), level))
}

func newCore(ws zapcore.WriteSyncer, level zapcore.LevelEnabler) zapcore.Core {
	return zapcore.NewCore(zapcore.NewConsoleEncoder(EncoderConfig()), ws, level)
}
