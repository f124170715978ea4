// Package logging builds the zap loggers used by the CLI and the library.
//
// Output goes to a console core (human readable, stderr), a file core
// (JSON lines, rotated by lumberjack), or both.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. The zero value logs info and above to stderr.
type Options struct {
	Level     string `json:"level"`      // debug, info, warn, error
	ToConsole bool   `json:"to_console"` // also log to stderr when FilePath is set
	FilePath  string `json:"file_path"`  // empty: console only

	MaxSize    int  `json:"max_size"`    // MB before rotation
	MaxBackups int  `json:"max_backups"` // rotated files kept
	MaxAge     int  `json:"max_age"`     // days rotated files are kept
	Compress   bool `json:"compress"`    // gzip rotated files

	EnableCaller bool `json:"enable_caller"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		ToConsole:  true,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return level, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	if opts.FilePath == "" || opts.ToConsole {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stderr),
			atom,
		))
	}
	if opts.FilePath != "" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.FilePath,
				MaxSize:    opts.MaxSize,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAge,
				Compress:   opts.Compress,
			}),
			atom,
		))
	}

	var zapOpts []zap.Option
	if opts.EnableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zapOpts...), nil
}
