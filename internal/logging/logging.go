// Package logging owns the process-wide structured logger.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log destination, level and rotation.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	Path       string // empty means stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu     sync.Mutex
	global *zap.SugaredLogger
)

// Init builds the global logger. Safe to call once at startup; reconfiguring
// in tests is allowed.
func Init(cfg Config) {
	ws := zapcore.AddSync(os.Stdout)
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err == nil {
			ws = zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.Path,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
			})
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, parseLevel(cfg.Level))

	mu.Lock()
	global = zap.New(core).Sugar()
	mu.Unlock()
}

// L returns the global logger, falling back to a development logger when Init
// has not run (tests, library use).
func L() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			l = zap.NewExample()
		}
		global = l.Sugar()
	}
	return global
}

// Sync flushes buffered entries.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return global.Sync()
	}
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
