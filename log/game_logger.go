package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lcx/comms/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// GameLogger provides a thread-safe leveled logger with console and rotating
// file output. Events are pooled and handed to zap on Msg, so a disabled level
// costs one atomic load and no allocation.
//
// The minimum level lives in a zap.AtomicLevel and can be changed while the
// process runs, either directly through SetLevel or by registering the logger
// with a config.ConfigManager.
//
// Example usage:
// ```
//
//	logger := NewLogger(&LogCfg{
//	    LogLevel:        "info",
//	    ConsoleAppender: true,
//	    FileAppender:    true,
//	    LogPath:         "/path/to/comms.log",
//	})
//
// logger.Info().Str("module", "writer").Int("lane", 3).Msg("writer started")
// ```
type GameLogger struct {
	zl    *zap.Logger
	level zap.AtomicLevel

	configMutex   sync.RWMutex
	currentConfig *LogCfg
	configManager config.ConfigManager
	closers       []io.Closer
}

// NewLogger creates a new GameLogger from cfg. A nil cfg selects the default
// configuration (info level, console only).
//
// An invalid level string falls back to info rather than failing, since a
// logger must always be constructible.
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	lvl, err := cfg.level()
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	logger := &GameLogger{
		level:         zap.NewAtomicLevelAt(lvl),
		currentConfig: cfg,
	}
	logger.zl = logger.build(cfg)
	return logger
}

// NewWithCore wraps an existing zap core. Tests use it with zaptest/observer.
func NewWithCore(core zapcore.Core, level zapcore.Level) *GameLogger {
	logger := &GameLogger{
		level:         zap.NewAtomicLevelAt(level),
		currentConfig: getDefaultCfg(),
	}
	logger.zl = zap.New(core)
	return logger
}

// NewLoggerWithConfigManager creates a GameLogger that follows hot reloads of
// the "logger" configuration published by configManager.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *GameLogger {
	logger := NewLogger(cfg)
	logger.configManager = configManager
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

func (x *GameLogger) build(cfg *LogCfg) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	if cfg.ConsoleAppender {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), x.level))
	}
	if cfg.FileAppender && cfg.LogPath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.FileSplitMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		x.closers = append(x.closers, lj)
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(lj), x.level))
	}

	core := zapcore.NewTee(cores...)
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.EnabledCallerInfo {
		// Skip LogEvent.Msg and the Debug/Info/... constructors.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	return zap.New(core, opts...)
}

// OnConfigChanged implements config.ConfigChangeListener.
//
// Only the level is applied in place. Appender changes rebuild the underlying
// zap logger; events already in flight finish on the old one.
func (x *GameLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	newLogCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	x.updateConfig(newLogCfg)
	return nil
}

// GetConfigName implements config.ConfigChangeListener.
func (x *GameLogger) GetConfigName() string {
	return "logger"
}

func (x *GameLogger) updateConfig(newCfg *LogCfg) {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()

	if lvl, err := newCfg.level(); err == nil {
		x.level.SetLevel(lvl)
	}

	old := x.currentConfig
	x.currentConfig = newCfg
	if old.ConsoleAppender == newCfg.ConsoleAppender &&
		old.FileAppender == newCfg.FileAppender &&
		old.LogPath == newCfg.LogPath &&
		old.FileSplitMB == newCfg.FileSplitMB &&
		old.Format == newCfg.Format &&
		old.EnabledCallerInfo == newCfg.EnabledCallerInfo {
		return
	}

	_ = x.zl.Sync()
	closers := x.closers
	x.closers = nil
	x.zl = x.build(newCfg)
	for _, c := range closers {
		_ = c.Close()
	}
}

// GetCurrentConfig returns the configuration the logger is running with.
func (x *GameLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

// SetLevel changes the minimum level.
func (x *GameLogger) SetLevel(level zapcore.Level) {
	x.level.SetLevel(level)
}

// Level reports the minimum level.
func (x *GameLogger) Level() zapcore.Level {
	return x.level.Level()
}

// Zap exposes the underlying zap logger, e.g. for grpclog.
func (x *GameLogger) Zap() *zap.Logger {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.zl
}

// Sync flushes buffered output.
func (x *GameLogger) Sync() error {
	return x.Zap().Sync()
}

// Close flushes output and releases the rotating file, if any.
func (x *GameLogger) Close() error {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()
	_ = x.zl.Sync()
	var firstErr error
	for _, c := range x.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	x.closers = nil
	return firstErr
}

func (x *GameLogger) log(level zapcore.Level) *LogEvent {
	if !x.level.Enabled(level) {
		return nil
	}
	x.configMutex.RLock()
	zl := x.zl
	x.configMutex.RUnlock()
	e := newEvent(x, level)
	e.zl = zl
	return e
}

// Debug creates a new debug-level log event, or nil when debug is disabled.
func (x *GameLogger) Debug() *LogEvent {
	return x.log(zapcore.DebugLevel)
}

// Info creates a new info-level log event, or nil when info is disabled.
func (x *GameLogger) Info() *LogEvent {
	return x.log(zapcore.InfoLevel)
}

// Warn creates a new warn-level log event, or nil when warn is disabled.
func (x *GameLogger) Warn() *LogEvent {
	return x.log(zapcore.WarnLevel)
}

// Error creates a new error-level log event, or nil when error is disabled.
func (x *GameLogger) Error() *LogEvent {
	return x.log(zapcore.ErrorLevel)
}

// Fatal creates a new fatal-level log event. Writing it terminates the
// process after the entry is flushed.
func (x *GameLogger) Fatal() *LogEvent {
	return x.log(zapcore.FatalLevel)
}
