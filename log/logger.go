package log

import (
	"sync/atomic"

	"github.com/lcx/comms/config"
)

// Logger is the leveled event factory implemented by GameLogger.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
}

var _ Logger = (*GameLogger)(nil)

var _defaultLogger atomic.Pointer[GameLogger]

func init() {
	_defaultLogger.Store(NewLogger(nil))
}

// Default returns the package-level logger.
func Default() *GameLogger {
	return _defaultLogger.Load()
}

// SetDefaultLogger replaces the default logger with a custom instance.
// This allows global configuration of the package-level logging functions.
func SetDefaultLogger(logger *GameLogger) {
	if logger == nil {
		return
	}
	_defaultLogger.Store(logger)
}

// InitializeWithConfigManager loads the "logger" configuration from
// configManager and installs a default logger that follows its hot reloads.
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := *getDefaultCfg()
	if err := configManager.LoadConfig("logger", &logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(&logCfg, configManager))
	return nil
}

// Initialize initializes the default logger using the singleton ConfigManager instance.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// Sync flushes the default logger.
func Sync() error {
	return Default().Sync()
}

// Debug creates a new debug-level log event using the default logger.
func Debug() *LogEvent {
	return Default().Debug()
}

// Info creates a new info-level log event using the default logger.
func Info() *LogEvent {
	return Default().Info()
}

// Warn creates a new warn-level log event using the default logger.
func Warn() *LogEvent {
	return Default().Warn()
}

// Error creates a new error-level log event using the default logger.
func Error() *LogEvent {
	return Default().Error()
}

// Fatal creates a new fatal-level log event using the default logger.
func Fatal() *LogEvent {
	return Default().Fatal()
}
