package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LogCfg represents the logging configuration for a comms process.
// It covers the minimum level, the output destinations and the rotation
// policy of the file appender.
type LogCfg struct {
	// LogPath specifies the target log file path for file-based logging.
	LogPath string `mapstructure:"path"`

	// LogLevel defines the minimum log level. Supports hot-reload.
	// Valid levels: debug, info, warn, error, fatal.
	LogLevel string `mapstructure:"level"`

	// Format selects the encoder: "console" (default) or "json".
	Format string `mapstructure:"format"`

	// FileSplitMB determines the file rotation threshold in megabytes.
	FileSplitMB int `mapstructure:"splitmb"`

	// MaxBackups is the number of rotated files kept on disk.
	MaxBackups int `mapstructure:"maxBackups"`

	// MaxAgeDays is the number of days rotated files are kept.
	MaxAgeDays int `mapstructure:"maxAgeDays"`

	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress"`

	// FileAppender enables file-based logging output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables console (stderr) logging output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName implements config.Config.
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate implements config.Config.
func (cfg *LogCfg) Validate() error {
	if _, err := cfg.level(); err != nil {
		return err
	}
	if cfg.FileAppender && cfg.LogPath == "" {
		return fmt.Errorf("path cannot be empty when fileAppender is enabled")
	}
	if cfg.FileSplitMB < 0 {
		return fmt.Errorf("splitmb cannot be negative")
	}
	switch strings.ToLower(cfg.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

func (cfg *LogCfg) level() (zapcore.Level, error) {
	if cfg.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
}

var _defaultCfg = &LogCfg{
	LogPath:         "./comms.log",
	LogLevel:        "info",
	FileSplitMB:     50,
	MaxBackups:      5,
	MaxAgeDays:      7,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
