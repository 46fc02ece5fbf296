package comms

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/lcx/comms/codec"
	"github.com/lcx/comms/config"
)

// ConfigName is the name Config is loaded and hot-reloaded under.
const ConfigName = "comms"

// Config holds the tunables of an Instance. Sizes and thread counts are
// fixed at Start; the rate limits may change while running.
type Config struct {
	ProcessName   string `mapstructure:"processName"`
	BasePort      int    `mapstructure:"basePort"`
	ListenAddress string `mapstructure:"listenAddress"`

	// AccessorBufferSize is the number of packets an accessor collects per
	// destination before flushing, at most BundleCapacity.
	AccessorBufferSize int `mapstructure:"accessorBufferSize"`
	// WriterBufferSize is the capacity of the outbound bundle queue.
	WriterBufferSize int `mapstructure:"writerBufferSize"`
	// ReaderBufferSize is the capacity of the inbound bundle queue and of
	// the reader work queue.
	ReaderBufferSize int `mapstructure:"readerBufferSize"`

	WriterRetryCount  int           `mapstructure:"writerRetryCount"`
	WriterRetryDelay  time.Duration `mapstructure:"writerRetryDelay"`
	WriterThreadCount int           `mapstructure:"writerThreadCount"`
	ReaderThreadCount int           `mapstructure:"readerThreadCount"`

	// ArenaStartBlockDepth is log2 of the initial encode buffer size.
	ArenaStartBlockDepth int `mapstructure:"arenaStartBlockDepth"`

	// RecvRateLimit caps accepted frames per second; 0 disables it.
	RecvRateLimit  int `mapstructure:"recvRateLimit"`
	RecvTokenBurst int `mapstructure:"recvTokenBurst"`
	// TransmitRateLimit caps bundles per second across all writers of the
	// instance; 0 disables it.
	TransmitRateLimit int `mapstructure:"transmitRateLimit"`

	// IdleSleep is how long writers and readers back off on an empty queue.
	IdleSleep time.Duration `mapstructure:"idleSleep"`
	// MaxRoutes bounds the number of accessors alive at once.
	MaxRoutes int `mapstructure:"maxRoutes"`
}

// DefaultConfig returns the configuration an Instance starts with.
func DefaultConfig() *Config {
	return &Config{
		ProcessName:          "comms",
		BasePort:             50000,
		AccessorBufferSize:   BundleCapacity,
		WriterBufferSize:     1024,
		ReaderBufferSize:     1024,
		WriterRetryCount:     25,
		WriterRetryDelay:     100 * time.Millisecond,
		WriterThreadCount:    1,
		ReaderThreadCount:    1,
		ArenaStartBlockDepth: codec.DefaultBlockDepth,
		IdleSleep:            time.Millisecond,
		MaxRoutes:            DefaultMaxRoutes,
	}
}

// GetName implements config.Config.
func (c *Config) GetName() string {
	return ConfigName
}

// Validate implements config.Config.
func (c *Config) Validate() error {
	switch {
	case c.BasePort < 0 || c.BasePort > 65535:
		return fmt.Errorf("%w: basePort %d out of range", ErrInvalidValue, c.BasePort)
	case c.AccessorBufferSize <= 0 || c.AccessorBufferSize > BundleCapacity:
		return fmt.Errorf("%w: accessorBufferSize must be in [1, %d]", ErrInvalidValue, BundleCapacity)
	case c.WriterBufferSize < 0:
		return fmt.Errorf("%w: writerBufferSize cannot be negative", ErrInvalidValue)
	case c.ReaderBufferSize < 0:
		return fmt.Errorf("%w: readerBufferSize cannot be negative", ErrInvalidValue)
	case c.WriterRetryCount < 0:
		return fmt.Errorf("%w: writerRetryCount cannot be negative", ErrInvalidValue)
	case c.WriterRetryDelay < 0:
		return fmt.Errorf("%w: writerRetryDelay cannot be negative", ErrInvalidValue)
	case c.WriterThreadCount <= 0:
		return fmt.Errorf("%w: writerThreadCount must be positive", ErrInvalidValue)
	case c.ReaderThreadCount <= 0:
		return fmt.Errorf("%w: readerThreadCount must be positive", ErrInvalidValue)
	case c.ArenaStartBlockDepth < 0 || c.ArenaStartBlockDepth > 30:
		return fmt.Errorf("%w: arenaStartBlockDepth must be in [0, 30]", ErrInvalidValue)
	case c.RecvRateLimit < 0 || c.RecvTokenBurst < 0 || c.TransmitRateLimit < 0:
		return fmt.Errorf("%w: rate limits cannot be negative", ErrInvalidValue)
	case c.IdleSleep < 0:
		return fmt.Errorf("%w: idleSleep cannot be negative", ErrInvalidValue)
	}
	return nil
}

// listenAddr is ListenAddress, or every interface on BasePort.
func (c *Config) listenAddr() string {
	if c.ListenAddress != "" {
		return c.ListenAddress
	}
	return fmt.Sprintf("[::]:%d", c.BasePort)
}

// Set applies one string-keyed setting. Keys use the dashed names of the
// command line (e.g. "writer-retry-count"). Durations accept Go syntax
// ("250ms") or a bare integer in milliseconds.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "process-name":
		c.ProcessName = value
	case "base-port":
		c.BasePort, err = cast.ToIntE(value)
	case "listen-address":
		c.ListenAddress = value
	case "accessor-buffer-size":
		c.AccessorBufferSize, err = cast.ToIntE(value)
	case "writer-buffer-size":
		c.WriterBufferSize, err = cast.ToIntE(value)
	case "reader-buffer-size":
		c.ReaderBufferSize, err = cast.ToIntE(value)
	case "writer-retry-count":
		c.WriterRetryCount, err = cast.ToIntE(value)
	case "writer-retry-delay":
		c.WriterRetryDelay, err = toMillisDuration(value)
	case "writer-thread-count":
		c.WriterThreadCount, err = cast.ToIntE(value)
	case "reader-thread-count":
		c.ReaderThreadCount, err = cast.ToIntE(value)
	case "arena-start-block-depth":
		c.ArenaStartBlockDepth, err = cast.ToIntE(value)
	case "recv-rate-limit":
		c.RecvRateLimit, err = cast.ToIntE(value)
	case "recv-token-burst":
		c.RecvTokenBurst, err = cast.ToIntE(value)
	case "transmit-rate-limit":
		c.TransmitRateLimit, err = cast.ToIntE(value)
	case "idle-sleep":
		c.IdleSleep, err = toMillisDuration(value)
	case "max-routes":
		c.MaxRoutes, err = cast.ToIntE(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, key, value, err)
	}
	return nil
}

func toMillisDuration(value string) (time.Duration, error) {
	if ms, err := cast.ToInt64E(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return cast.ToDurationE(value)
}

// LoadConfig reads the "comms" configuration through cm on top of the
// defaults.
func LoadConfig(cm config.ConfigManager) (*Config, error) {
	cfg := DefaultConfig()
	if err := cm.LoadConfig(ConfigName, cfg); err != nil {
		return nil, fmt.Errorf("load %s config: %w", ConfigName, err)
	}
	return cfg, nil
}
