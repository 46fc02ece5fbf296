package comms

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/comms/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 25, cfg.WriterRetryCount)
	assert.Equal(t, 100*time.Millisecond, cfg.WriterRetryDelay)
	assert.Equal(t, 1024, cfg.WriterBufferSize)
	assert.Equal(t, 1024, cfg.ReaderBufferSize)
	assert.Equal(t, 1, cfg.WriterThreadCount)
	assert.Equal(t, 1, cfg.ReaderThreadCount)
	assert.Equal(t, 20, cfg.ArenaStartBlockDepth)
	assert.Equal(t, "[::]:50000", cfg.listenAddr())
	assert.Equal(t, ConfigName, cfg.GetName())
}

func TestConfigSet(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		key, value string
		check      func() bool
	}{
		{"process-name", "alpha", func() bool { return cfg.ProcessName == "alpha" }},
		{"base-port", "6000", func() bool { return cfg.BasePort == 6000 }},
		{"listen-address", "127.0.0.1:7000", func() bool { return cfg.listenAddr() == "127.0.0.1:7000" }},
		{"accessor-buffer-size", "100", func() bool { return cfg.AccessorBufferSize == 100 }},
		{"writer-buffer-size", "0", func() bool { return cfg.WriterBufferSize == 0 }},
		{"reader-buffer-size", "64", func() bool { return cfg.ReaderBufferSize == 64 }},
		{"writer-retry-count", "3", func() bool { return cfg.WriterRetryCount == 3 }},
		{"writer-retry-delay", "250", func() bool { return cfg.WriterRetryDelay == 250*time.Millisecond }},
		{"writer-retry-delay", "2s", func() bool { return cfg.WriterRetryDelay == 2*time.Second }},
		{"writer-thread-count", "4", func() bool { return cfg.WriterThreadCount == 4 }},
		{"reader-thread-count", "2", func() bool { return cfg.ReaderThreadCount == 2 }},
		{"arena-start-block-depth", "12", func() bool { return cfg.ArenaStartBlockDepth == 12 }},
		{"recv-rate-limit", "1000", func() bool { return cfg.RecvRateLimit == 1000 }},
		{"recv-token-burst", "50", func() bool { return cfg.RecvTokenBurst == 50 }},
		{"transmit-rate-limit", "10", func() bool { return cfg.TransmitRateLimit == 10 }},
		{" Idle-Sleep ", "1", func() bool { return cfg.IdleSleep == time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			require.NoError(t, cfg.Set(tt.key, tt.value))
			assert.True(t, tt.check())
		})
	}
	require.NoError(t, cfg.Validate())

	assert.ErrorIs(t, cfg.Set("no-such-key", "1"), ErrUnknownKey)
	assert.ErrorIs(t, cfg.Set("base-port", "many"), ErrInvalidValue)
	assert.ErrorIs(t, cfg.Set("writer-retry-delay", "soon"), ErrInvalidValue)
}

func TestConfigValidate(t *testing.T) {
	mutate := []func(*Config){
		func(c *Config) { c.BasePort = 70000 },
		func(c *Config) { c.AccessorBufferSize = 0 },
		func(c *Config) { c.AccessorBufferSize = BundleCapacity + 1 },
		func(c *Config) { c.WriterBufferSize = -1 },
		func(c *Config) { c.ReaderBufferSize = -1 },
		func(c *Config) { c.WriterRetryCount = -1 },
		func(c *Config) { c.WriterThreadCount = 0 },
		func(c *Config) { c.ReaderThreadCount = 0 },
		func(c *Config) { c.ArenaStartBlockDepth = 31 },
		func(c *Config) { c.RecvRateLimit = -5 },
	}
	for i, m := range mutate {
		cfg := DefaultConfig()
		m(cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidValue, "case %d", i)
	}
}

func TestLoadConfigFromManager(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comms.yaml"), []byte(`
processName: "bench"
writerRetryCount: 7
writerRetryDelay: 20ms
writerThreadCount: 2
`), 0644))

	cm := config.NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(dir)

	cfg, err := LoadConfig(cm)
	require.NoError(t, err)
	assert.Equal(t, "bench", cfg.ProcessName)
	assert.Equal(t, 7, cfg.WriterRetryCount)
	assert.Equal(t, 20*time.Millisecond, cfg.WriterRetryDelay)
	assert.Equal(t, 2, cfg.WriterThreadCount)
	assert.Equal(t, 1024, cfg.WriterBufferSize, "unset keys keep their defaults")

	_, err = LoadConfig(config.NewConfigManager())
	assert.Error(t, err)
}
