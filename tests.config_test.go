package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
log_level: debug
server:
  host: 127.0.0.1
  port: "9090"
  write_timeout: 5s
registry:
  backend: bolt
  sync_schedule: "0 * * * *"
accounts:
  - id: main
    loans_url: https://library.example.org/loans/
    token: abc
boltdb:
  filepath: ./registry.db
  bucket_name: registry
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, config.LogLevel)
	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, BackendBolt, config.Registry.Backend)
	require.Len(t, config.Accounts, 1)
	assert.Equal(t, "abc", config.Accounts[0].Token)

	require.NoError(t, InitConfig(config, "commit", "v1.0.0", "now"))
	assert.Equal(t, "main", config.Registry.DefaultAccount)
	assert.Equal(t, 10*time.Second, config.Server.LongRequestWriteTimeout)
	assert.Equal(t, 30*time.Second, config.Registry.AutoSaveInterval)
	assert.Equal(t, "./logs", config.LogFolder)
	assert.Equal(t, "v1.0.0", config.GitTag)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadConfigEnvs(t *testing.T) {
	t.Setenv("REGY_SERVER_PORT", "7070")
	t.Setenv("REGY_REGISTRY_BACKEND", "redis")
	t.Setenv("REGY_EVENTS_ENABLE", "true")
	config := &Config{}
	config.Server.Port = "8080"
	require.NoError(t, LoadConfigEnvs("REGY", config))
	assert.Equal(t, "7070", config.Server.Port)
	assert.Equal(t, BackendRedis, config.Registry.Backend)
	assert.True(t, config.UsesRedis())
}

func TestInitConfig(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Server.Host, c.Server.Port = "0.0.0.0", "8080"
		c.Accounts = []AccountConfig{{ID: "main"}}
		return c
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"missing port", func(c *Config) { c.Server.Port = "" }, false},
		{"unknown backend", func(c *Config) { c.Registry.Backend = "s3" }, false},
		{"no account", func(c *Config) { c.Accounts = nil }, false},
		{"explicit default account", func(c *Config) { c.Accounts = nil; c.Registry.DefaultAccount = "main" }, true},
		{"duplicate account", func(c *Config) { c.Accounts = append(c.Accounts, AccountConfig{ID: "main"}) }, false},
		{"account without id", func(c *Config) { c.Accounts = append(c.Accounts, AccountConfig{}) }, false},
		{"bolt without file", func(c *Config) { c.Registry.Backend = BackendBolt }, false},
		{"events without redis", func(c *Config) { c.Events.Enable = true }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid()
			tc.mutate(config)
			err := InitConfig(config, "", "", "")
			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, BackendFile, config.Registry.Backend)
				assert.Equal(t, "./data", config.Registry.DataDir)
				assert.Equal(t, 2*time.Second, config.Events.PushTimeout)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
