package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STORAGE_TYPE", "SQLITE_PATH", "DEFAULT_LIMIT", "MAX_LIMIT", "UPSTREAM_CACHE_TTL", "AUTH_SECRET", "API_PORT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StorageType)
	assert.Equal(t, "./ci.db", cfg.SQLitePath)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, 25, cfg.DefaultLimit)
	assert.Equal(t, 100, cfg.MaxLimit)
	assert.Equal(t, 5*time.Minute, cfg.UpstreamCacheTTL)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("DEFAULT_LIMIT", "many")
	_, err := Load()

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "DEFAULT_LIMIT", cfgErr.Field)

	t.Setenv("DEFAULT_LIMIT", "")
	t.Setenv("UPSTREAM_CACHE_TTL", "soon")
	_, err = Load()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "UPSTREAM_CACHE_TTL", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	valid := Config{StorageType: "sqlite", AuthSecret: "s", DefaultLimit: 25, MaxLimit: 100}
	require.NoError(t, valid.Validate())

	tests := []struct {
		field  string
		mutate func(c *Config)
	}{
		{"STORAGE_TYPE", func(c *Config) { c.StorageType = "mysql" }},
		{"POSTGRES_URL", func(c *Config) { c.StorageType = "postgres" }},
		{"AUTH_SECRET", func(c *Config) { c.AuthSecret = "" }},
		{"DEFAULT_LIMIT", func(c *Config) { c.DefaultLimit = 0 }},
		{"MAX_LIMIT", func(c *Config) { c.MaxLimit = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
