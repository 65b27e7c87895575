package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Database.User = "cohortd"
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultDBMaxConns, cfg.Database.MaxConns)
	assert.Equal(t, DefaultRedisTTL, cfg.Redis.DefaultTTL)
	assert.Equal(t, DefaultMinIOBucket, cfg.MinIO.Bucket)
	assert.Equal(t, DefaultTenantHeader, cfg.Multitenancy.TenantHeader)
	assert.Equal(t, DefaultComparisonTTL, cfg.Comparison.CacheTTL)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9090
	cfg.Comparison.CacheTTL = time.Minute
	ApplyDefaults(cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Comparison.CacheTTL)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad mode", func(c *Config) { c.Server.Mode = "staging" }},
		{"missing db user", func(c *Config) { c.Database.User = "" }},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"missing bucket", func(c *Config) { c.MinIO.Bucket = "" }},
		{"kafka enabled without topic", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = ""
		}},
		{"zero comparison ttl", func(c *Config) { c.Comparison.CacheTTL = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
