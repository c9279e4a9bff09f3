package config

import (
	"testing"

	"github.com/caarlos0/env/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URI", "file:test.db")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WECHAT_PLATFORM_CERT_PATHS", "a.pem,b.pem")

	var config Config
	require.NoError(t, env.Parse(&config))
	require.NoError(t, config.validateConfig())

	assert.Equal(t, "postgres", config.DatabaseDriver)
	assert.Equal(t, "https://api.mch.weixin.qq.com", config.GatewayBaseURL)
	assert.Equal(t, int64(20000), config.WithdrawSingleLimit)
	assert.Equal(t, int64(50000), config.WithdrawDailyLimit)
	assert.Equal(t, 3, config.NotifyAttempts)
	assert.Equal(t, []string{"a.pem", "b.pem"}, config.PlatformCertPaths)
	assert.False(t, config.MerchantConfigured())

	rate, err := config.CommissionRate()
	require.NoError(t, err)
	assert.Equal(t, "0.1000", rate.StringFixed(4))
}

func TestValidateConfig(t *testing.T) {
	valid := Config{DatabaseURI: "db", DatabaseDriver: "sqlite", JWTSecret: "s", DefaultCommissionRate: "0.1"}
	require.NoError(t, valid.validateConfig())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no database", func(c *Config) { c.DatabaseURI = "" }},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"no secret", func(c *Config) { c.JWTSecret = "" }},
		{"bad ledger address", func(c *Config) { c.LedgerAddress = "not a url" }},
		{"rate above one", func(c *Config) { c.DefaultCommissionRate = "1.5" }},
		{"rate not a number", func(c *Config) { c.DefaultCommissionRate = "ten percent" }},
		{"short api key", func(c *Config) { c.APIV3Key = "short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)

			assert.Error(t, config.validateConfig())
		})
	}
}
