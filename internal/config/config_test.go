package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	return FromViper(v)
}

func TestFromViper_Defaults(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 6, cfg.OTP.Length)
	assert.Equal(t, 60*time.Second, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.Abuse.MaxFailures)
	assert.Equal(t, time.Hour, cfg.Abuse.FailureWindow)
	assert.Equal(t, time.Hour, cfg.Abuse.BlockDuration)
	assert.Equal(t, []string{"localhost:9042"}, cfg.Scylla.Nodes)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
	assert.Empty(t, cfg.Server.TrustedProxies)
	require.NoError(t, cfg.Validate())
}

func TestFromViper_Overrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("environment", "PRODUCTION")
	v.Set("kafka.brokers", "k1:9092, k2:9092 ,")
	v.Set("otp.ttl", "2m")
	v.Set("sms.provider", "Kafka")
	v.Set("server.trusted_proxies", "10.0.0.0/8,172.16.0.0/12")

	cfg := FromViper(v)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, "kafka", cfg.SMS.Provider)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero otp length", mutate: func(c *Config) { c.OTP.Length = 0 }, wantErr: true},
		{name: "zero otp ttl", mutate: func(c *Config) { c.OTP.TTL = 0 }, wantErr: true},
		{name: "zero failures", mutate: func(c *Config) { c.Abuse.MaxFailures = 0 }, wantErr: true},
		{name: "zero block", mutate: func(c *Config) { c.Abuse.BlockDuration = 0 }, wantErr: true},
		{name: "kms without key", mutate: func(c *Config) { c.KMS.Enabled = true }, wantErr: true},
		{name: "unknown sms provider", mutate: func(c *Config) { c.SMS.Provider = "pigeon" }, wantErr: true},
		{name: "trusted proxy range", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8"} }},
		{name: "bare proxy address", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.1"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
