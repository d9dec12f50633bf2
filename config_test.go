package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "cert without key", mutate: func(c *Config) { c.tlsCert = "cert.pem" }, wantErr: "--tls-key"},
		{name: "key without cert", mutate: func(c *Config) { c.tlsKey = "key.pem" }, wantErr: "--tls-cert"},
		{name: "port zero", mutate: func(c *Config) { c.port = 0 }, wantErr: "invalid port"},
		{name: "port too high", mutate: func(c *Config) { c.port = 65536 }, wantErr: "invalid port"},
		{name: "no read limit", mutate: func(c *Config) { c.maxMessageSize = 0 }, wantErr: "max message size"},
		{name: "no send buffer", mutate: func(c *Config) { c.sendBuffer = 0 }, wantErr: "send buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestFlagDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags(nil))

	assert.Equal(t, "0.0.0.0", cfg.bind)
	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, int64(1<<20), cfg.maxMessageSize)
	assert.Equal(t, 64, cfg.sendBuffer)
	assert.False(t, cfg.verbose)
	assert.NoError(t, cfg.validate())
}

func TestFlagsFromEnvironment(t *testing.T) {
	t.Setenv("CIRCUITRELAY_PORT", "9090")
	t.Setenv("CIRCUITRELAY_VERBOSE", "true")
	t.Setenv("CIRCUITRELAY_SEND_BUFFER", "8")

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags(nil))

	assert.Equal(t, 9090, cfg.port)
	assert.True(t, cfg.verbose)
	assert.Equal(t, 8, cfg.sendBuffer)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CIRCUITRELAY_PORT", "9090")

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "7000", "--send_buffer=5", "-v"}))

	assert.Equal(t, 7000, cfg.port)
	assert.Equal(t, 5, cfg.sendBuffer)
	assert.True(t, cfg.verbose)
}
