package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired sets the variables Load cannot default, and clears the rest.
func setRequired(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL", "NATS_URL", "SOLANA_NETWORK",
		"STORAGE_URL", "STORAGE_API_KEY", "TEMPORAL_HOST", "TEMPORAL_NAMESPACE",
		"TEMPORAL_TASK_QUEUE", "RPC_TIMEOUT", "SIGNING_TIMEOUT", "CONFIRM_TIMEOUT",
		"CONFIRM_POLL_INTERVAL", "VERIFY_LOOKBACK", "VERIFY_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	t.Setenv("AUTH_SECRET", "test-secret")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "devnet", cfg.SolanaNetwork)
	assert.Equal(t, "mintctl-receipts", cfg.TemporalTaskQueue)
	assert.Equal(t, 10*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 15*time.Second, cfg.SigningTimeout)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.VerifyLookback)
	assert.Equal(t, 5, cfg.VerifyAttempts)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		unset string
		want  string
	}{
		{"DATABASE_URL", "DATABASE_URL is required"},
		{"SOLANA_RPC_URL", "SOLANA_RPC_URL is required"},
		{"AUTH_SECRET", "AUTH_SECRET is required"},
	}
	for _, tt := range tests {
		t.Run(tt.unset, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SIGNING_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "AUTH_SECRET is required")
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_UnknownNetwork(t *testing.T) {
	setRequired(t)
	t.Setenv("SOLANA_NETWORK", "moonnet")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown network")
}

func TestLoad_InvalidAttempts(t *testing.T) {
	setRequired(t)
	t.Setenv("VERIFY_ATTEMPTS", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoad_PollIntervalGreaterThanTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIRM_TIMEOUT", "1s")
	t.Setenv("CONFIRM_POLL_INTERVAL", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be greater than")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SOLANA_NETWORK", "mainnet")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")
	t.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	t.Setenv("STORAGE_URL", "https://uploader.example.com")
	t.Setenv("STORAGE_API_KEY", "storage-key")
	t.Setenv("CONFIRM_TIMEOUT", "2m")
	t.Setenv("VERIFY_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mainnet", cfg.SolanaNetwork)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, "https://uploader.example.com", cfg.StorageURL)
	assert.Equal(t, "storage-key", cfg.StorageAPIKey)
	assert.Equal(t, 2*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, 3, cfg.VerifyAttempts)
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:         "postgres://localhost/test",
		AuthSecret:          "secret",
		SolanaNetwork:       "devnet",
		SolanaRPCURL:        "https://api.devnet.solana.com",
		TemporalHost:        "localhost:7233",
		TemporalNamespace:   "default",
		TemporalTaskQueue:   "mintctl-receipts",
		SigningTimeout:      15 * time.Second,
		ConfirmTimeout:      90 * time.Second,
		ConfirmPollInterval: 2 * time.Second,
		VerifyAttempts:      5,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DatabaseURL is required"},
		{"missing secret", func(c *Config) { c.AuthSecret = "" }, "AuthSecret is required"},
		{"bad network", func(c *Config) { c.SolanaNetwork = "x" }, "not a known network"},
		{"poll over timeout", func(c *Config) { c.ConfirmPollInterval = 2 * time.Minute }, "cannot be greater than ConfirmTimeout"},
		{"short signing", func(c *Config) { c.SigningTimeout = 100 * time.Millisecond }, "must be at least 1 second"},
		{"no attempts", func(c *Config) { c.VerifyAttempts = 0 }, "VerifyAttempts must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequired(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
