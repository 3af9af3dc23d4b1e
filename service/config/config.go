package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration shared by the server and worker binaries.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string
	AuthSecret  string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaNetwork string
	SolanaRPCURL  string
	RPCTimeout    time.Duration

	// Metadata storage gateway
	StorageURL    string
	StorageAPIKey string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Engine timing
	SigningTimeout      time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// VerifyLookback bounds how old a receipt may be and still be verified.
	VerifyLookback time.Duration

	// VerifyAttempts is the retry budget for fetching a receipt's transaction.
	VerifyAttempts int
}

var networks = map[string]bool{
	"mainnet": true,
	"devnet":  true,
	"testnet": true,
	"local":   true,
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error listing every missing or invalid value.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.AuthSecret = os.Getenv("AUTH_SECRET")
	if cfg.AuthSecret == "" {
		errs = append(errs, fmt.Errorf("AUTH_SECRET is required"))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	if !networks[cfg.SolanaNetwork] {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK: unknown network %q", cfg.SolanaNetwork))
	}

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.StorageURL = os.Getenv("STORAGE_URL")
	cfg.StorageAPIKey = os.Getenv("STORAGE_API_KEY")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "mintctl-receipts")

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"RPC_TIMEOUT", "10s", &cfg.RPCTimeout},
		{"SIGNING_TIMEOUT", "15s", &cfg.SigningTimeout},
		{"CONFIRM_TIMEOUT", "90s", &cfg.ConfirmTimeout},
		{"CONFIRM_POLL_INTERVAL", "2s", &cfg.ConfirmPollInterval},
		{"VERIFY_LOOKBACK", "168h", &cfg.VerifyLookback},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	attempts, err := parseInt("VERIFY_ATTEMPTS", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.VerifyAttempts = attempts
	}

	if cfg.ConfirmPollInterval > cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) cannot be greater than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmPollInterval, cfg.ConfirmTimeout))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.AuthSecret == "" {
		errs = append(errs, fmt.Errorf("AuthSecret is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if !networks[c.SolanaNetwork] {
		errs = append(errs, fmt.Errorf("SolanaNetwork %q is not a known network", c.SolanaNetwork))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval cannot be greater than ConfirmTimeout"))
	}

	if c.SigningTimeout < time.Second {
		errs = append(errs, fmt.Errorf("SigningTimeout must be at least 1 second"))
	}

	if c.VerifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("VerifyAttempts must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
