// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all agentboard configuration.
type Config struct {
	// Agent server settings.
	ServerURL      string        // Base URL of the agent server REST/WS API.
	APIKey         string        // Optional bearer token.
	RequestTimeout time.Duration // Per-request timeout for REST calls.

	// Stream settings.
	StreamBufferSize int  // Per-channel buffer of a live subscription.
	Resubscribe      bool // Re-subscribe automatically after an unexpected stream closure.

	// Cache settings.
	StaleTTL time.Duration // Age after which cached data is refetched on view entry.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Local draft persistence. Empty disables the draft store.
	DraftDBPath string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		ServerURL:        envStr("AGENTBOARD_SERVER_URL", "http://localhost:8000"),
		APIKey:           envStr("AGENTBOARD_API_KEY", ""),
		RequestTimeout:   envDuration("AGENTBOARD_REQUEST_TIMEOUT", 30*time.Second, &errs),
		StreamBufferSize: envInt("AGENTBOARD_STREAM_BUFFER_SIZE", 64, &errs),
		Resubscribe:      envBool("AGENTBOARD_RESUBSCRIBE", false, &errs),
		StaleTTL:         envDuration("AGENTBOARD_STALE_TTL", 30*time.Second, &errs),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     envBool("AGENTBOARD_OTEL_INSECURE", false, &errs),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "agentboard"),
		DraftDBPath:      envStr("AGENTBOARD_DRAFT_DB", ""),
		LogLevel:         envStr("AGENTBOARD_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return Config{}, errs[0]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: AGENTBOARD_SERVER_URL is required")
	}
	if c.StreamBufferSize <= 0 {
		return fmt.Errorf("config: AGENTBOARD_STREAM_BUFFER_SIZE must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: AGENTBOARD_REQUEST_TIMEOUT must be positive")
	}
	if c.StaleTTL < 0 {
		return fmt.Errorf("config: AGENTBOARD_STALE_TTL must not be negative")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not a valid integer", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not a valid boolean", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not a valid duration", key, v))
		return defaultVal
	}
	return d
}
