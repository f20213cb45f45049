package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so host environment cannot leak
// into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AGENTBOARD_SERVER_URL",
		"AGENTBOARD_API_KEY",
		"AGENTBOARD_REQUEST_TIMEOUT",
		"AGENTBOARD_STREAM_BUFFER_SIZE",
		"AGENTBOARD_RESUBSCRIBE",
		"AGENTBOARD_STALE_TTL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"AGENTBOARD_OTEL_INSECURE",
		"OTEL_SERVICE_NAME",
		"AGENTBOARD_DRAFT_DB",
		"AGENTBOARD_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 64, cfg.StreamBufferSize)
	assert.False(t, cfg.Resubscribe)
	assert.Equal(t, 30*time.Second, cfg.StaleTTL)
	assert.Empty(t, cfg.OTELEndpoint)
	assert.Equal(t, "agentboard", cfg.ServiceName)
	assert.Empty(t, cfg.DraftDBPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTBOARD_SERVER_URL", "https://agents.internal:9000")
	t.Setenv("AGENTBOARD_API_KEY", "secret")
	t.Setenv("AGENTBOARD_REQUEST_TIMEOUT", "5s")
	t.Setenv("AGENTBOARD_STREAM_BUFFER_SIZE", "256")
	t.Setenv("AGENTBOARD_RESUBSCRIBE", "true")
	t.Setenv("AGENTBOARD_STALE_TTL", "2m")
	t.Setenv("AGENTBOARD_DRAFT_DB", "/tmp/drafts.db")
	t.Setenv("AGENTBOARD_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://agents.internal:9000", cfg.ServerURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 256, cfg.StreamBufferSize)
	assert.True(t, cfg.Resubscribe)
	assert.Equal(t, 2*time.Minute, cfg.StaleTTL)
	assert.Equal(t, "/tmp/drafts.db", cfg.DraftDBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTBOARD_STREAM_BUFFER_SIZE", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTBOARD_STREAM_BUFFER_SIZE")
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTBOARD_STALE_TTL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTBOARD_STALE_TTL")
}

func TestLoad_InvalidBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTBOARD_RESUBSCRIBE", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTBOARD_RESUBSCRIBE")
}

func TestValidate(t *testing.T) {
	valid := Config{
		ServerURL:        "http://localhost:8000",
		RequestTimeout:   30 * time.Second,
		StreamBufferSize: 64,
	}
	require.NoError(t, valid.Validate())

	noURL := valid
	noURL.ServerURL = ""
	assert.ErrorContains(t, noURL.Validate(), "AGENTBOARD_SERVER_URL")

	badBuf := valid
	badBuf.StreamBufferSize = 0
	assert.ErrorContains(t, badBuf.Validate(), "AGENTBOARD_STREAM_BUFFER_SIZE")

	badTimeout := valid
	badTimeout.RequestTimeout = 0
	assert.ErrorContains(t, badTimeout.Validate(), "AGENTBOARD_REQUEST_TIMEOUT")

	badTTL := valid
	badTTL.StaleTTL = -time.Second
	assert.ErrorContains(t, badTTL.Validate(), "AGENTBOARD_STALE_TTL")
}
