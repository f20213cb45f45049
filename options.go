package agentboard

import (
	"log/slog"
	"net/http"

	"github.com/cascadehq/agentboard/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	cfg        *config.Config
	serverURL  string
	httpClient *http.Client
	logger     *slog.Logger
	version    string
}

// WithConfig bypasses environment loading entirely and uses the given
// configuration. Useful in tests.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = &cfg }
}

// WithServerURL overrides the agent server base URL from config
// (AGENTBOARD_SERVER_URL env var).
func WithServerURL(url string) Option {
	return func(o *resolvedOptions) { o.serverURL = url }
}

// WithHTTPClient sets a custom HTTP client for REST calls, e.g. to add
// proxies or instrumented transports.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in telemetry and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
