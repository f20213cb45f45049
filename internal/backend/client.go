// Package backend is the typed client for the agent server's REST and
// WebSocket surfaces. All methods are safe for concurrent use.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascadehq/agentboard/internal/model"
	"github.com/cascadehq/agentboard/internal/telemetry"
)

const apiPrefix = "/api/v1"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the agent server (e.g. "http://localhost:8000").
	BaseURL string

	// APIKey, if set, is sent as a bearer token on every request and on the
	// stream handshake. Local template servers run without auth.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// Ignored when HTTPClient is set.
	Timeout time.Duration

	// StreamBufferSize is the per-channel buffer of a Subscription.
	// Defaults to 64.
	StreamBufferSize int

	// Logger receives stream lifecycle diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an HTTP/WebSocket client for the agent server API.
type Client struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	streamBuf int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or unparsable.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	streamBuf := cfg.StreamBufferSize
	if streamBuf <= 0 {
		streamBuf = 64
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		client:    httpClient,
		streamBuf: streamBuf,
		logger:    logger,
		tracer:    telemetry.Tracer("agentboard/backend"),
	}, nil
}

// ListAgents returns all registered agents keyed by name.
func (c *Client) ListAgents(ctx context.Context) (map[string]model.Agent, error) {
	var agents map[string]model.Agent
	if err := c.get(ctx, apiPrefix+"/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent returns one agent's metadata and schemas.
func (c *Client) GetAgent(ctx context.Context, name string) (*model.Agent, error) {
	var agent model.Agent
	if err := c.get(ctx, apiPrefix+"/agents/"+url.PathEscape(name), &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// CreateCall starts a new execution of the named agent.
func (c *Client) CreateCall(ctx context.Context, agentName string, spec model.CallSpec) (*model.CallSummary, error) {
	var call model.CallSummary
	path := apiPrefix + "/agents/" + url.PathEscape(agentName) + "/calls"
	if err := c.post(ctx, path, spec, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// ListCallsOptions filters and paginates ListCalls.
type ListCallsOptions struct {
	Status model.CallStatus
	Limit  int
	Offset int
}

// ListCalls returns one page of an agent's calls, most recent first.
func (c *Client) ListCalls(ctx context.Context, agentName string, opts ListCallsOptions) (*model.CallList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := apiPrefix + "/agents/" + url.PathEscape(agentName) + "/calls"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list model.CallList
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetCall returns the current summary of one call.
func (c *Client) GetCall(ctx context.Context, id uuid.UUID) (*model.CallSummary, error) {
	var call model.CallSummary
	if err := c.get(ctx, apiPrefix+"/calls/"+id.String(), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// CancelCall requests cancellation of a running call and returns the
// updated summary.
func (c *Client) CancelCall(ctx context.Context, id uuid.UUID) (*model.CallSummary, error) {
	var call model.CallSummary
	if err := c.post(ctx, apiPrefix+"/calls/"+id.String()+"/cancel", nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeleteCall removes a call and its events from the server.
func (c *Client) DeleteCall(ctx context.Context, id uuid.UUID) error {
	var resp deleteResponse
	if err := c.del(ctx, apiPrefix+"/calls/"+id.String(), &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("backend: delete call %s: %s", id, resp.Message)
	}
	return nil
}

type eventsResponse struct {
	Events []model.CallEvent `json:"events"`
}

// ListCallEvents returns the full event history of a call in server order.
func (c *Client) ListCallEvents(ctx context.Context, id uuid.UUID) ([]model.CallEvent, error) {
	var resp eventsResponse
	if err := c.get(ctx, apiPrefix+"/calls/"+id.String()+"/events", &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	return c.doRequest(ctx, req, dest)
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doRequest(ctx, req, dest)
}

func (c *Client) del(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	ctx, span := c.tracer.Start(ctx, req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("backend: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

// errorBody is the server's error shape: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Detail != "" {
		apiErr.Message = eb.Detail
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}
