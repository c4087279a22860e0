// Package remote implements the resilient HTTP client used to talk to the
// remote scraping/answering worker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/clock/system"
	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/metrics"
)

const (
	opExecute = "remote.execute"

	defaultTimeout       = 30 * time.Second
	defaultMaxAttempts   = 3
	defaultRetryDelay    = time.Second
	defaultHealthTimeout = 5 * time.Second
	defaultUserAgent     = "askmaven-dashboard/1.0"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 10 << 20
)

// Config controls the client's retry and timeout behavior.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	HealthTimeout time.Duration
	UserAgent     string
}

// Client wraps outbound calls to the remote worker with a per-attempt timeout,
// bounded fixed-delay retries, and error classification.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	clock  core.Clock
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying http.Client (e.g. a stub transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock overrides the clock used for retry delays.
func WithClock(clock core.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a Client. Zero-valued config fields fall back to defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	c := &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{},
		clock:  system.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type callConfig struct {
	maxAttempts    int
	timeout        time.Duration
	idempotencyKey string
}

// CallOption adjusts a single Execute call.
type CallOption func(*callConfig)

// WithMaxAttempts overrides the attempt budget for one call. Values below one
// are treated as one.
func WithMaxAttempts(n int) CallOption {
	return func(c *callConfig) {
		c.maxAttempts = n
	}
}

// WithIdempotencyKey sends key as the Idempotency-Key header on every attempt
// so the remote worker can collapse retried submissions.
func WithIdempotencyKey(key string) CallOption {
	return func(c *callConfig) {
		c.idempotencyKey = key
	}
}

func withTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		c.timeout = d
	}
}

// Execute sends method+path to the remote worker and decodes the JSON object
// it returns. Transport failures and 5xx responses are retried after a fixed
// delay until the attempt budget runs out, at which point the failure is
// reported as core.KindRemoteUnavailable. 4xx responses and undecodable
// bodies fail immediately.
func (c *Client) Execute(
	ctx context.Context,
	method, path string,
	body any,
	opts ...CallOption,
) (map[string]any, error) {
	call := callConfig{maxAttempts: c.cfg.MaxAttempts, timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&call)
	}
	if call.maxAttempts < 1 {
		call.maxAttempts = 1
	}
	payload, err := encodeBody(method, body)
	if err != nil {
		return nil, core.E(core.KindInvalidInput, opExecute, "encode request body", err)
	}

	endpoint := endpointLabel(path)
	var lastErr *core.Error
	for attempt := 1; attempt <= call.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.ObserveRemoteRetry(endpoint)
			if err := c.clock.Sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, &core.Error{
					Kind:     core.KindTransport,
					Op:       opExecute,
					Message:  "retry wait interrupted",
					Attempts: attempt - 1,
					Err:      err,
				}
			}
		}

		out, attemptErr := c.attempt(ctx, method, path, payload, call)
		if attemptErr == nil {
			return out, nil
		}
		attemptErr.Attempts = attempt
		if !retryable(attemptErr) {
			return nil, attemptErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &core.Error{
				Kind:     core.KindTransport,
				Op:       opExecute,
				Message:  "request canceled",
				Attempts: attempt,
				Err:      ctxErr,
			}
		}
		lastErr = attemptErr
		if attempt < call.maxAttempts {
			c.logger.Warn("remote attempt failed; retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", call.maxAttempts),
				zap.Error(attemptErr),
			)
		}
	}

	c.logger.Error("remote request exhausted retries",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("attempts", call.maxAttempts),
		zap.Error(lastErr),
	)
	return nil, &core.Error{
		Kind:     core.KindRemoteUnavailable,
		Op:       opExecute,
		Message:  fmt.Sprintf("giving up after %d attempts", call.maxAttempts),
		Attempts: call.maxAttempts,
		Err:      lastErr,
	}
}

// HealthCheck probes the worker root once. Every failure is reduced to false:
// dashboard health display must never block on, or surface, network errors.
func (c *Client) HealthCheck(ctx context.Context) bool {
	out, err := c.Execute(ctx, http.MethodGet, "/", nil, WithMaxAttempts(1), withTimeout(c.cfg.HealthTimeout))
	if err != nil {
		c.logger.Debug("remote health probe failed", zap.Error(err))
		metrics.SetRemoteHealthy(false)
		return false
	}
	status, _ := out["status"].(string)
	healthy := status == "healthy"
	metrics.SetRemoteHealthy(healthy)
	return healthy
}

func (c *Client) attempt(
	ctx context.Context,
	method, path string,
	payload []byte,
	call callConfig,
) (map[string]any, *core.Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.url(path), reader)
	if err != nil {
		return nil, core.E(core.KindInvalidInput, opExecute, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if call.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", call.idempotencyKey)
	}

	endpoint := endpointLabel(path)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRemoteAttempt(endpoint, "transport_error", time.Since(start))
		return nil, core.E(core.KindTransport, opExecute, "request failed", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveRemoteAttempt(endpoint, "transport_error", time.Since(start))
		return nil, core.E(core.KindTransport, opExecute, "read response body", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		metrics.ObserveRemoteAttempt(endpoint, "server_error", time.Since(start))
		return nil, &core.Error{
			Kind:       core.KindRemoteUnavailable,
			Op:         opExecute,
			Message:    remoteDetail(raw, resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode >= http.StatusBadRequest:
		metrics.ObserveRemoteAttempt(endpoint, "client_error", time.Since(start))
		return nil, &core.Error{
			Kind:       core.KindRemoteRejected,
			Op:         opExecute,
			Message:    remoteDetail(raw, resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	out, err := decodeObject(raw)
	if err != nil {
		metrics.ObserveRemoteAttempt(endpoint, "decode_error", time.Since(start))
		return nil, &core.Error{
			Kind:    core.KindDecode,
			Op:      opExecute,
			Message: "decode response body",
			Err:     err,
		}
	}
	metrics.ObserveRemoteAttempt(endpoint, "ok", time.Since(start))
	c.logger.Debug("remote request succeeded",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base.String() + path
}

func retryable(err *core.Error) bool {
	return err.Kind == core.KindTransport || err.Kind == core.KindRemoteUnavailable
}

func encodeBody(method string, body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return payload, nil
}

// decodeObject decodes a JSON object. An empty body decodes to an empty map.
func decodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal json object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// remoteDetail extracts the worker's "detail" message, falling back to the
// status code. FastAPI-style validation errors carry a list of {msg} objects
// instead of a string.
func remoteDetail(raw []byte, status int) string {
	if msg := detailMessage(raw); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP Error %d", status)
}

func detailMessage(raw []byte) string {
	var envelope struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	switch d := envelope.Detail.(type) {
	case string:
		return strings.TrimSpace(d)
	case []any:
		msgs := make([]string, 0, len(d))
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok && msg != "" {
					msgs = append(msgs, msg)
				}
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// endpointLabel reduces a path to its first segment for metric labels, so
// job ids never become label values.
func endpointLabel(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	return "/" + path
}
