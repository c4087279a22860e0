package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/askmaven/internal/core"
)

type stubResponse struct {
	status int
	body   string
	err    error
}

// stubTransport replays canned responses in order and records each request.
type stubTransport struct {
	mu        sync.Mutex
	responses []stubResponse
	requests  []*http.Request
	bodies    []string
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	s.bodies = append(s.bodies, body)

	idx := len(s.requests) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	resp := s.responses[idx]
	if resp.err != nil {
		return nil, resp.err
	}
	return &http.Response{
		StatusCode: resp.status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Request:    req,
	}, nil
}

func (s *stubTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func newTestClient(t *testing.T, transport *stubTransport, clock *fakeClock) *Client {
	t.Helper()
	c, err := New(
		Config{BaseURL: "http://worker.test/api/", RetryDelay: time.Second},
		WithHTTPClient(&http.Client{Transport: transport}),
		WithClock(clock),
	)
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestExecuteRetriesTransientFailuresThenSucceeds(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{
		{err: errors.New("connection refused")},
		{status: http.StatusServiceUnavailable, body: `{"detail":"warming up"}`},
		{status: http.StatusOK, body: `{"status":"ok"}`},
	}}
	clock := &fakeClock{}
	c := newTestClient(t, transport, clock)

	out, err := c.Execute(context.Background(), http.MethodGet, "/stats", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", out["status"])
	require.Equal(t, 3, transport.calls())
	require.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)
	require.Equal(t, "http://worker.test/api/stats", transport.requests[0].URL.String())
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{
		{status: http.StatusUnprocessableEntity, body: `{"detail":"Sitemap already queued"}`},
	}}
	clock := &fakeClock{}
	c := newTestClient(t, transport, clock)

	_, err := c.Execute(context.Background(), http.MethodPost, PathScrapeJob, SubmitRequest{SitemapURL: "x"})
	require.Error(t, err)
	require.Equal(t, 1, transport.calls())
	require.Empty(t, clock.sleeps)

	var remoteErr *core.Error
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, core.KindRemoteRejected, remoteErr.Kind)
	require.Equal(t, http.StatusUnprocessableEntity, remoteErr.StatusCode)
	require.Equal(t, "Sitemap already queued", remoteErr.Message)
	require.Equal(t, 1, remoteErr.Attempts)
	require.Equal(t, "Sitemap already queued", core.UserMessage(err))
}

func TestExecuteNotFoundWithoutDetailUsesStatusText(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{{status: http.StatusNotFound, body: ``}}}
	c := newTestClient(t, transport, &fakeClock{})

	_, err := c.Execute(context.Background(), http.MethodGet, "/scraping-status/abc", nil)
	require.True(t, core.IsKind(err, core.KindRemoteRejected))
	require.Equal(t, "HTTP Error 404", core.UserMessage(err))
	require.Equal(t, 1, transport.calls())
}

func TestExecuteExhaustsAttemptsAsUnavailable(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{
		{status: http.StatusBadGateway, body: `{"detail":"worker overloaded"}`},
	}}
	clock := &fakeClock{}
	c := newTestClient(t, transport, clock)

	_, err := c.Execute(context.Background(), http.MethodGet, "/stats", nil)
	require.Error(t, err)
	require.Equal(t, 3, transport.calls())
	require.Len(t, clock.sleeps, 2)

	var remoteErr *core.Error
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, core.KindRemoteUnavailable, remoteErr.Kind)
	require.Equal(t, 3, remoteErr.Attempts)
	require.Equal(t, "worker overloaded", core.UserMessage(err))
}

func TestExecuteTransportExhaustionHasGenericMessage(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{{err: errors.New("i/o timeout")}}}
	c := newTestClient(t, transport, &fakeClock{})

	_, err := c.Execute(context.Background(), http.MethodGet, "/stats", nil)
	require.True(t, core.IsKind(err, core.KindRemoteUnavailable))
	require.Equal(t, core.GenericRetryMessage, core.UserMessage(err))
	require.Contains(t, err.Error(), "i/o timeout")
}

func TestExecuteMaxAttemptsOverride(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{{status: http.StatusInternalServerError}}}
	c := newTestClient(t, transport, &fakeClock{})

	_, err := c.Execute(context.Background(), http.MethodGet, "/stats", nil, WithMaxAttempts(1))
	require.True(t, core.IsKind(err, core.KindRemoteUnavailable))
	require.Equal(t, 1, transport.calls())

	_, err = c.Execute(context.Background(), http.MethodGet, "/stats", nil, WithMaxAttempts(0))
	require.Error(t, err)
	require.Equal(t, 2, transport.calls())
}

func TestExecuteDecodeFailureIsTerminal(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{{status: http.StatusOK, body: `<html>oops</html>`}}}
	c := newTestClient(t, transport, &fakeClock{})

	_, err := c.Execute(context.Background(), http.MethodGet, "/stats", nil)
	require.True(t, core.IsKind(err, core.KindDecode))
	require.Equal(t, 1, transport.calls())
}

func TestExecuteEmptyBodyDecodesToEmptyMap(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{{status: http.StatusNoContent}}}
	c := newTestClient(t, transport, &fakeClock{})

	out, err := c.Execute(context.Background(), http.MethodGet, "/stats", nil)
	require.NoError(t, err)
	require.Empty(t, out)
	require.NotNil(t, out)
}

func TestExecuteReplaysBodyAndIdempotencyKey(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{
		{status: http.StatusServiceUnavailable},
		{status: http.StatusOK, body: `{"job_id":"r-1"}`},
	}}
	c := newTestClient(t, transport, &fakeClock{})

	req := SubmitRequest{SitemapURL: "https://example.com/sitemap.xml", UserID: 42}
	_, err := c.Execute(context.Background(), http.MethodPost, PathScrapeJob, req, WithIdempotencyKey("local-1"))
	require.NoError(t, err)
	require.Equal(t, 2, transport.calls())
	require.Equal(t, transport.bodies[0], transport.bodies[1])
	require.JSONEq(t, `{"sitemap_url":"https://example.com/sitemap.xml","user_id":42}`, transport.bodies[0])
	for _, r := range transport.requests {
		require.Equal(t, "local-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}
}

func TestExecuteStopsWhenContextDone(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{responses: []stubResponse{{status: http.StatusServiceUnavailable}}}
	c := newTestClient(t, transport, &fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Execute(ctx, http.MethodGet, "/stats", nil)
	require.True(t, core.IsKind(err, core.KindTransport))
	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, transport.calls(), 1)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		response stubResponse
		want     bool
	}{
		{name: "healthy", response: stubResponse{status: http.StatusOK, body: `{"status":"healthy"}`}, want: true},
		{name: "degraded", response: stubResponse{status: http.StatusOK, body: `{"status":"degraded"}`}},
		{name: "server error", response: stubResponse{status: http.StatusInternalServerError}},
		{name: "transport", response: stubResponse{err: errors.New("dial tcp: refused")}},
		{name: "garbage", response: stubResponse{status: http.StatusOK, body: `nope`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			transport := &stubTransport{responses: []stubResponse{tc.response}}
			clock := &fakeClock{}
			c := newTestClient(t, transport, clock)

			require.Equal(t, tc.want, c.HealthCheck(context.Background()))
			require.Equal(t, 1, transport.calls())
			require.Empty(t, clock.sleeps)
		})
	}
}

func TestRemoteDetailParsesValidationLists(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"detail":[{"loc":["body","sitemap_url"],"msg":"field required"},{"msg":"bad user"}]}`)
	require.Equal(t, "field required; bad user", remoteDetail(raw, 422))
	require.Equal(t, "HTTP Error 500", remoteDetail([]byte(`{}`), 500))
}

func TestEndpointLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/scraping-status", endpointLabel("/scraping-status/0192-abc"))
	require.Equal(t, "/", endpointLabel("/"))
	require.Equal(t, "/stats", endpointLabel("stats?x=1"))
}
