package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
)

// Remote worker endpoints, relative to Config.BaseURL.
const (
	PathScrapeJob      = "/scrape-job"
	PathScrapingStatus = "/scraping-status/"
	PathChat           = "/chat"
	PathStats          = "/stats"
	PathHealth         = "/"
)

// SubmitRequest is the body of POST /scrape-job.
type SubmitRequest struct {
	SitemapURL string `json:"sitemap_url"`
	UserID     int64  `json:"user_id"`
}

// SubmitResponse is the worker's acknowledgement of a submission. Counts it
// may carry are ignored; a new job always starts pending with zero counters.
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Question     string `json:"question"`
	UserID       int64  `json:"user_id"`
	ContextLimit int    `json:"context_limit"`
}

// ChatResponse is the worker's answer. ResponseTimeMS is nil when the worker
// did not report timing.
type ChatResponse struct {
	Answer         string   `json:"answer"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	ContextFound   bool     `json:"context_found"`
}

// statusResponse keeps pointers so an absent field can be told apart from a
// zero one.
type statusResponse struct {
	Status       *string `json:"status"`
	TotalPages   *int    `json:"total_pages"`
	ScrapedPages *int    `json:"scraped_pages"`
	FailedPages  *int    `json:"failed_pages"`
	LastScraped  *string `json:"last_scraped"`
}

// lastScrapedLayouts are the timestamp shapes the worker has been seen to emit.
var lastScrapedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// SubmitScrapeJob posts a sitemap for scraping. Once the worker has accepted
// the job the reply is read field by field: a field of unexpected shape is
// left empty, and an undecodable body yields an empty response, instead of
// failing a submission that already happened.
func (c *Client) SubmitScrapeJob(ctx context.Context, req SubmitRequest, opts ...CallOption) (SubmitResponse, error) {
	var out SubmitResponse
	raw, err := c.Execute(ctx, http.MethodPost, PathScrapeJob, req, opts...)
	if core.IsKind(err, core.KindDecode) {
		c.logger.Warn("submit accepted with unreadable reply; worker job id unknown", zap.Error(err))
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.JobID = lenientString(raw, "job_id")
	out.Status = lenientString(raw, "status")
	out.Message = lenientString(raw, "message")
	return out, nil
}

// ScrapingStatus fetches the worker's view of one job. Missing counters
// default to zero. A missing status is reported as such so the caller keeps
// its own; a body carrying neither status nor counters, or an unrecognized
// status, is a decode failure.
func (c *Client) ScrapingStatus(ctx context.Context, remoteJobID string) (core.RemoteJobStatus, error) {
	const op = "remote.scraping_status"
	if strings.TrimSpace(remoteJobID) == "" {
		return core.RemoteJobStatus{}, core.E(core.KindInvalidInput, op, "job id is required", nil)
	}
	raw, err := c.Execute(ctx, http.MethodGet, PathScrapingStatus+url.PathEscape(remoteJobID), nil)
	if err != nil {
		return core.RemoteJobStatus{}, err
	}
	var wire statusResponse
	if err := decodeInto(raw, &wire); err != nil {
		return core.RemoteJobStatus{}, core.E(core.KindDecode, op, "decode status response", err)
	}
	return wire.toDomain()
}

// Chat asks the worker one question.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	raw, err := c.Execute(ctx, http.MethodPost, PathChat, req)
	if err != nil {
		return out, err
	}
	if err := decodeInto(raw, &out); err != nil {
		return out, core.E(core.KindDecode, "remote.chat", "decode chat response", err)
	}
	return out, nil
}

// Stats returns the worker's aggregate statistics without interpretation.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	return c.Execute(ctx, http.MethodGet, PathStats, nil)
}

func (s statusResponse) toDomain() (core.RemoteJobStatus, error) {
	const op = "remote.scraping_status"
	status := ""
	if s.Status != nil {
		status = strings.TrimSpace(*s.Status)
	}
	if status == "" && s.TotalPages == nil && s.ScrapedPages == nil && s.FailedPages == nil {
		return core.RemoteJobStatus{}, core.E(core.KindDecode, op, "status response carries no job state", nil)
	}
	out := core.RemoteJobStatus{
		TotalPages:   derefInt(s.TotalPages),
		ScrapedPages: derefInt(s.ScrapedPages),
		FailedPages:  derefInt(s.FailedPages),
	}
	if status != "" {
		parsed, err := core.ParseJobStatus(status)
		if err != nil {
			return core.RemoteJobStatus{}, core.E(core.KindDecode, op, "unrecognized job status", err)
		}
		out.Status = parsed
		out.StatusReported = true
	}
	if s.LastScraped != nil && strings.TrimSpace(*s.LastScraped) != "" {
		ts, err := parseLastScraped(*s.LastScraped)
		if err != nil {
			return core.RemoteJobStatus{}, core.E(core.KindDecode, op, "unparseable last_scraped", err)
		}
		out.LastScrapedAt = &ts
	}
	return out, nil
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func parseLastScraped(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range lastScrapedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// lenientString weakly decodes raw[key] into a string, yielding "" when the
// field is absent or cannot be represented as one.
func lenientString(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	var out string
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func decodeInto(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
