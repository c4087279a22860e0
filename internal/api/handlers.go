package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
)

type submitJobRequest struct {
	SitemapURL string `json:"sitemap_url"`
}

type askRequest struct {
	Question string `json:"question"`
}

type jobStatusResponse struct {
	Job             core.JobRecord `json:"job"`
	ProgressKnown   bool           `json:"progress_known"`
	ProgressPercent *float64       `json:"progress_percent"`
}

type answerResponse struct {
	Answer         string  `json:"answer"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	ContextFound   bool    `json:"context_found"`
}

type chatView struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	ResponseTimeMS float64   `json:"response_time_ms"`
	ContextFound   bool      `json:"context_found"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req submitJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.svc.Submitter.Submit(r.Context(), req.SitemapURL, caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	jobs, err := s.svc.Tracker.List(r.Context(), caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	job, err := s.svc.Tracker.Reconcile(r.Context(), chi.URLParam(r, "job_id"), caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := jobStatusResponse{Job: job}
	if pct, known := job.Progress(); known {
		resp.ProgressKnown = true
		resp.ProgressPercent = &pct
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	answer, err := s.svc.Answerer.Ask(r.Context(), req.Question, caller.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Answer:         answer.Text,
		ResponseTimeMS: millis(answer.Elapsed),
		ContextFound:   answer.ContextFound,
	})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	limit := s.cfg.Chat.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.svc.Answerer.Recent(r.Context(), caller.UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	chats := make([]chatView, 0, len(entries))
	for _, e := range entries {
		chats = append(chats, chatView{
			ID:             e.ID,
			Question:       e.Question,
			Answer:         e.Answer,
			ResponseTimeMS: millis(e.Elapsed),
			ContextFound:   e.ContextFound,
			Timestamp:      e.AskedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Stats.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) workerHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": s.svc.Stats.Health(r.Context())})
}

// fail maps a service error onto a status code and a user-facing message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Info("request rejected", fields...)
	}
	writeError(w, status, core.UserMessage(err))
}

func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRemoteRejected:
		return http.StatusUnprocessableEntity
	case core.KindRemoteUnavailable, core.KindTransport, core.KindDecode:
		return http.StatusBadGateway
	}
	if errors.Is(err, core.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
