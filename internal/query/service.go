// Package query forwards user questions to the remote answering worker and
// keeps a best-effort history of the exchanges.
package query

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/clock/system"
	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/metrics"
	"github.com/JakeFAU/askmaven/internal/remote"
)

const (
	opAsk    = "query.ask"
	opRecent = "query.recent"

	defaultContextLimit = 5
	defaultRecentLimit  = 10
	maxRecentLimit      = 100
)

// Asker is the slice of the remote client the Service needs.
type Asker interface {
	Chat(ctx context.Context, req remote.ChatRequest) (remote.ChatResponse, error)
}

// Service answers questions through the remote worker.
type Service struct {
	remote       Asker
	history      core.HistoryStore
	contextLimit int
	clock        core.Clock
	ids          core.IDGenerator
	logger       *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithHistory records every answered question in h.
func WithHistory(h core.HistoryStore) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithContextLimit sets how many retrieved documents the worker may use.
func WithContextLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.contextLimit = n
		}
	}
}

// WithClock overrides the clock used for timing and history timestamps.
func WithClock(c core.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDs sets the generator used for history entry ids.
func WithIDs(ids core.IDGenerator) Option {
	return func(s *Service) {
		s.ids = ids
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wires a Service.
func New(rc Asker, opts ...Option) *Service {
	s := &Service{
		remote:       rc,
		contextLimit: defaultContextLimit,
		clock:        system.New(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask performs one synchronous question/answer exchange. Blank questions are
// rejected before any network call.
func (s *Service) Ask(ctx context.Context, question string, askerID int64) (core.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		metrics.ObserveQuestion("invalid")
		return core.Answer{}, core.E(core.KindInvalidInput, opAsk, "question is required", nil)
	}

	start := s.clock.Now()
	resp, err := s.remote.Chat(ctx, remote.ChatRequest{
		Question:     question,
		UserID:       askerID,
		ContextLimit: s.contextLimit,
	})
	if err != nil {
		metrics.ObserveQuestion("remote_error")
		s.logger.Warn("question failed", zap.Int64("asker_id", askerID), zap.Error(err))
		return core.Answer{}, err
	}

	elapsed := s.clock.Now().Sub(start)
	if resp.ResponseTimeMS != nil {
		elapsed = time.Duration(*resp.ResponseTimeMS * float64(time.Millisecond))
	}
	answer := core.Answer{Text: resp.Answer, Elapsed: elapsed, ContextFound: resp.ContextFound}
	metrics.ObserveQuestion("answered")
	s.record(ctx, question, askerID, answer)
	return answer, nil
}

// Recent returns the asker's latest exchanges, newest first.
func (s *Service) Recent(ctx context.Context, askerID int64, limit int) ([]core.ChatEntry, error) {
	if s.history == nil {
		return []core.ChatEntry{}, nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	entries, err := s.history.RecentChats(ctx, askerID, limit)
	if err != nil {
		return nil, core.E(core.KindInternal, opRecent, "load chat history", err)
	}
	return entries, nil
}

func (s *Service) record(ctx context.Context, question string, askerID int64, answer core.Answer) {
	if s.history == nil {
		return
	}
	entry := core.ChatEntry{
		AskerID:      askerID,
		Question:     question,
		Answer:       answer.Text,
		Elapsed:      answer.Elapsed,
		ContextFound: answer.ContextFound,
		AskedAt:      s.clock.Now(),
	}
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("allocate chat id failed", zap.Error(err))
			return
		}
		entry.ID = id
	}
	if err := s.history.AppendChat(ctx, entry); err != nil {
		s.logger.Warn("append chat history failed", zap.Int64("asker_id", askerID), zap.Error(err))
	}
}
