package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/askmaven/internal/core"
)

// HistoryStore persists chat exchanges in the chat_history table.
type HistoryStore struct {
	db querier
}

// NewHistoryStore constructs a HistoryStore on an existing pool.
func NewHistoryStore(db querier) (*HistoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &HistoryStore{db: db}, nil
}

// AppendChat inserts one exchange.
func (s *HistoryStore) AppendChat(ctx context.Context, e core.ChatEntry) error {
	if e.ID == "" {
		return fmt.Errorf("chat id is required")
	}
	query := `
INSERT INTO chat_history (id, user_id, question, answer, response_time_ms, context_found, timestamp)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.db.Exec(ctx, query,
		e.ID,
		e.AskerID,
		e.Question,
		e.Answer,
		e.Elapsed.Milliseconds(),
		e.ContextFound,
		e.AskedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// RecentChats returns up to limit exchanges for askerID, newest first.
func (s *HistoryStore) RecentChats(ctx context.Context, askerID int64, limit int) ([]core.ChatEntry, error) {
	query := `
SELECT id, user_id, question, answer, response_time_ms, context_found, timestamp
FROM chat_history
WHERE user_id = $1
ORDER BY timestamp DESC
LIMIT $2`
	rows, err := s.db.Query(ctx, query, askerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]core.ChatEntry, 0)
	for rows.Next() {
		var (
			e  core.ChatEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.AskerID, &e.Question, &e.Answer, &ms, &e.ContextFound, &e.AskedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		e.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

// ActivityLog writes audit rows to the api_logs table.
type ActivityLog struct {
	db querier
}

// NewActivityLog constructs an ActivityLog on an existing pool.
func NewActivityLog(db querier) (*ActivityLog, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ActivityLog{db: db}, nil
}

// Record inserts one audit row.
func (l *ActivityLog) Record(ctx context.Context, a core.Activity) error {
	payload, err := json.Marshal(map[string]string{"action": a.Action, "details": a.Details})
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	query := `INSERT INTO api_logs (user_id, action, request_data, timestamp) VALUES ($1,$2,$3,$4)`
	if _, err := l.db.Exec(ctx, query, a.UserID, a.Action, payload, a.At); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}
