package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/askmaven/internal/core"
)

// HistoryStore keeps chat exchanges in memory.
type HistoryStore struct {
	mu      sync.RWMutex
	entries []core.ChatEntry
}

// NewHistoryStore constructs a HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// AppendChat records one exchange.
func (s *HistoryStore) AppendChat(_ context.Context, entry core.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// RecentChats returns up to limit exchanges for askerID, newest first.
func (s *HistoryStore) RecentChats(_ context.Context, askerID int64, limit int) ([]core.ChatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ChatEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s.entries[i].AskerID == askerID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// ActivityLog keeps audit rows in memory.
type ActivityLog struct {
	mu   sync.Mutex
	rows []core.Activity
}

// NewActivityLog constructs an ActivityLog.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

// Record appends one activity row.
func (l *ActivityLog) Record(_ context.Context, a core.Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, a)
	return nil
}

// Entries returns a copy of the recorded rows.
func (l *ActivityLog) Entries() []core.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Activity, len(l.rows))
	copy(out, l.rows)
	return out
}
