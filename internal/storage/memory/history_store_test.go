package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/askmaven/internal/core"
)

func TestHistoryStoreRecentChats(t *testing.T) {
	t.Parallel()

	store := NewHistoryStore()
	ctx := context.Background()
	for _, e := range []core.ChatEntry{
		{ID: "1", AskerID: 7, Question: "first"},
		{ID: "2", AskerID: 8, Question: "other"},
		{ID: "3", AskerID: 7, Question: "second"},
		{ID: "4", AskerID: 7, Question: "third"},
	} {
		if err := store.AppendChat(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.RecentChats(ctx, 7, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "3" {
		t.Fatalf("RecentChats() = %+v", got)
	}

	none, err := store.RecentChats(ctx, 99, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no chats for unknown asker, got %+v err=%v", none, err)
	}
}

func TestActivityLogRecords(t *testing.T) {
	t.Parallel()

	log := NewActivityLog()
	if err := log.Record(context.Background(), core.Activity{UserID: 1, Action: "scrape_started"}); err != nil {
		t.Fatal(err)
	}
	entries := log.Entries()
	if len(entries) != 1 || entries[0].Action != "scrape_started" {
		t.Fatalf("Entries() = %+v", entries)
	}
	entries[0].Action = "mutated"
	if log.Entries()[0].Action != "scrape_started" {
		t.Fatal("expected Entries to return a copy")
	}
}
