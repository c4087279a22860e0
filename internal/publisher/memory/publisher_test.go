package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	attrs := map[string]string{"stage": "JOB_COMPLETED"}
	id, err := pub.Publish(context.Background(), "job-events", map[string]string{"job_id": "1"}, attrs)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "memory-1" {
		t.Fatalf("unexpected id %q", id)
	}
	attrs["stage"] = "mutated"

	msgs := pub.Messages()
	if len(msgs) != 1 || msgs[0].Topic != "job-events" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[0].Attributes["stage"] != "JOB_COMPLETED" {
		t.Fatalf("attributes were not copied: %+v", msgs[0].Attributes)
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailWith(boom)
	if _, err := pub.Publish(context.Background(), "t", nil, nil); !errors.Is(err, boom) {
		t.Fatalf("expected broker error, got %v", err)
	}
	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "t", nil, nil); err != nil {
		t.Fatalf("expected success after clearing, got %v", err)
	}
	if got := len(pub.Messages()); got != 1 {
		t.Fatalf("expected one message, got %d", got)
	}
}
