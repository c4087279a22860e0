package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JakeFAU/askmaven/internal/progress"
)

// Publisher sends one payload to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}

// PublishSink forwards every job event to a message broker so downstream
// consumers can react to submissions and completions.
type PublishSink struct {
	pub   Publisher
	topic string
}

// EventMessage is the broker payload for one job event.
type EventMessage struct {
	JobID          string    `json:"job_id"`
	OwnerID        int64     `json:"owner_id"`
	SourceURL      string    `json:"source_url"`
	Stage          string    `json:"stage"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	TotalPages     int       `json:"total_pages"`
	ScrapedPages   int       `json:"scraped_pages"`
	FailedPages    int       `json:"failed_pages"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewPublishSink binds pub to topic.
func NewPublishSink(pub Publisher, topic string) (*PublishSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &PublishSink{pub: pub, topic: topic}, nil
}

// Consume publishes each event; failures do not stop the rest of the batch.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		attrs := map[string]string{
			"stage":    string(evt.Stage),
			"job_id":   evt.JobID,
			"owner_id": strconv.FormatInt(evt.OwnerID, 10),
		}
		if _, err := s.pub.Publish(ctx, s.topic, toMessage(evt), attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for job %s: %w", evt.Stage, evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

func toMessage(evt progress.Event) EventMessage {
	return EventMessage{
		JobID:          evt.JobID,
		OwnerID:        evt.OwnerID,
		SourceURL:      evt.SourceURL,
		Stage:          string(evt.Stage),
		Status:         string(evt.Status),
		PreviousStatus: string(evt.Previous),
		TotalPages:     evt.TotalPages,
		ScrapedPages:   evt.ScrapedPages,
		FailedPages:    evt.FailedPages,
		Timestamp:      evt.TS,
	}
}
