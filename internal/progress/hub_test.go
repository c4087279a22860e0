package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageProgress))
	hub.Emit(sampleEvent(StageProgress))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageSubmitted))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Emit(sampleEvent(StageCompleted))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 2
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageProgress))
	hub.Emit(sampleEvent(StageProgress))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.dropped.Load())
}

func TestHubDiscardsInvalidAndNil(t *testing.T) {
	t.Parallel()

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageProgress))
	require.NoError(t, nilHub.Close(context.Background()))

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageProgress, TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.closed)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageSubmitted))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StageProgress))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestTransition(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	before := core.JobRecord{ID: "job-1", OwnerID: 3, Status: core.JobStatusScraping, TotalPages: 10, ScrapedPages: 2}

	_, ok := Transition(before, before, now)
	require.False(t, ok)

	after := before
	after.ScrapedPages = 5
	evt, ok := Transition(before, after, now)
	require.True(t, ok)
	require.Equal(t, StageProgress, evt.Stage)
	require.Equal(t, 5, evt.ScrapedPages)
	require.Equal(t, int64(3), evt.OwnerID)

	after.Status = core.JobStatusCompleted
	evt, _ = Transition(before, after, now)
	require.Equal(t, StageCompleted, evt.Stage)
	require.Equal(t, core.JobStatusScraping, evt.Previous)
	require.True(t, evt.Stage.Terminal())

	after.Status = core.JobStatusFailed
	evt, _ = Transition(before, after, now)
	require.Equal(t, StageFailed, evt.Stage)

	// A completed job reported as scraping again is a regression, not a completion.
	evt, _ = Transition(core.JobRecord{ID: "job-1", Status: core.JobStatusCompleted}, core.JobRecord{ID: "job-1", Status: core.JobStatusScraping}, now)
	require.Equal(t, StageProgress, evt.Stage)

	sub := Submitted(core.JobRecord{ID: "job-2", Status: core.JobStatusPending}, now)
	require.Equal(t, StageSubmitted, sub.Stage)
	require.NoError(t, sub.Validate())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Event{TS: time.Now(), Stage: StageProgress}.Validate())
	require.Error(t, Event{JobID: "j", Stage: StageProgress}.Validate())
	require.Error(t, Event{JobID: "j", TS: time.Now(), Stage: "JOB_EXPLODED"}.Validate())
	require.NoError(t, sampleEvent(StageFailed).Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		JobID:  "job-1",
		TS:     time.Now(),
		Stage:  stage,
		Status: core.JobStatusScraping,
	}
}
