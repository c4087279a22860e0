package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/progress"
	"github.com/JakeFAU/askmaven/internal/publisher/memory"
)

type recordingLog struct {
	mu   sync.Mutex
	rows []core.Activity
	err  error
}

func (r *recordingLog) Record(_ context.Context, a core.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, a)
	return nil
}

func batch() []progress.Event {
	ts := time.Unix(1700000000, 0).UTC()
	base := progress.Event{JobID: "job-1", OwnerID: 9, SourceURL: "https://example.com/sitemap.xml", TS: ts}
	submitted, running, done, failed := base, base, base, base
	submitted.Stage = progress.StageSubmitted
	running.Stage = progress.StageProgress
	done.Stage = progress.StageCompleted
	failed.Stage = progress.StageFailed
	failed.JobID = "job-2"
	return []progress.Event{submitted, running, done, failed}
}

func TestActivitySinkRecordsTerminalEvents(t *testing.T) {
	t.Parallel()

	log := &recordingLog{}
	sink, err := NewActivitySink(log)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), batch()))
	require.NoError(t, sink.Close(context.Background()))

	require.Len(t, log.rows, 2)
	require.Equal(t, ActionScrapeCompleted, log.rows[0].Action)
	require.Equal(t, ActionScrapeFailed, log.rows[1].Action)
	require.Equal(t, int64(9), log.rows[0].UserID)
	require.Equal(t, "https://example.com/sitemap.xml", log.rows[0].Details)
	require.False(t, log.rows[0].At.IsZero())
}

func TestActivitySinkJoinsErrors(t *testing.T) {
	t.Parallel()

	sink, err := NewActivitySink(&recordingLog{err: errors.New("db down")})
	require.NoError(t, err)

	err = sink.Consume(context.Background(), batch())
	require.ErrorContains(t, err, "job-1")
	require.ErrorContains(t, err, "job-2")
}

func TestNewActivitySinkRequiresLog(t *testing.T) {
	t.Parallel()

	_, err := NewActivitySink(nil)
	require.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	observed, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(observed))
	require.NoError(t, sink.Consume(context.Background(), batch()))

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, zapcore.InfoLevel, entries[2].Level)
	require.Equal(t, "job-1", entries[2].ContextMap()["job_id"])
	require.Equal(t, "JOB_FAILED", entries[3].ContextMap()["stage"])

	require.NoError(t, NewLogSink(nil).Consume(context.Background(), batch()))
}

func TestMetricsSinkCountsStages(t *testing.T) {
	t.Parallel()

	sink := NewMetricsSink()
	before := stageCount(t, "JOB_COMPLETED")
	require.NoError(t, sink.Consume(context.Background(), batch()))
	require.NoError(t, sink.Close(context.Background()))
	require.InDelta(t, before+1, stageCount(t, "JOB_COMPLETED"), 0.0001)
}

func stageCount(t *testing.T, stage string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "askmaven_job_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "stage" && lp.GetValue() == stage {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPublishSinkSendsEveryEvent(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublishSink(pub, "job-events")
	require.NoError(t, err)
	require.NoError(t, sink.Consume(context.Background(), batch()))

	msgs := pub.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "job-events", msgs[0].Topic)
	require.Equal(t, "JOB_SUBMITTED", msgs[0].Attributes["stage"])
	require.Equal(t, "9", msgs[0].Attributes["owner_id"])
	body, ok := msgs[3].Payload.(EventMessage)
	require.True(t, ok)
	require.Equal(t, "job-2", body.JobID)
	require.Equal(t, "JOB_FAILED", body.Stage)
}

func TestPublishSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("broker down"))
	sink, err := NewPublishSink(pub, "job-events")
	require.NoError(t, err)
	err = sink.Consume(context.Background(), batch())
	require.ErrorContains(t, err, "broker down")
	require.ErrorContains(t, err, "JOB_PROGRESS")

	_, err = NewPublishSink(nil, "job-events")
	require.Error(t, err)
	_, err = NewPublishSink(pub, "")
	require.Error(t, err)
}
