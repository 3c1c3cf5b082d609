package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"athena/internal/batcher"
	"athena/internal/metrics"
	"athena/internal/usecase"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fixedSnapshot usecase.QueueSnapshot

func (f fixedSnapshot) Snapshot() usecase.QueueSnapshot { return usecase.QueueSnapshot(f) }

func TestCronScheduler_RunsTasks(t *testing.T) {
	s := NewCronScheduler(zaptest.NewLogger(t))

	var runs atomic.Int32
	require.NoError(t, s.AddTask("count", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.AddTask("fail", "@every 1s", func(context.Context) error {
		return errors.New("nope")
	}))
	require.NoError(t, s.AddTask("panic", "@every 1s", func(context.Context) error {
		panic("bad task")
	}))
	assert.ElementsMatch(t, []string{"count", "fail", "panic"}, s.Tasks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCronScheduler_AddAndRemove(t *testing.T) {
	s := NewCronScheduler(zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.AddTask("bad", "not a schedule", noop))
	assert.Empty(t, s.Tasks())

	require.NoError(t, s.AddTask("a", "@every 15s", noop))
	require.NoError(t, s.AddTask("a", "@every 30s", noop))
	assert.Equal(t, []string{"a"}, s.Tasks())
	assert.Len(t, s.cron.Entries(), 1)

	s.RemoveTask("a")
	s.RemoveTask("missing")
	assert.Empty(t, s.Tasks())
	assert.Empty(t, s.cron.Entries())
}

func TestSampleQueueDepth(t *testing.T) {
	task := SampleQueueDepth(fixedSnapshot{Depth: 7})
	require.NoError(t, task(context.Background()))
	var m dto.Metric
	require.NoError(t, metrics.QueueDepth.Write(&m))
	assert.Equal(t, 7.0, m.GetGauge().GetValue())
}

func TestLogSchedulerStats(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	running := fixedSnapshot{Running: true, Depth: 2, Stats: batcher.Stats{Batches: 3}}
	require.NoError(t, LogSchedulerStats(running, logger)(context.Background()))
	stopped := fixedSnapshot{Running: false}
	require.NoError(t, LogSchedulerStats(stopped, logger)(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.EqualValues(t, 3, entries[0].ContextMap()["batches"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}
