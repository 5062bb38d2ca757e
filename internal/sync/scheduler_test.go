package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

type waitRequest struct {
	d  time.Duration
	ch chan time.Time
}

func (w waitRequest) fire() { w.ch <- time.Time{} }

// fakeClock hands every After call to the test, which decides when it fires.
type fakeClock struct {
	waits chan waitRequest
}

func newFakeClock() *fakeClock { return &fakeClock{waits: make(chan waitRequest, 16)} }

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.waits <- waitRequest{d: d, ch: ch}
	return ch
}

func (c *fakeClock) next(t *testing.T) waitRequest {
	t.Helper()
	select {
	case w := <-c.waits:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the scheduler to arm a timer")
		return waitRequest{}
	}
}

func newTestScheduler(t *testing.T, syncer *fakeSyncer, clock Clock, enabled bool) (*Scheduler, *metrics.Store) {
	t.Helper()
	store := metrics.NewMetricsStore()
	log := zaptest.NewLogger(t)
	orch := NewOrchestrator(syncer, store, log)
	s := NewScheduler(orch, SchedulerOptions{
		Tables:   []string{"a", "b"},
		Enabled:  enabled,
		Warmup:   30 * time.Second,
		Interval: 30 * time.Minute,
		Clock:    clock,
	}, store, log)
	return s, store
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for goroutine to finish")
	}
}

func TestScheduler_TriggerRejectedWhileRunning(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan string, 16), release: make(chan struct{})}
	s, store := newTestScheduler(t, syncer, newFakeClock(), false)
	ctx := context.Background()

	var (
		firstReport SyncRunReport
		firstErr    error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		firstReport, firstErr = s.TriggerAll(ctx)
	}()
	assert.Equal(t, "a", <-syncer.started)
	assert.True(t, s.Running())

	_, err := s.TriggerAll(ctx)
	assert.True(t, errors.Is(err, ErrSyncInProgress))
	_, err = s.TriggerTable(ctx, "a")
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Equal(t, 2.0, testutil.ToFloat64(store.SkippedTriggersTotal.WithLabelValues("manual")))

	close(syncer.release)
	waitDone(t, done)

	require.NoError(t, firstErr)
	require.Len(t, firstReport.Tables, 2)
	assert.Equal(t, 0, firstReport.Failed(), "the in-flight run completes normally")
	assert.False(t, s.Running())
	require.NotNil(t, s.LastReport())
	assert.Equal(t, firstReport.RunID, s.LastReport().RunID)

	out, err := s.TriggerTable(ctx, "b")
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
}

func TestScheduler_RunWarmupThenIntervalAfterCompletion(t *testing.T) {
	syncer := &fakeSyncer{}
	clock := newFakeClock()
	s, _ := newTestScheduler(t, syncer, clock, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	warmup := clock.next(t)
	assert.Equal(t, 30*time.Second, warmup.d)
	assert.Empty(t, syncer.Calls(), "nothing runs before the warm-up elapses")
	warmup.fire()

	interval := clock.next(t)
	assert.Equal(t, 30*time.Minute, interval.d)
	assert.Equal(t, []string{"a", "b"}, syncer.Calls(), "interval is armed only after the run completed")
	require.NotNil(t, s.LastReport())
	assert.Equal(t, TriggerScheduled, s.LastReport().Trigger)

	interval.fire()
	clock.next(t)
	assert.Len(t, syncer.Calls(), 4)

	cancel()
	waitDone(t, done)
}

func TestScheduler_TickDroppedWhileManualRunActive(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan string, 16), release: make(chan struct{})}
	clock := newFakeClock()
	s, store := newTestScheduler(t, syncer, clock, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.Run(ctx)
	}()
	warmup := clock.next(t)

	manualDone := make(chan struct{})
	go func() {
		defer close(manualDone)
		_, _ = s.TriggerAll(ctx)
	}()
	<-syncer.started

	warmup.fire()
	clock.next(t) // the loop re-arms without running
	assert.Equal(t, 1.0, testutil.ToFloat64(store.SkippedTriggersTotal.WithLabelValues("scheduled")))

	close(syncer.release)
	waitDone(t, manualDone)
	assert.Equal(t, []string{"a", "b"}, syncer.Calls(), "only the manual run executed")

	cancel()
	waitDone(t, loopDone)
}

func TestScheduler_CancelStopsWaitingImmediately(t *testing.T) {
	clock := newFakeClock()
	s, _ := newTestScheduler(t, &fakeSyncer{}, clock, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	clock.next(t)
	cancel()
	waitDone(t, done)
}

func TestScheduler_DisabledReturnsImmediately(t *testing.T) {
	syncer := &fakeSyncer{}
	s, _ := newTestScheduler(t, syncer, newFakeClock(), false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background())
	}()
	waitDone(t, done)

	report, err := s.TriggerAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Tables, 2, "manual triggers work with the loop disabled")
}
