package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

// fakeSyncer records calls and fails the tables listed in fail.
type fakeSyncer struct {
	mu      gosync.Mutex
	calls   []string
	fail    map[string]error
	started chan string
	release chan struct{}
	onSync  func(table string)
}

func (f *fakeSyncer) SyncTable(ctx context.Context, table string) TableSyncOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, table)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- table
	}
	if f.release != nil {
		<-f.release
	}
	if f.onSync != nil {
		f.onSync(table)
	}
	if err := f.fail[table]; err != nil {
		return TableSyncOutcome{Table: table, Status: StatusFailed, Err: err}
	}
	return TableSyncOutcome{Table: table, Status: StatusCompleted, RowsSynced: 10, Batches: 1}
}

func (f *fakeSyncer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestOrchestrator_FailingTableDoesNotStopOthers(t *testing.T) {
	syncer := &fakeSyncer{fail: map[string]error{"b": &SchemaNotFoundError{Table: "b"}}}
	orch := NewOrchestrator(syncer, metrics.NewMetricsStore(), zaptest.NewLogger(t))

	var observed []string
	orch.AddObserver(TableObserverFunc(func(_ context.Context, o TableSyncOutcome) {
		observed = append(observed, o.Table)
	}))

	report := orch.SyncAll(context.Background(), []string{"a", "b", "c"})

	assert.Equal(t, []string{"a", "b", "c"}, syncer.Calls(), "tables run sequentially in the given order")
	require.Len(t, report.Tables, 3)
	assert.True(t, report.Tables[0].Success)
	assert.False(t, report.Tables[1].Success)
	assert.Contains(t, report.Tables[1].Error, "no columns found")
	assert.True(t, report.Tables[2].Success)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, int64(20), report.TotalRows())
	assert.Equal(t, TriggerManual, report.Trigger)
	assert.NotEqual(t, uuid.Nil, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Equal(t, []string{"a", "c"}, observed, "observers only see successful tables")
}

func TestOrchestrator_CancellationMarksRemainingTablesFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncer := &fakeSyncer{onSync: func(table string) {
		if table == "b" {
			cancel()
		}
	}}
	orch := NewOrchestrator(syncer, nil, zaptest.NewLogger(t))

	report := orch.Run(ctx, []string{"a", "b", "c", "d"}, TriggerScheduled)

	assert.Equal(t, []string{"a", "b"}, syncer.Calls())
	require.Len(t, report.Tables, 4, "every requested table appears in the report")
	assert.True(t, report.Tables[0].Success)
	assert.True(t, report.Tables[1].Success)
	for _, res := range report.Tables[2:] {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, context.Canceled.Error())
	}
	assert.Equal(t, TriggerScheduled, report.Trigger)
}

func TestOrchestrator_SyncTable(t *testing.T) {
	failErr := errors.New("target down")
	syncer := &fakeSyncer{fail: map[string]error{"bad": failErr}}
	orch := NewOrchestrator(syncer, nil, zaptest.NewLogger(t))

	calls := 0
	orch.AddObserver(TableObserverFunc(func(context.Context, TableSyncOutcome) { calls++ }))

	out := orch.SyncTable(context.Background(), "good")
	assert.True(t, out.Succeeded())
	out = orch.SyncTable(context.Background(), "bad")
	assert.ErrorIs(t, out.Err, failErr)
	assert.Equal(t, 1, calls)
}
