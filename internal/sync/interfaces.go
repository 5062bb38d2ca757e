package sync

import (
	"context"
	"time"
)

// SchemaIntrospector reads column metadata for a source table.
type SchemaIntrospector interface {
	GetSchema(ctx context.Context, table string) ([]ColumnSchema, error)
}

// TableSyncer copies one table from source to target.
type TableSyncer interface {
	SyncTable(ctx context.Context, table string) TableSyncOutcome
}

// StatusStore persists the last outcome of every table.
type StatusStore interface {
	Record(ctx context.Context, state TableSyncState) error
	List(ctx context.Context) ([]TableSyncState, error)
	LatestSyncTime(ctx context.Context) (*time.Time, error)
}

// TableObserver is notified after a table has been synced successfully.
type TableObserver interface {
	TableSynced(ctx context.Context, outcome TableSyncOutcome)
}

// TableObserverFunc adapts a function to TableObserver.
type TableObserverFunc func(ctx context.Context, outcome TableSyncOutcome)

func (f TableObserverFunc) TableSynced(ctx context.Context, outcome TableSyncOutcome) {
	f(ctx, outcome)
}
