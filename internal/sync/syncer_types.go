package sync

import (
	"time"

	"github.com/google/uuid"
)

// ColumnSchema describes one source column as reported by the catalog.
type ColumnSchema struct {
	Name       string
	SourceType string // Tipe asli dari database sumber
	MaxLength  *int   // nil kalau tidak relevan, -1 untuk (max)
	Nullable   bool
	Ordinal    int
	IsPrimary  bool
}

// SyncStatus is the persisted outcome of the last run of a table.
type SyncStatus string

const (
	StatusCompleted SyncStatus = "Completed"
	StatusFailed    SyncStatus = "Failed"
)

// TableSyncOutcome is what SyncTable returns for one table.
type TableSyncOutcome struct {
	Table      string
	RowsSynced int64
	Batches    int
	Status     SyncStatus
	Duration   time.Duration
	Err        error
}

// Succeeded reports whether the table finished without error.
func (o TableSyncOutcome) Succeeded() bool { return o.Status == StatusCompleted && o.Err == nil }

// TableSyncState is one row of the sync_status table.
type TableSyncState struct {
	Table        string     `gorm:"column:table_name;primaryKey;size:255" json:"tableName"`
	LastSyncTime time.Time  `gorm:"column:last_sync_time" json:"lastSyncTime"`
	RowCount     int64      `gorm:"column:row_count" json:"rowCount"`
	Status       SyncStatus `gorm:"column:status;size:50" json:"status"`
	ErrorMessage string     `gorm:"column:error_message;type:text" json:"errorMessage,omitempty"`
}

func (TableSyncState) TableName() string { return "sync_status" }

// StatusReport is the aggregate view served to callers.
type StatusReport struct {
	Tables       []TableSyncState `json:"tables"`
	LastSyncTime *time.Time       `json:"lastSyncTime,omitempty"`
}

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// TableResult is the per-table line of a SyncRunReport.
type TableResult struct {
	TableName  string `json:"tableName"`
	Success    bool   `json:"success"`
	RowsSynced int64  `json:"rowsSynced"`
	Error      string `json:"error,omitempty"`
}

// SyncRunReport summarizes one SyncAll invocation. It is never persisted.
type SyncRunReport struct {
	RunID      uuid.UUID     `json:"runId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Trigger    Trigger       `json:"trigger"`
	Tables     []TableResult `json:"tables"`
}

// Failed counts the tables that did not complete.
func (r SyncRunReport) Failed() int {
	n := 0
	for _, t := range r.Tables {
		if !t.Success {
			n++
		}
	}
	return n
}

// TotalRows sums the rows transferred across all tables.
func (r SyncRunReport) TotalRows() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.RowsSynced
	}
	return total
}

// Result flattens the outcome into its report line.
func (o TableSyncOutcome) Result() TableResult {
	res := TableResult{
		TableName:  o.Table,
		Success:    o.Succeeded(),
		RowsSynced: o.RowsSynced,
	}
	if o.Err != nil {
		res.Error = o.Err.Error()
	}
	return res
}
