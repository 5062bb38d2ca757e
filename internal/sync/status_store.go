package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStatusStore keeps one sync_status row per table. Rows are upserted,
// never deleted; the last write wins.
type GormStatusStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ StatusStore = (*GormStatusStore)(nil)

func NewGormStatusStore(db *gorm.DB, logger *zap.Logger) *GormStatusStore {
	return &GormStatusStore{db: db, logger: logger.Named("status-store")}
}

// EnsureSchema creates the sync_status table when missing.
func (s *GormStatusStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&TableSyncState{}); err != nil {
		return fmt.Errorf("failed to migrate sync_status table: %w", err)
	}
	return nil
}

func (s *GormStatusStore) Record(ctx context.Context, state TableSyncState) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "table_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_sync_time", "row_count", "status", "error_message"}),
		}).
		Create(&state).Error
	if err != nil {
		return fmt.Errorf("failed to record sync status for table '%s': %w", state.Table, err)
	}
	s.logger.Debug("Recorded table sync status",
		zap.String("table", state.Table),
		zap.String("status", string(state.Status)),
		zap.Int64("row_count", state.RowCount))
	return nil
}

// List returns every recorded table, most recently synced first.
func (s *GormStatusStore) List(ctx context.Context) ([]TableSyncState, error) {
	var states []TableSyncState
	if err := s.db.WithContext(ctx).Order("last_sync_time DESC").Order("table_name ASC").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync status: %w", err)
	}
	return states, nil
}

// LatestSyncTime returns the newest last_sync_time, or nil when nothing was recorded yet.
func (s *GormStatusStore) LatestSyncTime(ctx context.Context) (*time.Time, error) {
	var states []TableSyncState
	if err := s.db.WithContext(ctx).Order("last_sync_time DESC").Limit(1).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to read latest sync time: %w", err)
	}
	if len(states) == 0 {
		return nil, nil
	}
	latest := states[0].LastSyncTime
	return &latest, nil
}

// BuildStatusReport assembles the per-table states and the overall latest time.
func BuildStatusReport(ctx context.Context, store StatusStore) (StatusReport, error) {
	states, err := store.List(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	latest, err := store.LatestSyncTime(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	if states == nil {
		states = []TableSyncState{}
	}
	return StatusReport{Tables: states, LastSyncTime: latest}, nil
}
