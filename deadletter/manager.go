package deadletter

import (
	"context"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations for dead letters and sweep runs.
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&DeadLetter{}, &SweepRun{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize deadletter.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// RecordDeadLetter stores one failed contract pass.
func (m *Manager) RecordDeadLetter(ctx context.Context, runID, contractID, phase, reason, kind string) error {
	result := m.db.WithContext(ctx).Create(&DeadLetter{
		RunID:      runID,
		ContractID: contractID,
		Phase:      phase,
		Reason:     reason,
		Kind:       kind,
	})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot record dead letter")
	}
	return nil
}

// RecordRun stores the summary of one sweep.
func (m *Manager) RecordRun(ctx context.Context, runID string, started, finished time.Time, processed, failed, promoted, invoicesEmitted int, dryRun bool) error {
	result := m.db.WithContext(ctx).Create(&SweepRun{
		RunID:           runID,
		Started:         started,
		Finished:        finished,
		Processed:       processed,
		Failed:          failed,
		Promoted:        promoted,
		InvoicesEmitted: invoicesEmitted,
		DryRun:          dryRun,
	})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot record sweep run")
	}
	return nil
}

// ListPending returns dead letters that have not been reprocessed, newest
// first.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]DeadLetter, error) {
	letters := make([]DeadLetter, 0, limit)
	query := m.db.WithContext(ctx).
		Where("reprocessed_at IS NULL").
		Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&letters)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return letters, nil
}

// MarkReprocessed records that an operator replayed every pending dead
// letter of a contract.
func (m *Manager) MarkReprocessed(ctx context.Context, contractID string) error {
	now := time.Now()
	result := m.db.WithContext(ctx).
		Model(&DeadLetter{}).
		Where("contract_id = ?", contractID).
		Where("reprocessed_at IS NULL").
		Update("reprocessed_at", &now)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark dead letters as reprocessed")
	}
	return nil
}
