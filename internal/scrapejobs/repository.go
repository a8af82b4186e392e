package scrapejobs

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// lookupWindow bounds how many recent jobs the URL-fallback scan considers.
const lookupWindow = 100

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, meta *models.JobMetadata) error {
	return r.db.WithContext(ctx).Create(meta).Error
}

func (r *Repository) FindBySnapshotID(ctx context.Context, snapshotID string) (*models.JobMetadata, error) {
	var meta models.JobMetadata
	err := r.db.WithContext(ctx).Where("snapshot_id = ?", snapshotID).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// Rekey replaces the placeholder handle with the provider-assigned one, on
// the job row and on any submissions still carrying the placeholder.
func (r *Repository) Rekey(ctx context.Context, oldSnapshotID, newSnapshotID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.JobMetadata{}).
			Where("snapshot_id = ?", oldSnapshotID).
			Updates(map[string]any{
				"snapshot_id": newSnapshotID,
				"updated_at":  time.Now(),
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.Submission{}).
			Where("snapshot_id = ?", oldSnapshotID).
			Updates(map[string]any{
				"snapshot_id": newSnapshotID,
				"updated_at":  time.Now(),
			}).Error
	})
}

func (r *Repository) UpdateStatus(ctx context.Context, snapshotID string, status enums.SnapshotStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.JobMetadata{}).
		Where("snapshot_id = ?", snapshotID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// Delete removes the job row after successful reconciliation.
func (r *Repository) Delete(ctx context.Context, snapshotID string) error {
	return r.db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Delete(&models.JobMetadata{}).Error
}

// RecentUnresolved returns the newest jobs still awaiting reconciliation,
// newest first. Rows are deleted after successful reconciliation, so any
// surviving non-failed row is a lookup candidate.
func (r *Repository) RecentUnresolved(ctx context.Context, limit int) ([]models.JobMetadata, error) {
	if limit <= 0 {
		limit = lookupWindow
	}
	var rows []models.JobMetadata
	err := r.db.WithContext(ctx).
		Where("status <> ?", enums.SnapshotStatusFailed).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
