package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.IngestEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

// GetByID returns the event row, or nil when it no longer exists.
func (r *Repository) GetByID(id uuid.UUID) (*models.IngestEvent, error) {
	var row models.IngestEvent
	if err := r.db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FetchUnpublished returns pending events in insertion order for dispatch.
func (r *Repository) FetchUnpublished(limit int) ([]models.IngestEvent, error) {
	var rows []models.IngestEvent
	err := r.db.Where("published_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FetchStalled returns events that were published but never processed and are
// old enough that the consumer has likely dropped them.
func (r *Repository) FetchStalled(olderThan time.Duration, limit int) ([]models.IngestEvent, error) {
	var rows []models.IngestEvent
	cutoff := time.Now().Add(-olderThan)
	err := r.db.Where("processed_at IS NULL AND published_at IS NOT NULL AND published_at < ?", cutoff).
		Order("published_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(id uuid.UUID) error {
	return r.db.Model(&models.IngestEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now(),
		}).Error
}

// ResetPublished clears published_at so a stalled event is re-dispatched.
func (r *Repository) ResetPublished(id uuid.UUID) error {
	return r.db.Model(&models.IngestEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": nil,
		}).Error
}

func (r *Repository) MarkProcessed(id uuid.UUID) error {
	return r.db.Model(&models.IngestEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": time.Now(),
		}).Error
}

func (r *Repository) MarkFailed(id uuid.UUID, err error) error {
	return r.db.Model(&models.IngestEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}
