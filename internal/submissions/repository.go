package submissions

import (
	"context"
	"errors"

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

func (r *Repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, submission *models.Submission) error {
	if submission.ID == uuid.Nil {
		submission.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(submission).Error
}

// GetByID returns the submission, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).First(&submission, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListByUser returns the user's submissions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&submissions).Error
	return submissions, err
}

// AttachSnapshot points the submissions at the scrape job handle that will
// resolve them.
func (r *Repository) AttachSnapshot(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, handle string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&models.Submission{}).
		Where("id IN ?", ids).
		Update("snapshot_id", handle).Error
}
