package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetAccount returns the social account, or nil when it does not exist.
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*models.SocialAccount, error) {
	var account models.SocialAccount
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Insert creates a new account in pending state.
func (r *Repository) Insert(ctx context.Context, account *models.SocialAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByHandle returns the account registered for (platform, handle), or nil.
func (r *Repository) FindByHandle(ctx context.Context, platform enums.Platform, handle string) (*models.SocialAccount, error) {
	var account models.SocialAccount
	err := r.db.WithContext(ctx).
		Where("platform = ? AND handle = ?", platform, handle).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Update applies the given column updates to the account.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.SocialAccount{}).
		Where("id = ?", id).
		Updates(updates).Error
}
