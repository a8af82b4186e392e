package ownership

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// SubjectKey identifies the video a claim is about.
type SubjectKey struct {
	Platform   enums.Platform
	ExternalID string
}

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

// ClaimsForKey returns every claim for the subject key in creation order.
// Creation order is the tie-breaker for conflict resolution.
func (r *Repository) ClaimsForKey(ctx context.Context, tx *gorm.DB, key SubjectKey) ([]models.OwnershipClaim, error) {
	var claims []models.OwnershipClaim
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND external_id = ?", key.Platform, key.ExternalID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&claims).Error
	return claims, err
}

// FindClaim returns the submitting user's claim for the key, or nil.
func (r *Repository) FindClaim(ctx context.Context, tx *gorm.DB, key SubjectKey, userID uuid.UUID) (*models.OwnershipClaim, error) {
	var claim models.OwnershipClaim
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND external_id = ? AND user_id = ?", key.Platform, key.ExternalID, userID).
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, claim *models.OwnershipClaim) error {
	return r.conn(tx).WithContext(ctx).Create(claim).Error
}

// UpdateClaim applies status, reason, and account to a single claim row.
func (r *Repository) UpdateClaim(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now()
	return r.conn(tx).WithContext(ctx).
		Model(&models.OwnershipClaim{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// AttachAccount links the verified account to the user's unattached claims on
// the same platform.
func (r *Repository) AttachAccount(ctx context.Context, tx *gorm.DB, account *models.SocialAccount) error {
	return r.conn(tx).WithContext(ctx).
		Model(&models.OwnershipClaim{}).
		Where("user_id = ? AND platform = ? AND social_account_id IS NULL", account.UserID, account.Platform).
		Update("social_account_id", account.ID).Error
}

// KeysForAccount returns the subject keys of every claim held through the
// account.
func (r *Repository) KeysForAccount(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) ([]SubjectKey, error) {
	var claims []models.OwnershipClaim
	err := r.conn(tx).WithContext(ctx).
		Where("social_account_id = ?", accountID).
		Find(&claims).Error
	if err != nil {
		return nil, err
	}

	seen := map[SubjectKey]struct{}{}
	var keys []SubjectKey
	for _, claim := range claims {
		key := SubjectKey{Platform: claim.Platform, ExternalID: claim.ExternalID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

func (r *Repository) AccountByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.SocialAccount, error) {
	var account models.SocialAccount
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// AccountsByIDs loads the accounts backing a set of claims in one query.
func (r *Repository) AccountsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.SocialAccount, error) {
	out := make(map[uuid.UUID]models.SocialAccount, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var accounts []models.SocialAccount
	err := r.conn(tx).WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		out[account.ID] = account
	}
	return out, nil
}

// HasPendingVerification reports whether the user has a verification in
// flight for the platform. It decides contested versus failed for a
// conflicting submission.
func (r *Repository) HasPendingVerification(ctx context.Context, tx *gorm.DB, userID uuid.UUID, platform enums.Platform) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&models.SocialAccount{}).
		Where("user_id = ? AND platform = ? AND status = ?", userID, platform, enums.VerificationStatusPending).
		Count(&count).Error
	return count > 0, err
}

// VerifiedAccountForUser returns the user's verified account on the platform,
// or nil.
func (r *Repository) VerifiedAccountForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, platform enums.Platform) (*models.SocialAccount, error) {
	var account models.SocialAccount
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND platform = ? AND status = ?", userID, platform, enums.VerificationStatusVerified).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SubmissionsForKey returns every submission referencing the subject key.
func (r *Repository) SubmissionsForKey(ctx context.Context, tx *gorm.DB, key SubjectKey) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND external_id = ?", key.Platform, key.ExternalID).
		Find(&submissions).Error
	return submissions, err
}

func (r *Repository) UpdateSubmission(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now()
	return r.conn(tx).WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(updates).Error
}
