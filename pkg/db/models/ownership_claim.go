package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// OwnershipClaim is the authorship ledger entry for a (platform, external_id)
// subject key. At most one claim per key may hold status=claimed; the partial
// unique index ux_ownership_claims_claimed enforces this at the store level.
// Claims are never hard-deleted, only re-stated.
type OwnershipClaim struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Platform        enums.Platform    `gorm:"column:platform;type:platform;not null;uniqueIndex:ux_ownership_claims_subject_user"`
	ExternalID      string            `gorm:"column:external_id;not null;uniqueIndex:ux_ownership_claims_subject_user"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_ownership_claims_subject_user"`
	SocialAccountID *uuid.UUID        `gorm:"column:social_account_id;type:uuid"`
	Status          enums.ClaimStatus `gorm:"column:status;type:claim_status;not null;default:pending"`
	Reason          *string           `gorm:"column:reason"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
