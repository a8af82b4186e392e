package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// SocialAccount is a user-declared external profile awaiting or holding
// bio-code verification. Never auto-deleted.
type SocialAccount struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	Platform         enums.Platform           `gorm:"column:platform;type:platform;not null;uniqueIndex:ux_social_accounts_platform_handle"`
	Handle           string                   `gorm:"column:handle;not null;uniqueIndex:ux_social_accounts_platform_handle"`
	ProfileURL       string                   `gorm:"column:profile_url;not null"`
	VerificationCode string                   `gorm:"column:verification_code;not null"`
	Status           enums.VerificationStatus `gorm:"column:status;type:verification_status;not null;default:pending"`
	LastSnapshotID   *string                  `gorm:"column:last_snapshot_id"`
	AttemptCount     int                      `gorm:"column:attempt_count;not null;default:0"`
	VerifiedAt       *time.Time               `gorm:"column:verified_at"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
