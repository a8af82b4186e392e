package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// Creator is the canonical catalog entry for a platform account, keyed by
// (platform, external_id) where external_id is the platform's account id.
type Creator struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Platform   enums.Platform `gorm:"column:platform;type:platform;not null;uniqueIndex:ux_creators_platform_external"`
	ExternalID string         `gorm:"column:external_id;not null;uniqueIndex:ux_creators_platform_external"`

	Handle        string  `gorm:"column:handle;not null"`
	DisplayName   *string `gorm:"column:display_name"`
	AvatarURL     *string `gorm:"column:avatar_url"`
	Bio           *string `gorm:"column:bio"`
	FollowerCount int64   `gorm:"column:follower_count;not null;default:0"`

	ScrapedAt time.Time `gorm:"column:scraped_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
