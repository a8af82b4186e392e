package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// Video is the canonical deduplicated catalog entry for a scraped video,
// keyed by (platform, external_id). Created and updated only by the
// ingestion reconciler; metric fields are last-writer-wins by ScrapedAt.
type Video struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Platform   enums.Platform `gorm:"column:platform;type:platform;not null;uniqueIndex:ux_videos_platform_external"`
	ExternalID string         `gorm:"column:external_id;not null;uniqueIndex:ux_videos_platform_external"`
	CreatorID  *uuid.UUID     `gorm:"column:creator_id;type:uuid"`

	CanonicalURL  string  `gorm:"column:canonical_url;not null"`
	Caption       *string `gorm:"column:caption"`
	CoverURL      *string `gorm:"column:cover_url"`
	SoundTitle    *string `gorm:"column:sound_title"`
	SoundCoverURL *string `gorm:"column:sound_cover_url"`

	ViewCount    int64 `gorm:"column:view_count;not null;default:0"`
	LikeCount    int64 `gorm:"column:like_count;not null;default:0"`
	CommentCount int64 `gorm:"column:comment_count;not null;default:0"`
	ShareCount   int64 `gorm:"column:share_count;not null;default:0"`

	PostedAt  *time.Time `gorm:"column:posted_at"`
	ScrapedAt time.Time  `gorm:"column:scraped_at;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Hashtags []VideoHashtag `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
}
