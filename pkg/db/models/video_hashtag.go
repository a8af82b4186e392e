package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoHashtag is a hashtag fact row, unique per (video, tag) so repeated
// reconciliation of the same payload cannot duplicate facts.
type VideoHashtag struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VideoID   uuid.UUID `gorm:"column:video_id;type:uuid;not null;uniqueIndex:ux_video_hashtags_video_tag"`
	Tag       string    `gorm:"column:tag;not null;uniqueIndex:ux_video_hashtags_video_tag"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
