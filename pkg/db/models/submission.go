package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// Submission is a user's claim that a video URL should compete in a contest
// (or be ingested generally when ContestID is nil). Pipeline and ownership
// states are mutated only by the ingestion reconciler and verification poller.
type Submission struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContestID *uuid.UUID `gorm:"column:contest_id;type:uuid"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`

	URL        string         `gorm:"column:url;not null"`
	Platform   enums.Platform `gorm:"column:platform;type:platform;not null"`
	ExternalID string         `gorm:"column:external_id;not null"`

	Status             enums.SubmissionStatus `gorm:"column:status;type:submission_status;not null;default:uploaded"`
	OwnershipStatus    enums.OwnershipStatus  `gorm:"column:ownership_status;type:ownership_status;not null;default:pending"`
	HashtagVerdict     *enums.CheckVerdict    `gorm:"column:hashtag_verdict;type:check_verdict"`
	DescriptionVerdict *enums.CheckVerdict    `gorm:"column:description_verdict;type:check_verdict"`
	FailureReason      *string                `gorm:"column:failure_reason"`

	RawAssetURL *string `gorm:"column:raw_asset_url"`
	SnapshotID  *string `gorm:"column:snapshot_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
