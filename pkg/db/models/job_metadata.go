package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// JobMetadata maps a scrape job handle to the URLs it was triggered for. The
// row is written with a locally generated placeholder handle before the
// provider call, re-keyed once the provider assigns its own handle, and
// deleted after successful reconciliation. URLs provide the fallback lookup
// path when a webhook arrives with an unknown handle.
type JobMetadata struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SnapshotID string               `gorm:"column:snapshot_id;not null;unique"`
	Platform   enums.Platform       `gorm:"column:platform;type:platform;not null"`
	DatasetID  string               `gorm:"column:dataset_id;not null"`
	URLs       pq.StringArray       `gorm:"column:urls;type:text[];not null"`
	Status     enums.SnapshotStatus `gorm:"column:status;not null;default:queued"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the historical plural-free name.
func (JobMetadata) TableName() string { return "job_metadata" }
