package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IngestionLog records a reconciliation failure with full error detail, keyed
// by job handle. Rows are append-only; the presence of a log row never blocks
// a retry of the same handle.
type IngestionLog struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SnapshotID string          `gorm:"column:snapshot_id;not null;index"`
	Stage      string          `gorm:"column:stage;not null"`
	Error      string          `gorm:"column:error;not null"`
	Details    json.RawMessage `gorm:"column:details;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}
