package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// IngestEvent is a durable work item in the ingestion queue. Webhook handlers
// persist the event in the same transaction as any state they touch; the
// worker dispatcher publishes unpublished rows to Pub/Sub (or hands them to
// the handler directly in dev mode) and handlers mark them processed. A
// failed event keeps its row and is retried until MaxAttempts.
type IngestEvent struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Kind         enums.IngestEventKind `gorm:"column:kind;not null"`
	SnapshotID   *string               `gorm:"column:snapshot_id;index"`
	AccountID    *uuid.UUID            `gorm:"column:account_id;type:uuid"`
	Payload      json.RawMessage       `gorm:"column:payload;type:jsonb"`
	AttemptCount int                   `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string               `gorm:"column:last_error"`
	PublishedAt  *time.Time            `gorm:"column:published_at"`
	ProcessedAt  *time.Time            `gorm:"column:processed_at"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}
