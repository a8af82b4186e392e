package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	"github.com/reelrally/reelrally-backend/pkg/logger"
)

// Event is the caller-facing shape of a queued work item. Data, when set, is
// marshaled into the payload column; snapshot.ready and account.verify events
// usually carry no payload at all.
type Event struct {
	Kind       enums.IngestEventKind
	SnapshotID *string
	AccountID  *uuid.UUID
	Data       interface{}
}

// Message is the wire format published to Pub/Sub. The consumer loads the
// durable row by EventID, so the message itself stays small.
type Message struct {
	EventID    uuid.UUID             `json:"eventId"`
	Kind       enums.IngestEventKind `json:"kind"`
	SnapshotID *string               `json:"snapshotId,omitempty"`
	AccountID  *uuid.UUID            `json:"accountId,omitempty"`
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Enqueue writes a durable event row inside the caller's transaction. The row
// survives a crash between the webhook acknowledging and the worker picking
// the event up.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, event Event) (*models.IngestEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !event.Kind.IsValid() {
		return nil, errors.New("invalid ingest event kind")
	}

	var payload json.RawMessage
	if event.Data != nil {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return nil, err
		}
		payload = raw
	}

	row := models.IngestEvent{
		ID:         uuid.New(),
		Kind:       event.Kind,
		SnapshotID: event.SnapshotID,
		AccountID:  event.AccountID,
		Payload:    payload,
	}
	if err := s.repo.Insert(tx, &row); err != nil {
		return nil, err
	}

	if s.logg != nil {
		fields := map[string]any{
			"event_id": row.ID.String(),
			"kind":     event.Kind,
		}
		if event.SnapshotID != nil {
			fields["snapshot_id"] = *event.SnapshotID
		}
		logCtx := s.logg.WithFields(ctx, fields)
		s.logg.Info(logCtx, "ingest event queued")
	}
	return &row, nil
}

// MessageFor builds the Pub/Sub message body for a queued event.
func MessageFor(event models.IngestEvent) ([]byte, error) {
	msg := Message{
		EventID:    event.ID,
		Kind:       event.Kind,
		SnapshotID: event.SnapshotID,
		AccountID:  event.AccountID,
	}
	return json.Marshal(msg)
}

// ParseMessage decodes a Pub/Sub message body.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.EventID == uuid.Nil {
		return Message{}, errors.New("message missing event id")
	}
	return msg, nil
}
