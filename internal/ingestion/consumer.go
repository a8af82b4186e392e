package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/queue"
)

type snapshotFetcher interface {
	AwaitReady(ctx context.Context, handle string) error
	FetchData(ctx context.Context, handle string) ([]json.RawMessage, error)
}

type accountVerifier interface {
	Verify(ctx context.Context, accountID uuid.UUID) error
}

type eventStore interface {
	GetByID(id uuid.UUID) (*models.IngestEvent, error)
	MarkProcessed(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

// snapshotDataPayload is the durable payload of a snapshot.data event: the
// records the webhook delivered inline.
type snapshotDataPayload struct {
	Records []json.RawMessage `json:"records"`
}

// Consumer turns ingest queue messages into reconciliation and verification
// work. Messages only carry the event id; the durable row is the source of
// truth for payload and attempt accounting.
type Consumer struct {
	events     eventStore
	reconciler *Reconciler
	snapshots  snapshotFetcher
	verifier   accountVerifier
	cfg        config.IngestionConfig
	logg       *logger.Logger
}

func NewConsumer(
	events eventStore,
	reconciler *Reconciler,
	snapshots snapshotFetcher,
	verifier accountVerifier,
	cfg config.IngestionConfig,
	logg *logger.Logger,
) (*Consumer, error) {
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	return &Consumer{
		events:     events,
		reconciler: reconciler,
		snapshots:  snapshots,
		verifier:   verifier,
		cfg:        cfg,
		logg:       logg,
	}, nil
}

// Handle processes one queue message. A nil return means the message can be
// acked; an error means redelivery is wanted.
func (c *Consumer) Handle(ctx context.Context, data []byte) error {
	msg, err := queue.ParseMessage(data)
	if err != nil {
		// Undecodable messages never become decodable; ack them away.
		c.logg.Warn(c.logg.WithField(ctx, "parse_error", err.Error()), "dropping undecodable ingest message")
		return nil
	}
	ctx = c.logg.WithField(ctx, "event_id", msg.EventID.String())

	event, err := c.events.GetByID(msg.EventID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading ingest event")
	}
	if event == nil {
		c.logg.Warn(ctx, "ingest event row missing, dropping message")
		return nil
	}
	if event.ProcessedAt != nil {
		return nil
	}
	if event.AttemptCount >= c.cfg.MaxAttempts {
		c.logg.Error(ctx, "ingest event exhausted its attempts", fmt.Errorf("attempt_count=%d", event.AttemptCount))
		return nil
	}

	if err := c.dispatch(ctx, event); err != nil {
		if markErr := c.events.MarkFailed(event.ID, err); markErr != nil {
			c.logg.Error(ctx, "recording ingest event failure", markErr)
		}
		return err
	}
	if err := c.events.MarkProcessed(event.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking ingest event processed")
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, event *models.IngestEvent) error {
	switch event.Kind {
	case enums.IngestEventSnapshotData:
		return c.handleSnapshotData(ctx, event)
	case enums.IngestEventSnapshotReady:
		return c.handleSnapshotReady(ctx, event)
	case enums.IngestEventAccountVerify:
		return c.handleAccountVerify(ctx, event)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "unknown ingest event kind")
}

func (c *Consumer) handleSnapshotData(ctx context.Context, event *models.IngestEvent) error {
	if event.SnapshotID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "snapshot.data event without snapshot id")
	}
	var payload snapshotDataPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding snapshot.data payload")
		}
	}
	records := payload.Records
	if len(records) == 0 && c.snapshots != nil {
		fetched, err := c.snapshots.FetchData(ctx, *event.SnapshotID)
		if err != nil {
			return err
		}
		records = fetched
	}
	return c.reconciler.Reconcile(ctx, *event.SnapshotID, records)
}

func (c *Consumer) handleSnapshotReady(ctx context.Context, event *models.IngestEvent) error {
	if event.SnapshotID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "snapshot.ready event without snapshot id")
	}
	if c.snapshots == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "no snapshot fetcher configured")
	}
	// Readiness notifications are occasionally premature; AwaitReady tolerates
	// a timeout and the fetch below decides.
	if err := c.snapshots.AwaitReady(ctx, *event.SnapshotID); err != nil {
		return err
	}
	records, err := c.snapshots.FetchData(ctx, *event.SnapshotID)
	if err != nil {
		return err
	}
	return c.reconciler.Reconcile(ctx, *event.SnapshotID, records)
}

func (c *Consumer) handleAccountVerify(ctx context.Context, event *models.IngestEvent) error {
	if event.AccountID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account.verify event without account id")
	}
	if c.verifier == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "no account verifier configured")
	}
	return c.verifier.Verify(ctx, *event.AccountID)
}

// Run consumes the subscription until the context is canceled.
func (c *Consumer) Run(ctx context.Context, sub *pubsub.Subscriber) error {
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := c.Handle(ctx, msg.Data); err != nil {
			c.logg.Error(ctx, "handling ingest message", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
