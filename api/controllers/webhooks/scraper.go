package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/reelrally/reelrally-backend/api/responses"
	"github.com/reelrally/reelrally-backend/internal/scrapejobs"
	"github.com/reelrally/reelrally-backend/pkg/config"
	dbpkg "github.com/reelrally/reelrally-backend/pkg/db"
	"github.com/reelrally/reelrally-backend/pkg/enums"
	pkgerrors "github.com/reelrally/reelrally-backend/pkg/errors"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/queue"
	"github.com/reelrally/reelrally-backend/pkg/redis"
)

// maxWebhookBody bounds a pushed result payload. Provider batches are capped
// well below this.
const maxWebhookBody = 64 << 20

// webhookDedupTTL outlives any realistic provider redelivery window.
const webhookDedupTTL = 24 * time.Hour

type jobResolver interface {
	Resolve(ctx context.Context, handle string, payloadURLs []string) (*scrapejobs.Match, error)
}

type jobStore interface {
	Rekey(ctx context.Context, oldSnapshotID, newSnapshotID string) error
	UpdateStatus(ctx context.Context, snapshotID string, status enums.SnapshotStatus) error
}

type snapshotDataPayload struct {
	Records []json.RawMessage `json:"records"`
}

// ScraperWebhook receives provider callbacks. Three shapes arrive on the same
// endpoint: a bare readiness notification, a raw record array, and a
// {snapshot_id, data} wrapper. The handler only records durable work, leaving
// reconciliation to the worker, so the provider gets its 200 fast and retries
// carry no side effects past the idempotency guard.
func ScraperWebhook(
	cfg config.WebhookConfig,
	client *dbpkg.Client,
	resolver jobResolver,
	jobs jobStore,
	events *queue.Service,
	guard redis.IdempotencyStore,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		secret := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(cfg.Secret)) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook secret"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading webhook body"))
			return
		}

		event, err := scrapejobs.ParseWebhook(body)
		if err != nil {
			// Malformed payloads are acked: the provider retrying the same
			// bytes will never parse differently.
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "unparseable webhook payload acked")
			}
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}

		match, err := resolver.Resolve(ctx, event.SnapshotID, scrapejobs.RecordURLs(event.Records))
		if err != nil {
			typed := pkgerrors.As(err)
			if typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				// Not our job (or already reconciled). Ack so the provider
				// stops retrying.
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "handle", event.SnapshotID), "webhook for unknown job acked")
				}
				responses.WriteSuccess(w, map[string]string{"status": "ignored"})
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		handle := match.Job.SnapshotID
		if event.SnapshotID != "" && event.SnapshotID != handle {
			if err := jobs.Rekey(ctx, handle, event.SnapshotID); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rekeying job"))
				return
			}
			handle = event.SnapshotID
		}
		if logg != nil {
			ctx = logg.WithSnapshotID(ctx, handle)
		}

		switch event.Kind {
		case scrapejobs.EventNotification:
			err = handleNotification(ctx, jobs, events, guard, client, handle, event.Status, logg)
		case scrapejobs.EventData:
			err = handleData(ctx, events, guard, client, handle, event.Records)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "accepted", "snapshot_id": handle})
	}
}

// handleNotification records the provider-reported status and, once the
// snapshot is ready, queues a pull of its data.
func handleNotification(
	ctx context.Context,
	jobs jobStore,
	events *queue.Service,
	guard redis.IdempotencyStore,
	client *dbpkg.Client,
	handle string,
	status enums.SnapshotStatus,
	logg *logger.Logger,
) error {
	if status != enums.SnapshotStatusUnknown {
		if err := jobs.UpdateStatus(ctx, handle, status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording snapshot status")
		}
	}
	if status == enums.SnapshotStatusFailed && logg != nil {
		logg.Warn(logg.WithField(ctx, "handle", handle), "provider reports snapshot failed")
	}
	if status != enums.SnapshotStatusReady {
		return nil
	}
	return enqueueOnce(ctx, events, guard, client, handle, queue.Event{
		Kind:       enums.IngestEventSnapshotReady,
		SnapshotID: &handle,
	})
}

// handleData stores the pushed records as a durable event so the worker can
// reconcile them without re-fetching from the provider.
func handleData(
	ctx context.Context,
	events *queue.Service,
	guard redis.IdempotencyStore,
	client *dbpkg.Client,
	handle string,
	records []json.RawMessage,
) error {
	return enqueueOnce(ctx, events, guard, client, handle, queue.Event{
		Kind:       enums.IngestEventSnapshotData,
		SnapshotID: &handle,
		Data:       snapshotDataPayload{Records: records},
	})
}

// enqueueOnce dedupes redelivered webhooks per (kind, handle) before writing
// the durable event. The reconciler carries its own guard, so a leaked
// duplicate is harmless; this one just keeps the event table quiet.
func enqueueOnce(
	ctx context.Context,
	events *queue.Service,
	guard redis.IdempotencyStore,
	client *dbpkg.Client,
	handle string,
	event queue.Event,
) error {
	key := guard.IdempotencyKey("webhook", string(event.Kind)+":"+handle)
	fresh, err := guard.SetNX(ctx, key, "1", webhookDedupTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking webhook dedupe guard")
	}
	if !fresh {
		return nil
	}

	txErr := client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := events.Enqueue(ctx, tx, event)
		return err
	})
	if txErr != nil {
		// Release the guard so the provider's retry can land the event.
		_ = guard.Del(ctx, key)
		return txErr
	}
	return nil
}
