package ingestion

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"

	"github.com/reelrally/reelrally-backend/pkg/config"
	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/logger"
	"github.com/reelrally/reelrally-backend/pkg/queue"
)

// stalledAfter is how long a published-but-unprocessed event sits before the
// dispatcher assumes the message was lost and republishes it.
const stalledAfter = 5 * time.Minute

// Publisher abstracts the event bus for the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// TopicPublisher adapts a Pub/Sub publisher to the Publisher interface.
type TopicPublisher struct {
	Topic *pubsub.Publisher
}

func (p TopicPublisher) Publish(ctx context.Context, data []byte) error {
	result := p.Topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err := result.Get(ctx)
	return err
}

// Dispatcher drains the durable ingest queue. With a publisher it pushes
// messages onto the event bus; without one (dev mode, no Pub/Sub configured)
// it hands messages straight to the consumer.
type Dispatcher struct {
	events    *queue.Repository
	publisher Publisher
	consumer  *Consumer
	cfg       config.IngestionConfig
	logg      *logger.Logger
}

func NewDispatcher(events *queue.Repository, publisher Publisher, consumer *Consumer, cfg config.IngestionConfig, logg *logger.Logger) (*Dispatcher, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if publisher == nil && consumer == nil {
		return nil, fmt.Errorf("either a publisher or a consumer is required")
	}
	return &Dispatcher{
		events:    events,
		publisher: publisher,
		consumer:  consumer,
		cfg:       cfg,
		logg:      logg,
	}, nil
}

// Run polls the queue until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := time.Duration(d.cfg.DispatchPollMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DispatchOnce(ctx); err != nil {
				d.logg.Error(ctx, "dispatching ingest events", err)
			}
		}
	}
}

// DispatchOnce publishes one batch of unpublished events and requeues stalled
// ones. Exported so tests and one-shot tooling can drive the queue directly.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	if err := d.requeueStalled(ctx); err != nil {
		return err
	}

	events, err := d.events.FetchUnpublished(d.cfg.DispatchBatchSize)
	if err != nil {
		return fmt.Errorf("fetching unpublished events: %w", err)
	}

	for _, event := range events {
		if err := d.dispatchEvent(ctx, event); err != nil {
			// Keep draining; the failed row stays unpublished and is retried
			// next tick.
			d.logg.Error(d.logg.WithField(ctx, "event_id", event.ID.String()), "dispatching ingest event", err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, event models.IngestEvent) error {
	data, err := queue.MessageFor(event)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, data); err != nil {
			return fmt.Errorf("publishing: %w", err)
		}
		return d.events.MarkPublished(event.ID)
	}

	if err := d.events.MarkPublished(event.ID); err != nil {
		return err
	}
	return d.consumer.Handle(ctx, data)
}

func (d *Dispatcher) requeueStalled(ctx context.Context) error {
	stalled, err := d.events.FetchStalled(stalledAfter, d.cfg.DispatchBatchSize)
	if err != nil {
		return fmt.Errorf("fetching stalled events: %w", err)
	}
	for _, event := range stalled {
		d.logg.Warn(d.logg.WithField(ctx, "event_id", event.ID.String()), "requeueing stalled ingest event")
		if err := d.events.ResetPublished(event.ID); err != nil {
			return err
		}
	}
	return nil
}
