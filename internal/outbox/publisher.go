package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	"github.com/avelartours/capacity-engine/internal/adapters/rabbit"
	"github.com/avelartours/capacity-engine/internal/observability"
)

const (
	pollInterval = 5 * time.Second
	fetchLimit   = 50
)

// Publisher relays hold lifecycle events from the transactional outbox to
// the broker. Rows are fetched with SKIP LOCKED, so running more than one
// relay is safe.
type Publisher struct {
	repo      *pg.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *pg.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishPending(ctx); err != nil {
				p.logger.WithError(err).Error("outbox poll failed")
			}
		}
	}
}

func (p *Publisher) publishPending(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, fetchLimit)
	if err != nil {
		return err
	}

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("event_type", rec.EventType).WithError(err).Warn("publish failed, will retry")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			p.logger.WithField("outbox_id", rec.ID).WithError(err).Error("failed to mark outbox row published")
		}
	}
	return nil
}
