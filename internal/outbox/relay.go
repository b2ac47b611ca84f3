// Package outbox delivers enqueued notifications to the message broker. It
// runs as its own process; request handling never waits on the broker.
package outbox

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/metrics"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// Relay polls pending outbox rows and publishes them.
type Relay struct {
	store         repository.OutboxStore
	publisher     Publisher
	cfg           config.OutboxConfig
	subjectPrefix string
	log           *logger.Logger
}

// NewRelay creates a new Relay.
func NewRelay(store repository.OutboxStore, publisher Publisher, cfg config.OutboxConfig, subjectPrefix string, log *logger.Logger) *Relay {
	return &Relay{
		store:         store,
		publisher:     publisher,
		cfg:           cfg,
		subjectPrefix: subjectPrefix,
		log:           log.Component("outbox_relay"),
	}
}

// Subject returns the broker subject of an event type.
func (r *Relay) Subject(eventType string) string {
	return r.subjectPrefix + "." + eventType
}

// RunOnce delivers at most one batch.
func (r *Relay) RunOnce(ctx context.Context) (sent, failed int, err error) {
	sent, failed, err = r.store.ProcessPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts,
		func(ctx context.Context, msg *repository.OutboxMessage) error {
			subject := r.Subject(msg.EventType)
			if err := r.publisher.Publish(ctx, subject, msg.IdempotencyKey, msg.Payload); err != nil {
				r.log.Warn().Err(err).
					Str("outbox_id", msg.ID).
					Str("subject", subject).
					Str("request_id", msg.RequestID).
					Int("previous_attempts", msg.Attempts).
					Msg("notification: publish failed, will retry")
				return err
			}
			return nil
		})
	if err != nil {
		return sent, failed, err
	}
	metrics.RecordOutbox(sent, failed)
	return sent, failed, nil
}

// Run polls until ctx is cancelled. A fully delivered batch is followed
// immediately by another poll so a backlog drains without waiting.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("Outbox relay started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		sent, failed, err := r.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.log.Error().Err(err).Msg("Outbox poll failed")
		case sent+failed > 0:
			r.log.Info().Int("sent", sent).Int("failed", failed).Msg("Outbox batch delivered")
		}

		if err == nil && failed == 0 && sent >= r.cfg.BatchSize && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			r.log.Info().Msg("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}
