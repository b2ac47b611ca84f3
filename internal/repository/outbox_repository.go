package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// OutboxRepository writes notification rows alongside state changes and lets
// the relay claim and settle them.
type OutboxRepository struct {
	db database.Querier
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db database.Querier) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts msg unless a row with the same idempotency key exists.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg *OutboxMessage) (bool, error) {
	query := `
		INSERT INTO outbox_messages
		    (idempotency_key, event_type, request_id, stage, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		msg.IdempotencyKey,
		msg.EventType,
		msg.RequestID,
		msg.Stage,
		msg.Recipient,
		msg.Payload,
	).Scan(&msg.ID, &msg.CreatedAt)
	if isMissing(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to enqueue outbox message")
	}
	msg.Status = OutboxPending
	return true, nil
}

// ClaimPending locks up to limit pending rows, skipping rows another relay
// already holds.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*OutboxMessage, error) {
	query := `
		SELECT id, idempotency_key, event_type, request_id, stage, recipient,
		       payload, status, attempts, last_error, created_at, sent_at
		FROM outbox_messages
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to claim outbox messages")
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		m := &OutboxMessage{}
		err := rows.Scan(
			&m.ID,
			&m.IdempotencyKey,
			&m.EventType,
			&m.RequestID,
			&m.Stage,
			&m.Recipient,
			&m.Payload,
			&m.Status,
			&m.Attempts,
			&m.LastError,
			&m.CreatedAt,
			&m.SentAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan outbox message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSent settles a delivered message.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'SENT', sent_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = $1
	`, id, at)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark outbox message sent")
}

// MarkAttemptFailed records a delivery error. The row stays pending until
// attempts reaches maxAttempts.
func (r *OutboxRepository) MarkAttemptFailed(ctx context.Context, id, lastError string, maxAttempts int) (bool, error) {
	var status string
	err := r.db.QueryRow(ctx, `
		UPDATE outbox_messages
		SET attempts   = attempts + 1,
		    last_error = $2,
		    status     = CASE WHEN attempts + 1 >= $3 THEN 'FAILED' ELSE 'PENDING' END
		WHERE id = $1
		RETURNING status
	`, id, lastError, maxAttempts).Scan(&status)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to record outbox failure")
	}
	return status == OutboxFailed, nil
}
