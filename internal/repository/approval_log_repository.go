package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ApprovalLogRepository appends and reads immutable approval log entries.
type ApprovalLogRepository struct {
	db database.Querier
}

// NewApprovalLogRepository creates a new ApprovalLogRepository.
func NewApprovalLogRepository(db database.Querier) *ApprovalLogRepository {
	return &ApprovalLogRepository{db: db}
}

// Append inserts one entry. The table has an update/delete-prevention
// trigger so this is the only mutation exposed.
func (r *ApprovalLogRepository) Append(ctx context.Context, entry *ApprovalLog) error {
	query := `
		INSERT INTO approval_logs
		    (request_id, actor_id, action, comment, step_name,
		     from_status, to_status, version, ip_address, performed_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		entry.RequestID,
		entry.ActorID,
		entry.Action,
		entry.Comment,
		entry.StepName,
		entry.FromStatus,
		entry.ToStatus,
		entry.Version,
		entry.IPAddress,
		entry.PerformedAt,
	).Scan(&entry.ID)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "approval log entry already exists for this version")
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval log")
}

// GetByRequestID returns the full trail of a request, oldest first.
func (r *ApprovalLogRepository) GetByRequestID(ctx context.Context, requestID string) ([]*ApprovalLog, error) {
	query := `
		SELECT id, request_id, actor_id, action, comment, step_name,
		       from_status, to_status, version, ip_address, performed_at
		FROM approval_logs
		WHERE request_id = $1
		ORDER BY performed_at ASC, version ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalLogRepository) scanRows(rows pgx.Rows) ([]*ApprovalLog, error) {
	var entries []*ApprovalLog
	for rows.Next() {
		entry := &ApprovalLog{}
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.ActorID,
			&entry.Action,
			&entry.Comment,
			&entry.StepName,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.Version,
			&entry.IPAddress,
			&entry.PerformedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval log")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval log")
	}
	return entries, nil
}
