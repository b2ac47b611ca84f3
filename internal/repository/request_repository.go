package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// RequestRepository reads and writes workflow requests. Status changes go
// through Update, which enforces the optimistic version check.
type RequestRepository struct {
	db database.Querier
}

// NewRequestRepository creates a RequestRepository over a pool or a transaction.
func NewRequestRepository(db database.Querier) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, workflow_type, requester_id, status,
	version, revision_version, on_hold, current_approver,
	payload, created_at, updated_at`

// Create inserts a request and fills its id and timestamps.
func (r *RequestRepository) Create(ctx context.Context, req *Request) error {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal request payload")
	}

	query := `
		INSERT INTO requests
		    (workflow_type, requester_id, status,
		     version, revision_version, on_hold, current_approver,
		     payload)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7,
		        $8)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		req.WorkflowType,
		req.RequesterID,
		req.Status,
		req.Version,
		req.RevisionVersion,
		req.OnHold,
		req.CurrentApprover,
		payloadJSON,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
	}
	return nil
}

// GetByID retrieves a request by its primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForShare retrieves a request and share-locks the row for the rest
// of the enclosing transaction.
func (r *RequestRepository) GetByIDForShare(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR SHARE`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a request and locks the row exclusively for the
// rest of the enclosing transaction.
func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *RequestRepository) getOne(ctx context.Context, query, id string) (*Request, error) {
	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if isMissing(err) {
		return nil, errors.NotFound("request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request")
	}
	return req, nil
}

// Update writes the mutable columns of req guarded by expectedVersion. When
// no row matches, the current version is read back for the Conflict error.
func (r *RequestRepository) Update(ctx context.Context, req *Request, expectedVersion int) error {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal request payload")
	}

	query := `
		UPDATE requests
		SET status           = $3,
		    version          = $4,
		    revision_version = $5,
		    on_hold          = $6,
		    current_approver = $7,
		    payload          = $8,
		    updated_at       = $9
		WHERE id = $1 AND version = $2
	`

	tag, err := r.db.Exec(ctx, query,
		req.ID,
		expectedVersion,
		req.Status,
		req.Version,
		req.RevisionVersion,
		req.OnHold,
		req.CurrentApprover,
		payloadJSON,
		req.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current int
	err = r.db.QueryRow(ctx, `SELECT version FROM requests WHERE id = $1`, req.ID).Scan(&current)
	if isMissing(err) {
		return errors.NotFound("request", req.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read request version")
	}
	return errors.Conflict("request", req.ID, current)
}

// ListPendingByApprover returns open requests whose current stage is routed
// to approverID, oldest first.
func (r *RequestRepository) ListPendingByApprover(ctx context.Context, approverID string) ([]*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM requests
		WHERE current_approver = $1
		ORDER BY updated_at ASC`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending requests")
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SetCurrentApprover rewrites the routing of a request still at version.
func (r *RequestRepository) SetCurrentApprover(ctx context.Context, id string, version int, approverID *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE requests
		SET current_approver = $3
		WHERE id = $1 AND version = $2
	`, id, version, approverID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to reroute request")
	}
	return tag.RowsAffected() == 1, nil
}

// ListInStatus returns the requests in any of statuses, oldest update first.
func (r *RequestRepository) ListInStatus(ctx context.Context, statuses []workflow.Status) ([]*Request, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + requestColumns + `
		FROM requests
		WHERE status = ANY($1)
		ORDER BY updated_at ASC`

	rows, err := r.db.Query(ctx, query, names)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requests by status")
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(sc rowScanner) (*Request, error) {
	req := &Request{}
	var payloadJSON []byte

	err := sc.Scan(
		&req.ID,
		&req.WorkflowType,
		&req.RequesterID,
		&req.Status,
		&req.Version,
		&req.RevisionVersion,
		&req.OnHold,
		&req.CurrentApprover,
		&payloadJSON,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &req.Payload); err != nil {
		return nil, err
	}
	return req, nil
}
