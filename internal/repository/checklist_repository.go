package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ChecklistRepository handles separation clearance items.
type ChecklistRepository struct {
	db database.Querier
}

// NewChecklistRepository creates a new ChecklistRepository.
func NewChecklistRepository(db database.Querier) *ChecklistRepository {
	return &ChecklistRepository{db: db}
}

const checklistColumns = `
	id, request_id, lane, title, description, required,
	status, due_date, remarks, acted_by, acted_at,
	created_by, created_at, position`

// Create inserts an item at the end of its lane.
func (r *ChecklistRepository) Create(ctx context.Context, item *ChecklistItem) error {
	query := `
		INSERT INTO clearance_items
		    (request_id, lane, title, description, required,
		     status, due_date, created_by, position)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8,
		        (SELECT COALESCE(MAX(position), 0) + 1 FROM clearance_items WHERE request_id = $1 AND lane = $2))
		RETURNING id, created_at, position
	`

	err := r.db.QueryRow(ctx, query,
		item.RequestID,
		item.Lane,
		item.Title,
		item.Description,
		item.Required,
		item.Status,
		item.DueDate,
		item.CreatedBy,
	).Scan(&item.ID, &item.CreatedAt, &item.Position)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create clearance item")
}

// GetByID retrieves one item.
func (r *ChecklistRepository) GetByID(ctx context.Context, id string) (*ChecklistItem, error) {
	query := `SELECT ` + checklistColumns + ` FROM clearance_items WHERE id = $1`

	item, err := r.scanItem(r.db.QueryRow(ctx, query, id))
	if isMissing(err) {
		return nil, errors.NotFound("clearance_item", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get clearance item")
	}
	return item, nil
}

// Update writes the acted-on fields of an item.
func (r *ChecklistRepository) Update(ctx context.Context, item *ChecklistItem) error {
	query := `
		UPDATE clearance_items
		SET status   = $2,
		    remarks  = $3,
		    acted_by = $4,
		    acted_at = $5
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, item.ID, item.Status, item.Remarks, item.ActedBy, item.ActedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update clearance item")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("clearance_item", item.ID)
	}
	return nil
}

// ListByRequestID returns the items of a separation ordered by lane then
// position.
func (r *ChecklistRepository) ListByRequestID(ctx context.Context, requestID string) ([]*ChecklistItem, error) {
	query := `SELECT ` + checklistColumns + `
		FROM clearance_items
		WHERE request_id = $1
		ORDER BY lane ASC, position ASC`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list clearance items")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ChecklistRepository) scanRows(rows pgx.Rows) ([]*ChecklistItem, error) {
	var items []*ChecklistItem
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan clearance item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil && !isMissing(err) {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read clearance items")
	}
	return items, nil
}

func (r *ChecklistRepository) scanItem(sc rowScanner) (*ChecklistItem, error) {
	item := &ChecklistItem{}
	err := sc.Scan(
		&item.ID,
		&item.RequestID,
		&item.Lane,
		&item.Title,
		&item.Description,
		&item.Required,
		&item.Status,
		&item.DueDate,
		&item.Remarks,
		&item.ActedBy,
		&item.ActedAt,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.Position,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}
