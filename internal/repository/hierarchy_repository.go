package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// hierarchyLockID is the advisory lock that serializes org chart writes.
const hierarchyLockID = 7271005

// HierarchyRepository reads and writes position slots, assignments,
// reporting lines and role grants.
type HierarchyRepository struct {
	db database.Querier
}

// NewHierarchyRepository creates a new HierarchyRepository.
func NewHierarchyRepository(db database.Querier) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

// Lock takes the transaction-scoped hierarchy write lock.
func (r *HierarchyRepository) Lock(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hierarchyLockID)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock hierarchy")
}

// ── Slots ────────────────────────────────────────────────────────────────────

const slotColumns = `id, code, title, department, roles, is_department_head, is_workflow_stage_owner, created_at`

// CreateSlot inserts a position slot. Slot codes are unique.
func (r *HierarchyRepository) CreateSlot(ctx context.Context, slot *PositionSlot) error {
	query := `
		INSERT INTO position_slots
		    (code, title, department, roles, is_department_head, is_workflow_stage_owner)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	roles := slot.Roles
	if roles == nil {
		roles = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		slot.Code,
		slot.Title,
		slot.Department,
		roles,
		slot.IsDepartmentHead,
		slot.IsWorkflowStageOwner,
	).Scan(&slot.ID, &slot.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "position slot code already exists").
			WithDetail("code", slot.Code)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create position slot")
}

// GetSlot retrieves a slot by id.
func (r *HierarchyRepository) GetSlot(ctx context.Context, id string) (*PositionSlot, error) {
	slot := &PositionSlot{}
	err := r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM position_slots WHERE id = $1`, id).Scan(
		&slot.ID, &slot.Code, &slot.Title, &slot.Department, &slot.Roles,
		&slot.IsDepartmentHead, &slot.IsWorkflowStageOwner, &slot.CreatedAt,
	)
	if isMissing(err) {
		return nil, errors.NotFound("position_slot", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get position slot")
	}
	return slot, nil
}

// DepartmentHeads lists the head slots of a department ordered by code.
func (r *HierarchyRepository) DepartmentHeads(ctx context.Context, department string) ([]*PositionSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM position_slots
		WHERE department = $1 AND is_department_head
		ORDER BY code ASC
	`, department)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list department heads")
	}
	defer rows.Close()

	var out []*PositionSlot
	for rows.Next() {
		slot := &PositionSlot{}
		err := rows.Scan(
			&slot.ID, &slot.Code, &slot.Title, &slot.Department, &slot.Roles,
			&slot.IsDepartmentHead, &slot.IsWorkflowStageOwner, &slot.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan position slot")
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// ── Assignments ──────────────────────────────────────────────────────────────

const assignmentColumns = `id, slot_id, user_id, is_primary, starts_at, ends_at`

// CreateAssignment inserts an assignment.
func (r *HierarchyRepository) CreateAssignment(ctx context.Context, a *SlotAssignment) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO slot_assignments (slot_id, user_id, is_primary, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.SlotID, a.UserID, a.IsPrimary, a.StartsAt, a.EndsAt).Scan(&a.ID)
	if isForeignKeyViolation(err) {
		return errors.NotFound("position_slot", a.SlotID)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create slot assignment")
}

// GetAssignment retrieves an assignment by id.
func (r *HierarchyRepository) GetAssignment(ctx context.Context, id string) (*SlotAssignment, error) {
	a := &SlotAssignment{}
	err := r.db.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM slot_assignments WHERE id = $1`, id).
		Scan(&a.ID, &a.SlotID, &a.UserID, &a.IsPrimary, &a.StartsAt, &a.EndsAt)
	if isMissing(err) {
		return nil, errors.NotFound("slot_assignment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get slot assignment")
	}
	return a, nil
}

// EndAssignment closes an assignment at the given time.
func (r *HierarchyRepository) EndAssignment(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE slot_assignments SET ends_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		if isMissing(err) {
			return errors.NotFound("slot_assignment", id)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to end slot assignment")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("slot_assignment", id)
	}
	return nil
}

// ActiveAssignments lists the user's assignments in effect at t.
func (r *HierarchyRepository) ActiveAssignments(ctx context.Context, userID string, at time.Time) ([]*SlotAssignment, error) {
	return r.listAssignments(ctx, `
		SELECT `+assignmentColumns+`
		FROM slot_assignments
		WHERE user_id = $1
		  AND starts_at <= $2
		  AND (ends_at IS NULL OR ends_at > $2)
		ORDER BY starts_at DESC, id ASC
	`, userID, at)
}

// ActivePrimary returns the slot's primary occupant at t, or nil if vacant.
func (r *HierarchyRepository) ActivePrimary(ctx context.Context, slotID string, at time.Time) (*SlotAssignment, error) {
	list, err := r.listAssignments(ctx, `
		SELECT `+assignmentColumns+`
		FROM slot_assignments
		WHERE slot_id = $1
		  AND is_primary
		  AND starts_at <= $2
		  AND (ends_at IS NULL OR ends_at > $2)
		ORDER BY starts_at DESC, id ASC
		LIMIT 1
	`, slotID, at)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// PrimaryOverlaps returns the first primary assignment of the slot whose
// term overlaps [start, end). A nil end is open-ended.
func (r *HierarchyRepository) PrimaryOverlaps(ctx context.Context, slotID string, start time.Time, end *time.Time) (*SlotAssignment, error) {
	list, err := r.listAssignments(ctx, `
		SELECT `+assignmentColumns+`
		FROM slot_assignments
		WHERE slot_id = $1
		  AND is_primary
		  AND (ends_at IS NULL OR ends_at > $2)
		  AND ($3::timestamptz IS NULL OR starts_at < $3)
		ORDER BY starts_at ASC, id ASC
		LIMIT 1
	`, slotID, start, end)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (r *HierarchyRepository) listAssignments(ctx context.Context, query string, args ...any) ([]*SlotAssignment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list slot assignments")
	}
	defer rows.Close()

	var out []*SlotAssignment
	for rows.Next() {
		a := &SlotAssignment{}
		if err := rows.Scan(&a.ID, &a.SlotID, &a.UserID, &a.IsPrimary, &a.StartsAt, &a.EndsAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan slot assignment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil && !isMissing(err) {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read slot assignments")
	}
	return out, nil
}

// ── Reporting lines ──────────────────────────────────────────────────────────

// CreateReportingLine inserts a child -> parent edge.
func (r *HierarchyRepository) CreateReportingLine(ctx context.Context, line *SlotReportingLine) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO slot_reporting_lines (child_slot_id, parent_slot_id, priority)
		VALUES ($1, $2, $3)
	`, line.ChildSlotID, line.ParentSlotID, line.Priority)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "reporting line already exists")
	}
	if isForeignKeyViolation(err) {
		return errors.InvalidInput("slot", "reporting line references an unknown slot")
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to create reporting line")
}

// ParentLines lists the edges out of a slot.
func (r *HierarchyRepository) ParentLines(ctx context.Context, slotID string) ([]*SlotReportingLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT child_slot_id, parent_slot_id, priority
		FROM slot_reporting_lines
		WHERE child_slot_id = $1
		ORDER BY priority ASC, parent_slot_id ASC
	`, slotID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list reporting lines")
	}
	defer rows.Close()

	var out []*SlotReportingLine
	for rows.Next() {
		l := &SlotReportingLine{}
		if err := rows.Scan(&l.ChildSlotID, &l.ParentSlotID, &l.Priority); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan reporting line")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ── Role grants ──────────────────────────────────────────────────────────────

// GrantRole records a direct role grant. Granting twice is a no-op.
func (r *HierarchyRepository) GrantRole(ctx context.Context, grant *UserRoleGrant) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_role_grants (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING granted_at
	`, grant.UserID, grant.Role).Scan(&grant.GrantedAt)
	return errors.Wrap(err, errors.ErrCodeInternal, "failed to grant role")
}

// RoleGrants lists the roles granted directly to a user.
func (r *HierarchyRepository) RoleGrants(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT role FROM user_role_grants WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list role grants")
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan role grant")
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
