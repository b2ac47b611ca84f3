package orgchart

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// Service administers the hierarchy. Writes are serialized by the store and
// every successful write flushes the resolver cache.
type Service struct {
	store    repository.HierarchyStore
	resolver *Resolver
	maxDepth int
	hooks    []func(ctx context.Context) error
	log      *logger.Logger
}

// NewService creates a Service.
func NewService(store repository.HierarchyStore, resolver *Resolver, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		maxDepth: resolver.maxDepth,
		log:      log.Component("orgchart"),
	}
}

// OnChange registers fn to run after every write that can reroute an
// approval: seat assignments and reporting lines. A failing hook is logged;
// the write has already committed.
func (s *Service) OnChange(fn func(ctx context.Context) error) {
	s.hooks = append(s.hooks, fn)
}

func (s *Service) changed(ctx context.Context, routing bool) {
	s.resolver.Invalidate()
	if !routing {
		return
	}
	for _, fn := range s.hooks {
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Msg("Hierarchy change hook failed")
		}
	}
}

// SlotInput describes a new position slot.
type SlotInput struct {
	Code                 string   `json:"code" validate:"required"`
	Title                string   `json:"title" validate:"required"`
	Department           string   `json:"department" validate:"required"`
	Roles                []string `json:"roles"`
	IsDepartmentHead     bool     `json:"isDepartmentHead"`
	IsWorkflowStageOwner bool     `json:"isWorkflowStageOwner"`
}

// AssignInput places a user in a slot.
type AssignInput struct {
	SlotID    string     `json:"slotId" validate:"required"`
	UserID    string     `json:"userId" validate:"required"`
	IsPrimary bool       `json:"isPrimary"`
	StartsAt  *time.Time `json:"startsAt"`
	EndsAt    *time.Time `json:"endsAt"`
}

// ReportingLineInput adds a child -> parent edge.
type ReportingLineInput struct {
	ChildSlotID  string `json:"childSlotId" validate:"required"`
	ParentSlotID string `json:"parentSlotId" validate:"required"`
	Priority     int    `json:"priority"`
}

// CreateSlot adds a seat.
func (s *Service) CreateSlot(ctx context.Context, in SlotInput) (*repository.PositionSlot, error) {
	if strings.TrimSpace(in.Code) == "" {
		return nil, errors.InvalidInput("code", "code is required")
	}
	if strings.TrimSpace(in.Department) == "" {
		return nil, errors.InvalidInput("department", "department is required")
	}

	slot := &repository.PositionSlot{
		Code:                 in.Code,
		Title:                in.Title,
		Department:           in.Department,
		Roles:                in.Roles,
		IsDepartmentHead:     in.IsDepartmentHead,
		IsWorkflowStageOwner: in.IsWorkflowStageOwner,
	}
	err := s.store.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		return tx.CreateSlot(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, false)

	s.log.Info().Str("slot_id", slot.ID).Str("code", slot.Code).Msg("position slot created")
	return slot, nil
}

// AssignSlot places a user in a seat. A slot has at most one active primary
// occupant, so a second primary overlapping the first is a Conflict.
func (s *Service) AssignSlot(ctx context.Context, in AssignInput) (*repository.SlotAssignment, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, errors.InvalidInput("userId", "userId is required")
	}
	startsAt := s.resolver.now()
	if in.StartsAt != nil {
		startsAt = in.StartsAt.UTC()
	}
	if in.EndsAt != nil && !in.EndsAt.After(startsAt) {
		return nil, errors.InvalidInput("endsAt", "endsAt must be after startsAt")
	}

	a := &repository.SlotAssignment{
		SlotID:    in.SlotID,
		UserID:    in.UserID,
		IsPrimary: in.IsPrimary,
		StartsAt:  startsAt,
		EndsAt:    in.EndsAt,
	}
	err := s.store.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		if _, err := tx.GetSlot(ctx, in.SlotID); err != nil {
			return err
		}
		if in.IsPrimary {
			cur, err := tx.PrimaryOverlaps(ctx, in.SlotID, startsAt, in.EndsAt)
			if err != nil {
				return err
			}
			if cur != nil {
				return errors.New(errors.ErrCodeConflict, "slot already has a primary occupant during this term").
					WithDetail("slotId", in.SlotID).
					WithDetail("assignmentId", cur.ID)
			}
		}
		return tx.CreateAssignment(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, true)

	s.log.Info().
		Str("assignment_id", a.ID).
		Str("slot_id", a.SlotID).
		Str("user_id", a.UserID).
		Bool("primary", a.IsPrimary).
		Msg("slot assigned")
	return a, nil
}

// EndAssignment closes an assignment at the given time, or now.
func (s *Service) EndAssignment(ctx context.Context, assignmentID string, at *time.Time) (*repository.SlotAssignment, error) {
	end := s.resolver.now()
	if at != nil {
		end = at.UTC()
	}

	var out *repository.SlotAssignment
	err := s.store.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		a, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.EndsAt != nil && !a.EndsAt.After(end) {
			return errors.New(errors.ErrCodeConflict, "assignment already ended").
				WithDetail("assignmentId", assignmentID)
		}
		if !end.After(a.StartsAt) {
			return errors.InvalidInput("endsAt", "end must be after the assignment start")
		}
		if err := tx.EndAssignment(ctx, assignmentID, end); err != nil {
			return err
		}
		a.EndsAt = &end
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, true)

	s.log.Info().Str("assignment_id", assignmentID).Time("ends_at", end).Msg("slot assignment ended")
	return out, nil
}

// AddReportingLine adds a child -> parent edge. The hierarchy must stay
// acyclic, so an edge whose parent already reports to the child is rejected.
func (s *Service) AddReportingLine(ctx context.Context, in ReportingLineInput) (*repository.SlotReportingLine, error) {
	if in.ChildSlotID == in.ParentSlotID {
		return nil, errors.InvalidInput("parentSlotId", "a slot cannot report to itself")
	}

	line := &repository.SlotReportingLine{
		ChildSlotID:  in.ChildSlotID,
		ParentSlotID: in.ParentSlotID,
		Priority:     in.Priority,
	}
	err := s.store.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		if _, err := tx.GetSlot(ctx, in.ChildSlotID); err != nil {
			return err
		}
		if _, err := tx.GetSlot(ctx, in.ParentSlotID); err != nil {
			return err
		}
		if err := s.validateNoCycle(ctx, tx, in.ChildSlotID, in.ParentSlotID); err != nil {
			return err
		}
		return tx.CreateReportingLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, true)

	s.log.Info().
		Str("child_slot_id", line.ChildSlotID).
		Str("parent_slot_id", line.ParentSlotID).
		Msg("reporting line added")
	return line, nil
}

// validateNoCycle walks every ancestor of parent looking for child.
func (s *Service) validateNoCycle(ctx context.Context, tx repository.HierarchyReader, child, parent string) error {
	visited := map[string]bool{parent: true}
	frontier := []string{parent}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= s.maxDepth {
			return errors.InvalidInput("parentSlotId", "reporting chain exceeds the maximum depth")
		}
		var next []string
		for _, slotID := range frontier {
			lines, err := tx.ParentLines(ctx, slotID)
			if err != nil {
				return err
			}
			for _, l := range lines {
				if l.ParentSlotID == child {
					return errors.InvalidInput("parentSlotId", "reporting line would create a cycle")
				}
				if !visited[l.ParentSlotID] {
					visited[l.ParentSlotID] = true
					next = append(next, l.ParentSlotID)
				}
			}
		}
		frontier = next
	}
	return nil
}

// GrantRole gives a user a seat-independent role such as ADMIN.
func (s *Service) GrantRole(ctx context.Context, userID, role string) (*repository.UserRoleGrant, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.InvalidInput("userId", "userId is required")
	}
	if strings.TrimSpace(role) == "" {
		return nil, errors.InvalidInput("role", "role is required")
	}

	grant := &repository.UserRoleGrant{UserID: userID, Role: role}
	err := s.store.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		return tx.GrantRole(ctx, grant)
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, false)

	s.log.Info().Str("user_id", userID).Str("role", role).Msg("role granted")
	return grant, nil
}
