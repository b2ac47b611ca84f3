package clearance

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/metrics"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// RoleSource returns the roles an actor currently holds.
type RoleSource interface {
	ActorRoles(ctx context.Context, userID string) ([]string, error)
}

// Engine mutates checklist items. It never changes the separation's own
// status; completion goes through the transition executor.
type Engine struct {
	store    repository.Store
	roles    RoleSource
	access   *LaneAccess
	template []config.TemplateItem
	now      func() time.Time
	log      *logger.Logger
}

// NewEngine creates an Engine.
func NewEngine(store repository.Store, roles RoleSource, access *LaneAccess, template []config.TemplateItem, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		roles:    roles,
		access:   access,
		template: template,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Component("clearance"),
	}
}

// WithClock replaces the clock used for actedAt and due dates.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// UpdateItemCommand sets the status of one item.
type UpdateItemCommand struct {
	ItemID  string
	ActorID string
	Status  string
	Remarks string
}

// AddItemInput describes an ad hoc checklist item.
type AddItemInput struct {
	RequestID   string     `json:"-"`
	Lane        string     `json:"lane" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	Required    *bool      `json:"required"`
	DueDate     *time.Time `json:"dueDate"`
}

// closed reports whether a separation no longer accepts checklist changes.
func closed(s workflow.Status) bool {
	return s == workflow.StatusCompleted || s == workflow.StatusRejected
}

// UpdateChecklistItem records an actor's decision on an item. The parent
// request is share-locked so a concurrent COMPLETE cannot interleave.
func (e *Engine) UpdateChecklistItem(ctx context.Context, cmd UpdateItemCommand) (*repository.ChecklistItem, error) {
	switch cmd.Status {
	case repository.ItemPending, repository.ItemCleared, repository.ItemRejected:
	default:
		return nil, errors.InvalidInput("status", "status must be PENDING, CLEARED or REJECTED")
	}
	if cmd.Status == repository.ItemRejected && strings.TrimSpace(cmd.Remarks) == "" {
		return nil, errors.InvalidInput("remarks", "remarks are required when rejecting an item")
	}

	roles, err := e.roles.ActorRoles(ctx, cmd.ActorID)
	if err != nil {
		return nil, err
	}

	var out *repository.ChecklistItem
	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		item, err := tx.GetChecklistItem(ctx, cmd.ItemID)
		if err != nil {
			return err
		}
		if !e.access.CanAct(roles, Lane(item.Lane)) {
			e.log.Warn().
				Str("actor_id", cmd.ActorID).
				Str("item_id", item.ID).
				Str("lane", item.Lane).
				Strs("roles", roles).
				Msg("security: clearance update denied")
			return errors.Forbidden("actor may not act on lane " + item.Lane)
		}

		req, err := tx.GetRequestForShare(ctx, item.RequestID)
		if err != nil {
			return err
		}
		if closed(req.Status) {
			return errors.InvalidTransition(string(req.Status), "UPDATE_CLEARANCE_ITEM")
		}

		now := e.now()
		actor := cmd.ActorID
		item.Status = cmd.Status
		item.Remarks = cmd.Remarks
		item.ActedBy = &actor
		item.ActedAt = &now
		if err := tx.UpdateChecklistItem(ctx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordClearanceUpdate(out.Lane, out.Status)
	e.log.Info().
		Str("item_id", out.ID).
		Str("request_id", out.RequestID).
		Str("lane", out.Lane).
		Str("status", out.Status).
		Str("actor_id", cmd.ActorID).
		Msg("clearance item updated")
	return out, nil
}

// AddChecklistItem adds an item to an open separation. Only override roles
// may add items.
func (e *Engine) AddChecklistItem(ctx context.Context, actorID string, in AddItemInput) (*repository.ChecklistItem, error) {
	lane := Lane(in.Lane)
	if !lane.Valid() {
		return nil, errors.InvalidInput("lane", "unknown lane "+in.Lane)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}

	roles, err := e.roles.ActorRoles(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !e.access.IsOverride(roles) {
		e.log.Warn().
			Str("actor_id", actorID).
			Str("request_id", in.RequestID).
			Strs("roles", roles).
			Msg("security: clearance item creation denied")
		return nil, errors.Forbidden("only clearance administrators may add checklist items")
	}

	required := true
	if in.Required != nil {
		required = *in.Required
	}
	item := &repository.ChecklistItem{
		RequestID:   in.RequestID,
		Lane:        string(lane),
		Title:       in.Title,
		Description: in.Description,
		Required:    required,
		Status:      repository.ItemPending,
		DueDate:     in.DueDate,
		CreatedBy:   actorID,
	}

	err = e.store.InTx(ctx, func(tx repository.Tx) error {
		req, err := tx.GetRequestForShare(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if req.WorkflowType != workflow.Separation {
			return errors.InvalidInput("requestId", "request is not a separation")
		}
		if closed(req.Status) {
			return errors.InvalidTransition(string(req.Status), "ADD_CLEARANCE_ITEM")
		}
		return tx.CreateChecklistItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("item_id", item.ID).
		Str("request_id", item.RequestID).
		Str("lane", item.Lane).
		Str("actor_id", actorID).
		Msg("clearance item added")
	return item, nil
}

// SeedTemplate creates the configured template items for a separation inside
// the caller's transaction.
func (e *Engine) SeedTemplate(ctx context.Context, tx repository.Tx, requestID, actorID string) (int, error) {
	now := e.now()
	for _, t := range e.template {
		item := &repository.ChecklistItem{
			RequestID:   requestID,
			Lane:        t.Lane,
			Title:       t.Title,
			Description: t.Description,
			Required:    t.Required,
			Status:      repository.ItemPending,
			CreatedBy:   actorID,
		}
		if t.DueInDays > 0 {
			due := now.AddDate(0, 0, t.DueInDays)
			item.DueDate = &due
		}
		if err := tx.CreateChecklistItem(ctx, item); err != nil {
			return 0, err
		}
	}
	return len(e.template), nil
}

// Board computes the clearance view of a separation.
func (e *Engine) Board(ctx context.Context, requestID string) (*Board, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.WorkflowType != workflow.Separation {
		return nil, errors.InvalidInput("requestId", "request is not a separation")
	}
	items, err := e.store.ListChecklistItems(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return BuildBoard(req.ID, req.Status, items), nil
}
