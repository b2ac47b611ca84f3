package clearance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/repository/memstore"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

type staticRoles map[string][]string

func (s staticRoles) ActorRoles(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

var roles = staticRoles{
	"it-officer":  {"IT"},
	"fin-officer": {"FINANCE"},
	"hr-officer":  {"HR"},
	"outsider":    {"SALES"},
}

func newEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	policy := config.DefaultPolicy()
	access, err := NewLaneAccess(policy.Clearance.LaneAccess, policy.Clearance.OverrideRoles)
	require.NoError(t, err)

	store := memstore.New()
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	e := NewEngine(store, roles, access, policy.Clearance.Template, logger.Nop()).
		WithClock(func() time.Time { return now })
	return e, store
}

func newSeparation(t *testing.T, e *Engine, store *memstore.Store, status workflow.Status) *repository.Request {
	t.Helper()
	ctx := context.Background()
	req := &repository.Request{
		WorkflowType: workflow.Separation,
		RequesterID:  "leaver",
		Status:       status,
		Version:      2,
	}
	require.NoError(t, store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateRequest(ctx, req); err != nil {
			return err
		}
		_, err := e.SeedTemplate(ctx, tx, req.ID, "hr-officer")
		return err
	}))
	return req
}

func itemIn(t *testing.T, store *memstore.Store, requestID string, lane Lane) *repository.ChecklistItem {
	t.Helper()
	items, err := store.ListChecklistItems(context.Background(), requestID)
	require.NoError(t, err)
	for _, it := range items {
		if it.Lane == string(lane) {
			return it
		}
	}
	t.Fatalf("no item in lane %s", lane)
	return nil
}

func TestProgressAndReady(t *testing.T) {
	assert.Equal(t, 1.0, Progress(nil))
	assert.True(t, Ready(nil))

	items := []*repository.ChecklistItem{
		{Required: true, Status: repository.ItemCleared},
		{Required: true, Status: repository.ItemRejected},
		{Required: false, Status: repository.ItemPending},
		{Required: true, Status: repository.ItemPending},
	}
	assert.InDelta(t, 1.0/3.0, Progress(items), 1e-9)
	assert.False(t, Ready(items))

	items[1].Status = repository.ItemCleared
	items[3].Status = repository.ItemCleared
	assert.Equal(t, 1.0, Progress(items))
	assert.True(t, Ready(items), "optional items do not block readiness")
}

func TestLaneAccessRejectsUnknownLane(t *testing.T) {
	_, err := NewLaneAccess(map[string][]string{"IT": {"SPACESHIPS"}}, nil)
	assert.Error(t, err)
}

func TestLaneAccess(t *testing.T) {
	access, err := NewLaneAccess(map[string][]string{"IT": {"IT"}, "FINANCE": {"FINANCE", "USED_CARS"}}, []string{"HR"})
	require.NoError(t, err)

	assert.True(t, access.CanAct([]string{"IT"}, LaneIT))
	assert.False(t, access.CanAct([]string{"IT"}, LaneFinance))
	assert.Equal(t, []Lane{LaneFinance, LaneUsedCars}, access.LanesFor([]string{"FINANCE"}))
	assert.Equal(t, Lanes, access.LanesFor([]string{"HR"}))
}

func TestBoardListsEveryLane(t *testing.T) {
	e, store := newEngine(t)
	req := newSeparation(t, e, store, workflow.StatusApproved)

	board, err := e.Board(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, board.Lanes, len(Lanes))
	assert.Equal(t, LaneIT, board.Lanes[0].Lane)
	assert.Equal(t, 2, board.Lanes[0].Total)
	assert.Equal(t, 7, board.RequiredTotal)
	assert.Equal(t, 0.0, board.Progress)
	assert.False(t, board.Ready)
}

func TestUpdateRequiresLaneAccess(t *testing.T) {
	e, store := newEngine(t)
	req := newSeparation(t, e, store, workflow.StatusApproved)
	item := itemIn(t, store, req.ID, LaneFinance)
	ctx := context.Background()

	_, err := e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "it-officer", Status: repository.ItemCleared})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	_, err = e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "outsider", Status: repository.ItemCleared})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	got, err := e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "fin-officer", Status: repository.ItemCleared})
	require.NoError(t, err)
	assert.Equal(t, repository.ItemCleared, got.Status)
	require.NotNil(t, got.ActedBy)
	assert.Equal(t, "fin-officer", *got.ActedBy)

	_, err = e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "hr-officer", Status: repository.ItemPending})
	assert.NoError(t, err, "override roles act on every lane")
}

func TestUpdateValidation(t *testing.T) {
	e, store := newEngine(t)
	req := newSeparation(t, e, store, workflow.StatusApproved)
	item := itemIn(t, store, req.ID, LaneIT)
	ctx := context.Background()

	_, err := e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "it-officer", Status: repository.ItemRejected, Remarks: "  "})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "it-officer", Status: "DONE"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: "missing", ActorID: "it-officer", Status: repository.ItemCleared})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	got, err := e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "it-officer", Status: repository.ItemRejected, Remarks: "laptop damaged"})
	require.NoError(t, err)
	assert.Equal(t, "laptop damaged", got.Remarks)
}

func TestUpdateRefusedOnClosedSeparation(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()

	for _, status := range []workflow.Status{workflow.StatusCompleted, workflow.StatusRejected} {
		req := newSeparation(t, e, store, status)
		item := itemIn(t, store, req.ID, LaneIT)

		_, err := e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: item.ID, ActorID: "it-officer", Status: repository.ItemCleared})
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition), string(status))

		_, err = e.AddChecklistItem(ctx, "hr-officer", AddItemInput{RequestID: req.ID, Lane: string(LaneIT), Title: "late item"})
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidTransition), string(status))
	}
}

func TestUpdateNeverChangesRequestStatus(t *testing.T) {
	e, store := newEngine(t)
	req := newSeparation(t, e, store, workflow.StatusApproved)
	ctx := context.Background()

	items, err := store.ListChecklistItems(ctx, req.ID)
	require.NoError(t, err)
	for _, it := range items {
		_, err := e.UpdateChecklistItem(ctx, UpdateItemCommand{ItemID: it.ID, ActorID: "hr-officer", Status: repository.ItemCleared})
		require.NoError(t, err)
	}

	board, err := e.Board(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, board.Ready)
	assert.Equal(t, 1.0, board.Progress)

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, got.Status)
	assert.Equal(t, 2, got.Version)
}

func TestAddChecklistItem(t *testing.T) {
	e, store := newEngine(t)
	req := newSeparation(t, e, store, workflow.StatusApproved)
	ctx := context.Background()

	_, err := e.AddChecklistItem(ctx, "it-officer", AddItemInput{RequestID: req.ID, Lane: string(LaneIT), Title: "Return badge"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	_, err = e.AddChecklistItem(ctx, "hr-officer", AddItemInput{RequestID: req.ID, Lane: "MOON", Title: "x"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	optional := false
	item, err := e.AddChecklistItem(ctx, "hr-officer", AddItemInput{RequestID: req.ID, Lane: string(LaneIT), Title: "Return badge", Required: &optional})
	require.NoError(t, err)
	assert.Equal(t, 3, item.Position)
	assert.False(t, item.Required)

	trip := &repository.Request{WorkflowType: workflow.BusinessTrip, RequesterID: "x", Status: workflow.StatusDraft}
	require.NoError(t, store.InTx(ctx, func(tx repository.Tx) error { return tx.CreateRequest(ctx, trip) }))
	_, err = e.AddChecklistItem(ctx, "hr-officer", AddItemInput{RequestID: trip.ID, Lane: string(LaneIT), Title: "x"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}
