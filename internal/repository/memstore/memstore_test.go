package memstore

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

func newRequest(t *testing.T, s *Store) *repository.Request {
	t.Helper()
	req := &repository.Request{
		WorkflowType: workflow.Manpower,
		RequesterID:  "u-requester",
		Status:       workflow.StatusDraft,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateRequest(context.Background(), req)
	}))
	return req
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newRequest(t, s)

	boom := stderrors.New("boom")
	err := s.InTx(ctx, func(tx repository.Tx) error {
		r, err := tx.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		r.Version = 1
		r.Status = workflow.StatusPendingHR
		require.NoError(t, tx.UpdateRequest(ctx, r, 0))
		require.NoError(t, tx.AppendApprovalLog(ctx, &repository.ApprovalLog{RequestID: req.ID, Version: 1}))
		return boom
	})
	assert.Equal(t, boom, err)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Version)
	assert.Equal(t, workflow.StatusDraft, got.Status)

	logs, err := s.ListApprovalLogs(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestUpdateRequestChecksVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newRequest(t, s)

	err := s.InTx(ctx, func(tx repository.Tx) error {
		r, _ := tx.GetRequest(ctx, req.ID)
		r.Version = 1
		return tx.UpdateRequest(ctx, r, 3)
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 0, e.Details["currentVersion"])
}

func TestOutboxIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newRequest(t, s)

	var first, second bool
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		var err error
		first, err = tx.EnqueueOutbox(ctx, &repository.OutboxMessage{IdempotencyKey: "k1", RequestID: req.ID})
		if err != nil {
			return err
		}
		second, err = tx.EnqueueOutbox(ctx, &repository.OutboxMessage{IdempotencyKey: "k1", RequestID: req.ID})
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, s.Outbox(), 1)
}

func TestProcessPendingMarksFailedAfterMaxAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newRequest(t, s)
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.EnqueueOutbox(ctx, &repository.OutboxMessage{IdempotencyKey: "k1", RequestID: req.ID})
		return err
	}))

	fail := func(context.Context, *repository.OutboxMessage) error { return stderrors.New("broker down") }
	for i := 0; i < 2; i++ {
		sent, failed, err := s.ProcessPending(ctx, 10, 2, fail)
		require.NoError(t, err)
		assert.Equal(t, 0, sent)
		assert.Equal(t, 1, failed)
	}

	msgs := s.Outbox()
	require.Len(t, msgs, 1)
	assert.Equal(t, repository.OutboxFailed, msgs[0].Status)
	assert.Equal(t, 2, msgs[0].Attempts)
	require.NotNil(t, msgs[0].LastError)
	assert.Equal(t, "broker down", *msgs[0].LastError)

	sent, failed, err := s.ProcessPending(ctx, 10, 2, fail)
	require.NoError(t, err)
	assert.Zero(t, sent+failed)
}

func TestVersionsMustIncrease(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newRequest(t, s)

	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		return tx.AppendVersion(ctx, &repository.RequestVersion{RequestID: req.ID, VersionNumber: 1, Snapshot: []byte(`{}`)})
	}))
	err := s.InTx(ctx, func(tx repository.Tx) error {
		return tx.AppendVersion(ctx, &repository.RequestVersion{RequestID: req.ID, VersionNumber: 1, Snapshot: []byte(`{}`)})
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	_, err = s.GetVersion(ctx, req.ID, 2)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestActivePrimaryPrefersMostRecent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -5)

	slot := &repository.PositionSlot{Code: "HR-HEAD", Department: "HR", IsDepartmentHead: true}
	require.NoError(t, s.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		if err := tx.CreateSlot(ctx, slot); err != nil {
			return err
		}
		if err := tx.CreateAssignment(ctx, &repository.SlotAssignment{SlotID: slot.ID, UserID: "old", IsPrimary: true, StartsAt: past.AddDate(0, -1, 0)}); err != nil {
			return err
		}
		if err := tx.CreateAssignment(ctx, &repository.SlotAssignment{SlotID: slot.ID, UserID: "new", IsPrimary: true, StartsAt: past}); err != nil {
			return err
		}
		ended := past
		return tx.CreateAssignment(ctx, &repository.SlotAssignment{SlotID: slot.ID, UserID: "gone", IsPrimary: true, StartsAt: past.AddDate(0, -2, 0), EndsAt: &ended})
	}))

	a, err := s.ActivePrimary(ctx, slot.ID, now)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "new", a.UserID)

	gone, err := s.ActiveAssignments(ctx, "gone", now)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestPrimaryOverlaps(t *testing.T) {
	s := New()
	ctx := context.Background()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := jan.AddDate(0, 2, 0)

	slot := &repository.PositionSlot{Code: "ENG-MGR", Department: "ENGINEERING"}
	require.NoError(t, s.InHierarchyTx(ctx, func(tx repository.HierarchyTx) error {
		if err := tx.CreateSlot(ctx, slot); err != nil {
			return err
		}
		if err := tx.CreateAssignment(ctx, &repository.SlotAssignment{SlotID: slot.ID, UserID: "deputy", StartsAt: jan}); err != nil {
			return err
		}
		return tx.CreateAssignment(ctx, &repository.SlotAssignment{SlotID: slot.ID, UserID: "q1", IsPrimary: true, StartsAt: jan, EndsAt: &mar})
	}))

	before := jan.AddDate(0, -1, 0)
	tests := []struct {
		name  string
		start time.Time
		end   *time.Time
		want  string
	}{
		{"open-ended from before", before, nil, "q1"},
		{"ends inside", before, &mar, "q1"},
		{"ends at start", before, &jan, ""},
		{"starts at end", mar, nil, ""},
		{"inside", jan.AddDate(0, 0, 7), &mar, "q1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := s.PrimaryOverlaps(ctx, slot.ID, tt.start, tt.end)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, a)
				return
			}
			require.NotNil(t, a)
			assert.Equal(t, tt.want, a.UserID)
		})
	}
}

func TestProcessPendingDeliversOutsideTransactions(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newRequest(t, s)
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.EnqueueOutbox(ctx, &repository.OutboxMessage{IdempotencyKey: "k1", RequestID: req.ID})
		return err
	}))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	type result struct{ sent, failed int }
	relayed := make(chan result, 1)
	go func() {
		sent, failed, err := s.ProcessPending(ctx, 10, 3, func(context.Context, *repository.OutboxMessage) error {
			close(entered)
			<-unblock
			return nil
		})
		assert.NoError(t, err)
		relayed <- result{sent, failed}
	}()
	<-entered

	committed := make(chan error, 1)
	go func() {
		committed <- s.InTx(ctx, func(tx repository.Tx) error {
			_, err := tx.EnqueueOutbox(ctx, &repository.OutboxMessage{IdempotencyKey: "k2", RequestID: req.ID})
			return err
		})
	}()
	select {
	case err := <-committed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(unblock)
		t.Fatal("a slow delivery blocked a transaction")
	}

	sent, failed, err := s.ProcessPending(ctx, 10, 3, func(_ context.Context, m *repository.OutboxMessage) error {
		assert.Equal(t, "k2", m.IdempotencyKey, "messages out for delivery are not claimed twice")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)

	close(unblock)
	got := <-relayed
	assert.Equal(t, 1, got.sent)
	assert.Zero(t, got.failed)

	for _, m := range s.Outbox() {
		assert.Equal(t, repository.OutboxSent, m.Status, m.IdempotencyKey)
	}
}
