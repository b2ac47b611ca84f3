package service

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// RequestQueries serves the read side: summaries, audit trail, snapshots and
// approval inboxes. It never writes.
type RequestQueries struct {
	store repository.Store
}

// NewRequestQueries creates a new RequestQueries.
func NewRequestQueries(store repository.Store) *RequestQueries {
	return &RequestQueries{store: store}
}

// RequestSummary is a request with its derived progress labels.
type RequestSummary struct {
	Request          *repository.Request
	Step             int
	TotalSteps       int
	StepName         string
	Terminal         bool
	AvailableActions []workflow.Action
}

// Summary loads a request and derives its step position, label and the
// actions the state machine allows next. A request on hold cannot be put on
// hold again, so HOLD is left out while OnHold is set.
func (q *RequestQueries) Summary(ctx context.Context, requestID string) (*RequestSummary, error) {
	req, err := q.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return summarize(req)
}

func summarize(req *repository.Request) (*RequestSummary, error) {
	m, err := workflow.For(req.WorkflowType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "stored request has unknown workflow type")
	}

	step, total, _ := workflow.StepIndex(req.WorkflowType, req.Status)
	actions := []workflow.Action{}
	for _, a := range m.AvailableActions(req.Status) {
		if a == workflow.ActionHold && req.OnHold {
			continue
		}
		actions = append(actions, a)
	}

	return &RequestSummary{
		Request:          req,
		Step:             step,
		TotalSteps:       total,
		StepName:         stepName(req.WorkflowType, req.Status),
		Terminal:         m.IsTerminal(req.Status),
		AvailableActions: actions,
	}, nil
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// History returns the audit trail of a request, oldest first.
func (q *RequestQueries) History(ctx context.Context, requestID string) ([]*repository.ApprovalLog, error) {
	if _, err := q.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return q.store.ListApprovalLogs(ctx, requestID)
}

// Versions lists every snapshot of a request in version order.
func (q *RequestQueries) Versions(ctx context.Context, requestID string) ([]*repository.RequestVersion, error) {
	if _, err := q.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return q.store.ListVersions(ctx, requestID)
}

// Version returns snapshot n of a request, decoded.
func (q *RequestQueries) Version(ctx context.Context, requestID string, n int) (*repository.RequestVersion, *RequestSnapshot, error) {
	v, err := q.store.GetVersion(ctx, requestID, n)
	if err != nil {
		return nil, nil, err
	}
	var snap RequestSnapshot
	if err := json.Unmarshal(v.Snapshot, &snap); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode request snapshot")
	}
	return v, &snap, nil
}

// PendingApprovals lists the requests currently waiting on approverID.
func (q *RequestQueries) PendingApprovals(ctx context.Context, approverID string) ([]*RequestSummary, error) {
	reqs, err := q.store.ListPendingByApprover(ctx, approverID)
	if err != nil {
		return nil, err
	}
	out := make([]*RequestSummary, 0, len(reqs))
	for _, r := range reqs {
		s, err := summarize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
