package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// RequestSnapshot is the JSON document stored for every request version.
type RequestSnapshot struct {
	ID              string           `json:"id"`
	WorkflowType    workflow.Type    `json:"workflowType"`
	RequesterID     string           `json:"requesterId"`
	Status          workflow.Status  `json:"status"`
	Version         int              `json:"version"`
	RevisionVersion int              `json:"revisionVersion"`
	OnHold          bool             `json:"onHold"`
	CurrentApprover *string          `json:"currentApprover,omitempty"`
	Payload         workflow.Payload `json:"payload"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

func snapshotOf(req *repository.Request) RequestSnapshot {
	return RequestSnapshot{
		ID:              req.ID,
		WorkflowType:    req.WorkflowType,
		RequesterID:     req.RequesterID,
		Status:          req.Status,
		Version:         req.Version,
		RevisionVersion: req.RevisionVersion,
		OnHold:          req.OnHold,
		CurrentApprover: req.CurrentApprover,
		Payload:         req.Payload,
		CreatedAt:       req.CreatedAt,
		UpdatedAt:       req.UpdatedAt,
	}
}

// Snapshot stores req as version req.Version inside tx and returns the
// version number. Numbers are strictly increasing per request; a stale or
// repeated number is a Conflict.
func Snapshot(ctx context.Context, tx repository.Tx, req *repository.Request, at time.Time) (int, error) {
	data, err := json.Marshal(snapshotOf(req))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode request snapshot")
	}
	v := &repository.RequestVersion{
		RequestID:     req.ID,
		VersionNumber: req.Version,
		Snapshot:      data,
		CreatedAt:     at,
	}
	if err := tx.AppendVersion(ctx, v); err != nil {
		return 0, err
	}
	return v.VersionNumber, nil
}

// stepName labels a status, falling back to the raw status for states the
// label table does not know.
func stepName(t workflow.Type, s workflow.Status) string {
	if name, ok := workflow.StepName(t, s); ok {
		return name
	}
	return string(s)
}
