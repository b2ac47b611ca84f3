package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// NotificationEvent is the JSON document stored in the outbox and published
// verbatim by the relay for the notifications service.
//
// Event types: hr_approval_required, hr_changes_requested, hr_request_on_hold,
// and hr_request_<status> for terminal outcomes (hr_request_rejected, ...).
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	ActionURL    string                 `json:"action_url,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

const (
	eventApprovalRequired = "hr_approval_required"
	eventChangesRequested = "hr_changes_requested"
	eventOnHold           = "hr_request_on_hold"
)

// notification is one recipient-specific message derived from a transition.
type notification struct {
	eventType  string
	recipient  string
	actionable bool
	severity   string
}

// notificationsFor decides who hears about a transition. Actors are never
// notified of their own action.
func notificationsFor(m *workflow.Machine, prev, next *repository.Request, action workflow.Action, actorID string) []notification {
	var out []notification
	add := func(n notification) {
		if n.recipient == "" || n.recipient == actorID {
			return
		}
		out = append(out, n)
	}

	switch {
	case action == workflow.ActionHold:
		add(notification{eventType: eventOnHold, recipient: next.RequesterID, severity: "warning"})
	case action == workflow.ActionRequestChange:
		add(notification{eventType: eventChangesRequested, recipient: next.RequesterID, actionable: true, severity: "warning"})
	case m.IsPending(next.Status) && next.Status != prev.Status:
		if next.CurrentApprover != nil {
			add(notification{eventType: eventApprovalRequired, recipient: *next.CurrentApprover, actionable: true, severity: "info"})
		}
	case m.IsTerminal(next.Status):
		severity := "info"
		if next.Status == workflow.StatusRejected {
			severity = "warning"
		}
		add(notification{
			eventType: "hr_request_" + strings.ToLower(string(next.Status)),
			recipient: next.RequesterID,
			severity:  severity,
		})
	}
	return out
}

// idempotencyKey identifies a notification by request, stage and recipient,
// so replaying the same stage entry never enqueues a second message.
func idempotencyKey(req *repository.Request, recipient string) string {
	return fmt.Sprintf("%s:%s:r%d:%s", req.ID, req.Status, req.RevisionVersion, recipient)
}

func buildOutboxMessage(n notification, req *repository.Request, actorID, comment string, at time.Time) (*repository.OutboxMessage, error) {
	payload := map[string]interface{}{
		"workflow_type": string(req.WorkflowType),
		"status":        string(req.Status),
		"step_name":     stepName(req.WorkflowType, req.Status),
		"version":       req.Version,
	}
	if comment != "" {
		payload["comment"] = comment
	}

	event := &NotificationEvent{
		EventType:    n.eventType,
		ActorID:      actorID,
		Recipients:   []string{n.recipient},
		ResourceType: "hr_request",
		ResourceID:   req.ID,
		IsActionable: n.actionable,
		ActionURL:    fmt.Sprintf("/requests/%s", req.ID),
		Severity:     n.severity,
		Category:     "hr_workflow",
		OccurredAt:   at,
		Payload:      payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &repository.OutboxMessage{
		IdempotencyKey: idempotencyKey(req, n.recipient),
		EventType:      n.eventType,
		RequestID:      req.ID,
		Stage:          string(req.Status),
		Recipient:      n.recipient,
		Payload:        data,
		Status:         repository.OutboxPending,
	}, nil
}
