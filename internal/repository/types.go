package repository

import (
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// ── Requests ─────────────────────────────────────────────────────────────────

// Request is one workflow instance. Version is the optimistic lock and grows
// by exactly one per accepted transition.
type Request struct {
	ID              string           `json:"id"`
	WorkflowType    workflow.Type    `json:"workflowType"`
	RequesterID     string           `json:"requesterId"`
	Status          workflow.Status  `json:"status"`
	Version         int              `json:"version"`
	RevisionVersion int              `json:"revisionVersion"`
	OnHold          bool             `json:"onHold"`
	CurrentApprover *string          `json:"currentApprover"` // denormalized, recomputed at stage entry
	Payload         workflow.Payload `json:"payload"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Clone returns a deep enough copy for snapshotting and copy-on-write stores.
func (r *Request) Clone() *Request {
	c := *r
	if r.CurrentApprover != nil {
		a := *r.CurrentApprover
		c.CurrentApprover = &a
	}
	return &c
}

// ApprovalLog is one immutable record of an accepted transition.
type ApprovalLog struct {
	ID          string          `json:"id"`
	RequestID   string          `json:"requestId"`
	ActorID     string          `json:"actorId"`
	Action      workflow.Action `json:"action"`
	Comment     string          `json:"comment"`
	StepName    string          `json:"stepName"`
	FromStatus  workflow.Status `json:"fromStatus"`
	ToStatus    workflow.Status `json:"toStatus"`
	Version     int             `json:"version"`
	IPAddress   string          `json:"ipAddress"`
	PerformedAt time.Time       `json:"performedAt"`
}

// RequestVersion is an immutable snapshot taken after a transition.
// VersionNumber equals the request version it captures.
type RequestVersion struct {
	RequestID     string          `json:"requestId"`
	VersionNumber int             `json:"versionNumber"`
	Snapshot      json.RawMessage `json:"snapshot"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ── Outbox ───────────────────────────────────────────────────────────────────

// Outbox message states.
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxFailed  = "FAILED"
)

// OutboxMessage is a notification enqueued in the same transaction as the
// state change that caused it.
type OutboxMessage struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotencyKey"`
	EventType      string     `json:"eventType"`
	RequestID      string     `json:"requestId"`
	Stage          string     `json:"stage"`
	Recipient      string     `json:"recipient"`
	Payload        []byte     `json:"payload"` // JSON
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"lastError"`
	CreatedAt      time.Time  `json:"createdAt"`
	SentAt         *time.Time `json:"sentAt"`
}

// ── Clearance ────────────────────────────────────────────────────────────────

// Checklist item states.
const (
	ItemPending  = "PENDING"
	ItemCleared  = "CLEARED"
	ItemRejected = "REJECTED"
)

// ChecklistItem is one clearance task in a lane of a separation.
type ChecklistItem struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"requestId"`
	Lane        string     `json:"lane"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"dueDate"`
	Remarks     string     `json:"remarks"`
	ActedBy     *string    `json:"actedBy"`
	ActedAt     *time.Time `json:"actedAt"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	Position    int        `json:"position"`
}

// ── Org hierarchy ────────────────────────────────────────────────────────────

// PositionSlot is an org chart seat, independent of who occupies it.
type PositionSlot struct {
	ID                   string    `json:"id"`
	Code                 string    `json:"code"`
	Title                string    `json:"title"`
	Department           string    `json:"department"`
	Roles                []string  `json:"roles"`
	IsDepartmentHead     bool      `json:"isDepartmentHead"`
	IsWorkflowStageOwner bool      `json:"isWorkflowStageOwner"`
	CreatedAt            time.Time `json:"createdAt"`
}

// HasRole reports whether the seat holds role.
func (s *PositionSlot) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SlotAssignment places a user in a slot. EndsAt nil means open ended.
type SlotAssignment struct {
	ID        string     `json:"id"`
	SlotID    string     `json:"slotId"`
	UserID    string     `json:"userId"`
	IsPrimary bool       `json:"isPrimary"`
	StartsAt  time.Time  `json:"startsAt"`
	EndsAt    *time.Time `json:"endsAt"`
}

// ActiveAt reports whether the assignment is in effect at t.
func (a *SlotAssignment) ActiveAt(t time.Time) bool {
	if a.StartsAt.After(t) {
		return false
	}
	return a.EndsAt == nil || a.EndsAt.After(t)
}

// SlotReportingLine is a directed edge child -> parent. Lower priority is
// walked first.
type SlotReportingLine struct {
	ChildSlotID  string `json:"childSlotId"`
	ParentSlotID string `json:"parentSlotId"`
	Priority     int    `json:"priority"`
}

// UserRoleGrant gives a user a system role not tied to a seat, e.g. ADMIN.
type UserRoleGrant struct {
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	GrantedAt time.Time `json:"grantedAt"`
}
