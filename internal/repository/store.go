package repository

import (
	"context"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// Tx is the unit of work the transition executor and clearance engine run
// in. Every write of one command goes through a single Tx.
type Tx interface {
	GetRequest(ctx context.Context, id string) (*Request, error)
	// GetRequestForShare reads the request and holds a share lock on it
	// until the transaction ends, blocking concurrent transitions.
	GetRequestForShare(ctx context.Context, id string) (*Request, error)
	// GetRequestForUpdate reads the request and holds an exclusive lock on
	// it, waiting out share lockers such as checklist updates.
	GetRequestForUpdate(ctx context.Context, id string) (*Request, error)
	CreateRequest(ctx context.Context, req *Request) error
	// UpdateRequest persists req only if the stored version still equals
	// expectedVersion, otherwise it returns a Conflict error.
	UpdateRequest(ctx context.Context, req *Request, expectedVersion int) error
	// SetCurrentApprover reroutes a request without a new version. It
	// reports false when the stored version is no longer version.
	SetCurrentApprover(ctx context.Context, id string, version int, approverID *string) (bool, error)

	AppendApprovalLog(ctx context.Context, entry *ApprovalLog) error
	AppendVersion(ctx context.Context, v *RequestVersion) error
	// EnqueueOutbox inserts msg unless its idempotency key exists. It
	// reports whether a row was written.
	EnqueueOutbox(ctx context.Context, msg *OutboxMessage) (bool, error)

	CreateChecklistItem(ctx context.Context, item *ChecklistItem) error
	GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error)
	UpdateChecklistItem(ctx context.Context, item *ChecklistItem) error
	ListChecklistItems(ctx context.Context, requestID string) ([]*ChecklistItem, error)
}

// Store opens transactions and serves committed reads.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetRequest(ctx context.Context, id string) (*Request, error)
	ListPendingByApprover(ctx context.Context, approverID string) ([]*Request, error)
	// ListInStatus returns the requests in any of statuses, oldest update first.
	ListInStatus(ctx context.Context, statuses []workflow.Status) ([]*Request, error)
	ListApprovalLogs(ctx context.Context, requestID string) ([]*ApprovalLog, error)
	ListVersions(ctx context.Context, requestID string) ([]*RequestVersion, error)
	GetVersion(ctx context.Context, requestID string, versionNumber int) (*RequestVersion, error)
	ListChecklistItems(ctx context.Context, requestID string) ([]*ChecklistItem, error)
}

// HierarchyReader is the read side of the org chart.
type HierarchyReader interface {
	GetSlot(ctx context.Context, id string) (*PositionSlot, error)
	// ActiveAssignments lists the user's assignments in effect at t,
	// primary and secondary, most recently started first.
	ActiveAssignments(ctx context.Context, userID string, at time.Time) ([]*SlotAssignment, error)
	// ActivePrimary returns the primary occupant of a slot at t, the most
	// recently started one if several exist, or nil when the seat is vacant.
	ActivePrimary(ctx context.Context, slotID string, at time.Time) (*SlotAssignment, error)
	// PrimaryOverlaps returns the earliest primary assignment of a slot whose
	// term overlaps [start, end), or nil. A nil end is open-ended.
	PrimaryOverlaps(ctx context.Context, slotID string, start time.Time, end *time.Time) (*SlotAssignment, error)
	// ParentLines lists the edges out of a slot ordered by priority then
	// parent id.
	ParentLines(ctx context.Context, slotID string) ([]*SlotReportingLine, error)
	DepartmentHeads(ctx context.Context, department string) ([]*PositionSlot, error)
	RoleGrants(ctx context.Context, userID string) ([]string, error)
}

// HierarchyTx is a serialized unit of work over the org chart.
type HierarchyTx interface {
	HierarchyReader
	CreateSlot(ctx context.Context, slot *PositionSlot) error
	CreateAssignment(ctx context.Context, a *SlotAssignment) error
	GetAssignment(ctx context.Context, id string) (*SlotAssignment, error)
	EndAssignment(ctx context.Context, id string, at time.Time) error
	CreateReportingLine(ctx context.Context, line *SlotReportingLine) error
	GrantRole(ctx context.Context, grant *UserRoleGrant) error
}

// HierarchyStore reads the org chart and runs hierarchy writes one at a time.
type HierarchyStore interface {
	HierarchyReader
	InHierarchyTx(ctx context.Context, fn func(tx HierarchyTx) error) error
}

// OutboxStore is the relay's view of the outbox.
type OutboxStore interface {
	// ProcessPending claims up to limit pending messages, oldest first, and
	// hands each to deliver. A nil result marks the message sent; an error
	// increments attempts and marks it failed once maxAttempts is reached.
	ProcessPending(ctx context.Context, limit, maxAttempts int, deliver func(ctx context.Context, msg *OutboxMessage) error) (sent, failed int, err error)
}
