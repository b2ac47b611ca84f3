package workflow

// Type identifies one approval workflow.
type Type string

const (
	Manpower     Type = "MANPOWER"
	BusinessTrip Type = "BUSINESS_TRIP"
	Separation   Type = "SEPARATION"
)

// Types lists every workflow type.
var Types = []Type{Manpower, BusinessTrip, Separation}

// Valid reports whether t is a known workflow type.
func (t Type) Valid() bool {
	switch t {
	case Manpower, BusinessTrip, Separation:
		return true
	}
	return false
}

// Status is a request state. Each workflow uses a subset.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusPendingManager   Status = "PENDING_MANAGER"
	StatusPendingHR        Status = "PENDING_HR"
	StatusPendingFinance   Status = "PENDING_FINANCE"
	StatusPendingCEO       Status = "PENDING_CEO"
	StatusSubmitted        Status = "SUBMITTED"
	StatusApprovedOpen     Status = "APPROVED_OPEN"
	StatusHiringInProgress Status = "HIRING_IN_PROGRESS"
	StatusApproved         Status = "APPROVED"
	StatusCompleted        Status = "COMPLETED"
	StatusRejected         Status = "REJECTED"
	StatusArchived         Status = "ARCHIVED"
	StatusCancelled        Status = "CANCELLED"
)

// Action is a command applied to a request.
type Action string

const (
	ActionSubmit        Action = "SUBMIT"
	ActionApprove       Action = "APPROVE"
	ActionReject        Action = "REJECT"
	ActionRequestChange Action = "REQUEST_CHANGE"
	ActionHold          Action = "HOLD"
	ActionArchive       Action = "ARCHIVE"
	ActionCancel        Action = "CANCEL"
	ActionStartHiring   Action = "START_HIRING"
	ActionComplete      Action = "COMPLETE"
)

// Actions lists every action.
var Actions = []Action{
	ActionSubmit, ActionApprove, ActionReject, ActionRequestChange, ActionHold,
	ActionArchive, ActionCancel, ActionStartHiring, ActionComplete,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSubmit, ActionApprove, ActionReject, ActionRequestChange, ActionHold,
		ActionArchive, ActionCancel, ActionStartHiring, ActionComplete:
		return true
	}
	return false
}

// RequiresComment reports whether the action must carry a non-empty comment.
func (a Action) RequiresComment() bool {
	return a == ActionReject || a == ActionRequestChange
}

// ActorRule says who may perform a transition.
type ActorRule int

const (
	// ActorRequester is the person who raised the request.
	ActorRequester ActorRule = iota
	// ActorStageApprover is the approver resolved for the current stage.
	ActorStageApprover
	// ActorOperator holds the operations role (HR by default) from policy.
	ActorOperator
)

func (r ActorRule) String() string {
	switch r {
	case ActorRequester:
		return "requester"
	case ActorStageApprover:
		return "stage_approver"
	case ActorOperator:
		return "operator"
	}
	return "unknown"
}

// StageRequirement describes whom a pending stage routes to.
type StageRequirement struct {
	// Role the approver's seat must hold. Empty means any occupied ancestor.
	Role string
	// DepartmentHead resolves the head seat of Department directly instead
	// of walking the requester's reporting line.
	DepartmentHead bool
	Department     string
}

// Transition is one row of a workflow's transition table.
type Transition struct {
	From   Status
	Action Action
	To     Status
	Actor  ActorRule
	// PostTerminal marks the documented exits from a terminal state.
	PostTerminal bool
	// BumpsRevision increments the request's revision counter.
	BumpsRevision bool
	// RequiresClearance gates the transition on the clearance board.
	RequiresClearance bool
}

// Holds reports whether the transition suspends the stage in place.
func (t Transition) Holds() bool {
	return t.Action == ActionHold
}
