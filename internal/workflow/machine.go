package workflow

import (
	"fmt"
)

// Machine is the stateless definition of one workflow: its ordered states,
// transition table and the routing requirement of each pending stage.
type Machine struct {
	Type        Type
	States      []Status
	Initial     Status
	Transitions []Transition

	terminal map[Status]bool
	stages   map[Status]StageRequirement
	index    map[Status]map[Action]Transition
}

func newMachine(t Type, states []Status, terminal []Status, stages map[Status]StageRequirement, transitions []Transition) *Machine {
	m := &Machine{
		Type:        t,
		States:      states,
		Initial:     states[0],
		Transitions: transitions,
		terminal:    make(map[Status]bool, len(terminal)),
		stages:      stages,
		index:       make(map[Status]map[Action]Transition),
	}
	for _, s := range terminal {
		m.terminal[s] = true
	}
	for _, tr := range transitions {
		if m.index[tr.From] == nil {
			m.index[tr.From] = make(map[Action]Transition)
		}
		if _, dup := m.index[tr.From][tr.Action]; dup {
			panic(fmt.Sprintf("workflow %s: duplicate transition %s/%s", t, tr.From, tr.Action))
		}
		m.index[tr.From][tr.Action] = tr
	}
	return m
}

// HasState reports whether s belongs to this workflow.
func (m *Machine) HasState(s Status) bool {
	for _, st := range m.States {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a terminal state.
func (m *Machine) IsTerminal(s Status) bool {
	return m.terminal[s]
}

// IsPending reports whether s is an approval stage routed to an approver.
func (m *Machine) IsPending(s Status) bool {
	_, ok := m.stages[s]
	return ok
}

// Stage returns the routing requirement of a pending stage.
func (m *Machine) Stage(s Status) (StageRequirement, bool) {
	req, ok := m.stages[s]
	return req, ok
}

// Lookup finds the transition for (from, action). Terminal states only
// yield transitions flagged PostTerminal.
func (m *Machine) Lookup(from Status, action Action) (Transition, bool) {
	tr, ok := m.index[from][action]
	if !ok {
		return Transition{}, false
	}
	if m.IsTerminal(from) && !tr.PostTerminal {
		return Transition{}, false
	}
	return tr, true
}

// AvailableTransitions lists the legal transitions out of from, in table order.
func (m *Machine) AvailableTransitions(from Status) []Transition {
	r := []Transition{}
	for _, tr := range m.Transitions {
		if tr.From != from {
			continue
		}
		if m.IsTerminal(from) && !tr.PostTerminal {
			continue
		}
		r = append(r, tr)
	}
	return r
}

// AvailableActions lists the legal actions out of from.
func (m *Machine) AvailableActions(from Status) []Action {
	trs := m.AvailableTransitions(from)
	actions := make([]Action, 0, len(trs))
	for _, tr := range trs {
		actions = append(actions, tr.Action)
	}
	return actions
}

// For returns the machine of a workflow type.
func For(t Type) (*Machine, error) {
	switch t {
	case Manpower:
		return manpowerMachine, nil
	case BusinessTrip:
		return businessTripMachine, nil
	case Separation:
		return separationMachine, nil
	}
	return nil, fmt.Errorf("unknown workflow type %q", t)
}

// MustFor is For for callers that already validated t.
func MustFor(t Type) *Machine {
	m, err := For(t)
	if err != nil {
		panic(err)
	}
	return m
}

// PendingStatuses lists the approval stages of every workflow, each once.
func PendingStatuses() []Status {
	seen := make(map[Status]bool)
	var out []Status
	for _, t := range Types {
		m := MustFor(t)
		for _, s := range m.States {
			if m.IsPending(s) && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Departments referenced by stage routing.
const (
	DepartmentHR      = "HR"
	DepartmentFinance = "FINANCE"
)

// Seat roles referenced by stage routing.
const (
	RoleHR      = "HR"
	RoleFinance = "FINANCE"
	RoleCEO     = "CEO"
)

var (
	hrHead      = StageRequirement{Role: RoleHR, DepartmentHead: true, Department: DepartmentHR}
	financeHead = StageRequirement{Role: RoleFinance, DepartmentHead: true, Department: DepartmentFinance}
	ceo         = StageRequirement{Role: RoleCEO}
	lineManager = StageRequirement{}
)

// pendingExits builds the exits shared by every pending stage.
func pendingExits(from Status, exits ...Transition) []Transition {
	out := make([]Transition, 0, len(exits))
	for _, tr := range exits {
		tr.From = from
		if tr.Action == ActionHold {
			tr.To = from
		}
		out = append(out, tr)
	}
	return out
}

//	DRAFT -> PENDING_HR -> PENDING_FINANCE -> PENDING_CEO -> APPROVED_OPEN -> HIRING_IN_PROGRESS -> COMPLETED
//	pending stages: REJECT, ARCHIVE, REQUEST_CHANGE (back to DRAFT), HOLD
var manpowerMachine = func() *Machine {
	var trs []Transition
	trs = append(trs,
		Transition{From: StatusDraft, Action: ActionSubmit, To: StatusPendingHR, Actor: ActorRequester},
		Transition{From: StatusDraft, Action: ActionCancel, To: StatusCancelled, Actor: ActorRequester},
	)
	next := map[Status]Status{
		StatusPendingHR:      StatusPendingFinance,
		StatusPendingFinance: StatusPendingCEO,
		StatusPendingCEO:     StatusApprovedOpen,
	}
	for _, from := range []Status{StatusPendingHR, StatusPendingFinance, StatusPendingCEO} {
		trs = append(trs, pendingExits(from,
			Transition{Action: ActionApprove, To: next[from], Actor: ActorStageApprover},
			Transition{Action: ActionReject, To: StatusRejected, Actor: ActorStageApprover},
			Transition{Action: ActionRequestChange, To: StatusDraft, Actor: ActorStageApprover, BumpsRevision: true},
			Transition{Action: ActionHold, Actor: ActorStageApprover},
			Transition{Action: ActionArchive, To: StatusArchived, Actor: ActorStageApprover},
		)...)
	}
	trs = append(trs,
		Transition{From: StatusApprovedOpen, Action: ActionStartHiring, To: StatusHiringInProgress, Actor: ActorOperator, PostTerminal: true},
		Transition{From: StatusHiringInProgress, Action: ActionComplete, To: StatusCompleted, Actor: ActorOperator, PostTerminal: true},
	)

	return newMachine(Manpower,
		[]Status{StatusDraft, StatusPendingHR, StatusPendingFinance, StatusPendingCEO,
			StatusApprovedOpen, StatusHiringInProgress, StatusCompleted,
			StatusRejected, StatusArchived, StatusCancelled},
		[]Status{StatusApprovedOpen, StatusHiringInProgress, StatusCompleted, StatusRejected, StatusArchived, StatusCancelled},
		map[Status]StageRequirement{
			StatusPendingHR:      hrHead,
			StatusPendingFinance: financeHead,
			StatusPendingCEO:     ceo,
		},
		trs,
	)
}()

//	DRAFT -> PENDING_MANAGER -> PENDING_HR -> PENDING_FINANCE -> APPROVED -> COMPLETED
//	pending stages: REJECT, CANCEL (requester), HOLD
var businessTripMachine = func() *Machine {
	var trs []Transition
	trs = append(trs,
		Transition{From: StatusDraft, Action: ActionSubmit, To: StatusPendingManager, Actor: ActorRequester},
		Transition{From: StatusDraft, Action: ActionCancel, To: StatusCancelled, Actor: ActorRequester},
	)
	next := map[Status]Status{
		StatusPendingManager: StatusPendingHR,
		StatusPendingHR:      StatusPendingFinance,
		StatusPendingFinance: StatusApproved,
	}
	for _, from := range []Status{StatusPendingManager, StatusPendingHR, StatusPendingFinance} {
		trs = append(trs, pendingExits(from,
			Transition{Action: ActionApprove, To: next[from], Actor: ActorStageApprover},
			Transition{Action: ActionReject, To: StatusRejected, Actor: ActorStageApprover},
			Transition{Action: ActionHold, Actor: ActorStageApprover},
			Transition{Action: ActionCancel, To: StatusCancelled, Actor: ActorRequester},
		)...)
	}
	trs = append(trs,
		Transition{From: StatusApproved, Action: ActionComplete, To: StatusCompleted, Actor: ActorRequester, PostTerminal: true},
		Transition{From: StatusApproved, Action: ActionCancel, To: StatusCancelled, Actor: ActorRequester, PostTerminal: true},
	)

	return newMachine(BusinessTrip,
		[]Status{StatusDraft, StatusPendingManager, StatusPendingHR, StatusPendingFinance,
			StatusApproved, StatusCompleted, StatusRejected, StatusCancelled},
		[]Status{StatusApproved, StatusCompleted, StatusRejected, StatusCancelled},
		map[Status]StageRequirement{
			StatusPendingManager: lineManager,
			StatusPendingHR:      hrHead,
			StatusPendingFinance: financeHead,
		},
		trs,
	)
}()

//	DRAFT -> SUBMITTED -> APPROVED -> COMPLETED (gated by clearance)
//	SUBMITTED: REJECT, HOLD
var separationMachine = newMachine(Separation,
	[]Status{StatusDraft, StatusSubmitted, StatusApproved, StatusCompleted, StatusRejected},
	[]Status{StatusApproved, StatusCompleted, StatusRejected},
	map[Status]StageRequirement{
		StatusSubmitted: hrHead,
	},
	[]Transition{
		{From: StatusDraft, Action: ActionSubmit, To: StatusSubmitted, Actor: ActorRequester},
		{From: StatusSubmitted, Action: ActionApprove, To: StatusApproved, Actor: ActorStageApprover},
		{From: StatusSubmitted, Action: ActionReject, To: StatusRejected, Actor: ActorStageApprover},
		{From: StatusSubmitted, Action: ActionHold, To: StatusSubmitted, Actor: ActorStageApprover},
		{From: StatusApproved, Action: ActionComplete, To: StatusCompleted, Actor: ActorOperator, PostTerminal: true, RequiresClearance: true},
	},
)
