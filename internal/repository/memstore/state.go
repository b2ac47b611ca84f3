package memstore

import (
	"sort"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

type state struct {
	requests     map[string]*repository.Request
	requestOrder []string
	logs         map[string][]*repository.ApprovalLog
	versions     map[string][]*repository.RequestVersion
	outbox       []*repository.OutboxMessage
	outboxKeys   map[string]bool
	items        map[string]*repository.ChecklistItem
	itemOrder    []string

	slots           map[string]*repository.PositionSlot
	assignments     map[string]*repository.SlotAssignment
	assignmentOrder []string
	lines           []*repository.SlotReportingLine
	grants          map[string]map[string]time.Time
}

func newState() *state {
	return &state{
		requests:    make(map[string]*repository.Request),
		logs:        make(map[string][]*repository.ApprovalLog),
		versions:    make(map[string][]*repository.RequestVersion),
		outboxKeys:  make(map[string]bool),
		items:       make(map[string]*repository.ChecklistItem),
		slots:       make(map[string]*repository.PositionSlot),
		assignments: make(map[string]*repository.SlotAssignment),
		grants:      make(map[string]map[string]time.Time),
	}
}

// clone copies every mutable row. Append-only rows (logs, versions) are
// shared because nothing mutates them after insertion.
func (s *state) clone() *state {
	c := newState()
	for id, r := range s.requests {
		c.requests[id] = r.Clone()
	}
	c.requestOrder = append([]string(nil), s.requestOrder...)
	for id, l := range s.logs {
		c.logs[id] = append([]*repository.ApprovalLog(nil), l...)
	}
	for id, v := range s.versions {
		c.versions[id] = append([]*repository.RequestVersion(nil), v...)
	}
	for _, m := range s.outbox {
		c.outbox = append(c.outbox, cloneOutbox(m))
	}
	for k := range s.outboxKeys {
		c.outboxKeys[k] = true
	}
	for id, it := range s.items {
		c.items[id] = cloneItem(it)
	}
	c.itemOrder = append([]string(nil), s.itemOrder...)

	for id, sl := range s.slots {
		c.slots[id] = cloneSlot(sl)
	}
	for id, a := range s.assignments {
		c.assignments[id] = cloneAssignment(a)
	}
	c.assignmentOrder = append([]string(nil), s.assignmentOrder...)
	for _, l := range s.lines {
		line := *l
		c.lines = append(c.lines, &line)
	}
	for u, roles := range s.grants {
		m := make(map[string]time.Time, len(roles))
		for r, at := range roles {
			m[r] = at
		}
		c.grants[u] = m
	}
	return c
}

func (s *state) getRequest(id string) (*repository.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("request", id)
	}
	return r.Clone(), nil
}

func (s *state) listItems(requestID string) []*repository.ChecklistItem {
	var out []*repository.ChecklistItem
	for _, id := range s.itemOrder {
		if it := s.items[id]; it.RequestID == requestID {
			out = append(out, cloneItem(it))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Lane != out[j].Lane {
			return out[i].Lane < out[j].Lane
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func (s *state) getSlot(id string) (*repository.PositionSlot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, errors.NotFound("position_slot", id)
	}
	return cloneSlot(sl), nil
}

func (s *state) activeAssignments(userID string, at time.Time) []*repository.SlotAssignment {
	var out []*repository.SlotAssignment
	for _, id := range s.assignmentOrder {
		a := s.assignments[id]
		if a.UserID == userID && a.ActiveAt(at) {
			out = append(out, cloneAssignment(a))
		}
	}
	sortByStartDesc(out)
	return out
}

func (s *state) activePrimary(slotID string, at time.Time) *repository.SlotAssignment {
	var out []*repository.SlotAssignment
	for _, id := range s.assignmentOrder {
		a := s.assignments[id]
		if a.SlotID == slotID && a.IsPrimary && a.ActiveAt(at) {
			out = append(out, cloneAssignment(a))
		}
	}
	if len(out) == 0 {
		return nil
	}
	sortByStartDesc(out)
	return out[0]
}

func (s *state) primaryOverlaps(slotID string, start time.Time, end *time.Time) *repository.SlotAssignment {
	var first *repository.SlotAssignment
	for _, id := range s.assignmentOrder {
		a := s.assignments[id]
		if a.SlotID != slotID || !a.IsPrimary {
			continue
		}
		if a.EndsAt != nil && !a.EndsAt.After(start) {
			continue
		}
		if end != nil && !a.StartsAt.Before(*end) {
			continue
		}
		if first == nil || a.StartsAt.Before(first.StartsAt) {
			first = a
		}
	}
	if first == nil {
		return nil
	}
	return cloneAssignment(first)
}

func sortByStartDesc(list []*repository.SlotAssignment) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].StartsAt.Equal(list[j].StartsAt) {
			return list[i].StartsAt.After(list[j].StartsAt)
		}
		return list[i].ID < list[j].ID
	})
}

func (s *state) parentLines(slotID string) []*repository.SlotReportingLine {
	var out []*repository.SlotReportingLine
	for _, l := range s.lines {
		if l.ChildSlotID == slotID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ParentSlotID < out[j].ParentSlotID
	})
	return out
}

func (s *state) departmentHeads(department string) []*repository.PositionSlot {
	var out []*repository.PositionSlot
	for _, sl := range s.slots {
		if sl.Department == department && sl.IsDepartmentHead {
			out = append(out, cloneSlot(sl))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *state) roleGrants(userID string) []string {
	var out []string
	for r := range s.grants[userID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func cloneVersion(v *repository.RequestVersion) *repository.RequestVersion {
	c := *v
	c.Snapshot = append([]byte(nil), v.Snapshot...)
	return &c
}

func cloneOutbox(m *repository.OutboxMessage) *repository.OutboxMessage {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	if m.LastError != nil {
		e := *m.LastError
		c.LastError = &e
	}
	if m.SentAt != nil {
		t := *m.SentAt
		c.SentAt = &t
	}
	return &c
}

func cloneItem(it *repository.ChecklistItem) *repository.ChecklistItem {
	c := *it
	if it.DueDate != nil {
		d := *it.DueDate
		c.DueDate = &d
	}
	if it.ActedBy != nil {
		b := *it.ActedBy
		c.ActedBy = &b
	}
	if it.ActedAt != nil {
		a := *it.ActedAt
		c.ActedAt = &a
	}
	return &c
}

func cloneSlot(sl *repository.PositionSlot) *repository.PositionSlot {
	c := *sl
	c.Roles = append([]string(nil), sl.Roles...)
	return &c
}

func cloneAssignment(a *repository.SlotAssignment) *repository.SlotAssignment {
	c := *a
	if a.EndsAt != nil {
		e := *a.EndsAt
		c.EndsAt = &e
	}
	return &c
}
