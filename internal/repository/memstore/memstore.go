// Package memstore is an in-memory implementation of the repository stores.
// Transactions run one at a time against a private copy of the data that
// replaces the shared copy on success, so a failed command leaves nothing
// behind. It backs unit tests and local runs without PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// Store is the in-memory store.
type Store struct {
	txMu sync.Mutex // held for the whole of a write transaction
	mu   sync.RWMutex
	data *state
	now  func() time.Time

	claimMu sync.Mutex
	claimed map[string]bool // outbox ids out for delivery
}

var (
	_ repository.Store          = (*Store)(nil)
	_ repository.HierarchyStore = (*Store)(nil)
	_ repository.OutboxStore    = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		data:    newState(),
		now:     func() time.Time { return time.Now().UTC() },
		claimed: make(map[string]bool),
	}
}

// WithClock replaces the clock used for generated timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// write runs fn against a copy of the data and publishes it on success.
func (s *Store) write(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	work := s.snapshot().clone()
	if err := fn(work); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// InTx runs fn in a transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.write(func(st *state) error {
		return fn(&tx{st: st, now: s.now})
	})
}

// InHierarchyTx runs fn in a transaction.
func (s *Store) InHierarchyTx(ctx context.Context, fn func(tx repository.HierarchyTx) error) error {
	return s.write(func(st *state) error {
		return fn(&tx{st: st, now: s.now})
	})
}

// ProcessPending claims up to limit pending messages oldest first, delivers
// them outside the transaction lock and then settles the outcomes in one
// write. Messages claimed by a concurrent caller are skipped.
func (s *Store) ProcessPending(ctx context.Context, limit, maxAttempts int, deliver func(ctx context.Context, msg *repository.OutboxMessage) error) (sent, failed int, err error) {
	batch := s.claim(limit)
	defer s.release(batch)
	if len(batch) == 0 {
		return 0, 0, nil
	}

	outcomes := make(map[string]error, len(batch))
	for _, m := range batch {
		outcomes[m.ID] = deliver(ctx, m)
	}

	err = s.write(func(st *state) error {
		for _, m := range st.outbox {
			derr, ok := outcomes[m.ID]
			if !ok || m.Status != repository.OutboxPending {
				continue
			}
			if derr != nil {
				msg := derr.Error()
				m.Attempts++
				m.LastError = &msg
				if m.Attempts >= maxAttempts {
					m.Status = repository.OutboxFailed
				}
				failed++
				continue
			}
			at := s.now()
			m.Status = repository.OutboxSent
			m.SentAt = &at
			m.LastError = nil
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return sent, failed, nil
}

func (s *Store) claim(limit int) []*repository.OutboxMessage {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var batch []*repository.OutboxMessage
	for _, m := range s.snapshot().outbox {
		if len(batch) == limit {
			break
		}
		if m.Status != repository.OutboxPending || s.claimed[m.ID] {
			continue
		}
		s.claimed[m.ID] = true
		batch = append(batch, cloneOutbox(m))
	}
	return batch
}

func (s *Store) release(batch []*repository.OutboxMessage) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	for _, m := range batch {
		delete(s.claimed, m.ID)
	}
}

// Outbox returns a copy of every outbox row in insertion order.
func (s *Store) Outbox() []*repository.OutboxMessage {
	st := s.snapshot()
	out := make([]*repository.OutboxMessage, 0, len(st.outbox))
	for _, m := range st.outbox {
		out = append(out, cloneOutbox(m))
	}
	return out
}

// ── committed reads ──────────────────────────────────────────────────────────

func (s *Store) GetRequest(ctx context.Context, id string) (*repository.Request, error) {
	return s.snapshot().getRequest(id)
}

func (s *Store) ListPendingByApprover(ctx context.Context, approverID string) ([]*repository.Request, error) {
	st := s.snapshot()
	var out []*repository.Request
	for _, id := range st.requestOrder {
		r := st.requests[id]
		if r.CurrentApprover != nil && *r.CurrentApprover == approverID {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) ListInStatus(ctx context.Context, statuses []workflow.Status) ([]*repository.Request, error) {
	want := make(map[workflow.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	st := s.snapshot()
	var out []*repository.Request
	for _, id := range st.requestOrder {
		if r := st.requests[id]; want[r.Status] {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) ListApprovalLogs(ctx context.Context, requestID string) ([]*repository.ApprovalLog, error) {
	st := s.snapshot()
	out := make([]*repository.ApprovalLog, 0, len(st.logs[requestID]))
	for _, l := range st.logs[requestID] {
		c := *l
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PerformedAt.Equal(out[j].PerformedAt) {
			return out[i].PerformedAt.Before(out[j].PerformedAt)
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (s *Store) ListVersions(ctx context.Context, requestID string) ([]*repository.RequestVersion, error) {
	st := s.snapshot()
	out := make([]*repository.RequestVersion, 0, len(st.versions[requestID]))
	for _, v := range st.versions[requestID] {
		out = append(out, cloneVersion(v))
	}
	return out, nil
}

func (s *Store) GetVersion(ctx context.Context, requestID string, versionNumber int) (*repository.RequestVersion, error) {
	for _, v := range s.snapshot().versions[requestID] {
		if v.VersionNumber == versionNumber {
			return cloneVersion(v), nil
		}
	}
	return nil, errors.NotFound("request_version", requestID+"@"+strconv.Itoa(versionNumber))
}

func (s *Store) ListChecklistItems(ctx context.Context, requestID string) ([]*repository.ChecklistItem, error) {
	return s.snapshot().listItems(requestID), nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (*repository.PositionSlot, error) {
	return s.snapshot().getSlot(id)
}

func (s *Store) ActiveAssignments(ctx context.Context, userID string, at time.Time) ([]*repository.SlotAssignment, error) {
	return s.snapshot().activeAssignments(userID, at), nil
}

func (s *Store) ActivePrimary(ctx context.Context, slotID string, at time.Time) (*repository.SlotAssignment, error) {
	return s.snapshot().activePrimary(slotID, at), nil
}

func (s *Store) PrimaryOverlaps(ctx context.Context, slotID string, start time.Time, end *time.Time) (*repository.SlotAssignment, error) {
	return s.snapshot().primaryOverlaps(slotID, start, end), nil
}

func (s *Store) ParentLines(ctx context.Context, slotID string) ([]*repository.SlotReportingLine, error) {
	return s.snapshot().parentLines(slotID), nil
}

func (s *Store) DepartmentHeads(ctx context.Context, department string) ([]*repository.PositionSlot, error) {
	return s.snapshot().departmentHeads(department), nil
}

func (s *Store) RoleGrants(ctx context.Context, userID string) ([]string, error) {
	return s.snapshot().roleGrants(userID), nil
}

// ── transaction view ─────────────────────────────────────────────────────────

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetRequest(ctx context.Context, id string) (*repository.Request, error) {
	return t.st.getRequest(id)
}

// Row locks need nothing here: transactions are serialized.
func (t *tx) GetRequestForShare(ctx context.Context, id string) (*repository.Request, error) {
	return t.st.getRequest(id)
}

func (t *tx) GetRequestForUpdate(ctx context.Context, id string) (*repository.Request, error) {
	return t.st.getRequest(id)
}

func (t *tx) CreateRequest(ctx context.Context, req *repository.Request) error {
	now := t.now()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now
	t.st.requests[req.ID] = req.Clone()
	t.st.requestOrder = append(t.st.requestOrder, req.ID)
	return nil
}

func (t *tx) UpdateRequest(ctx context.Context, req *repository.Request, expectedVersion int) error {
	cur, ok := t.st.requests[req.ID]
	if !ok {
		return errors.NotFound("request", req.ID)
	}
	if cur.Version != expectedVersion {
		return errors.Conflict("request", req.ID, cur.Version)
	}
	t.st.requests[req.ID] = req.Clone()
	return nil
}

func (t *tx) SetCurrentApprover(ctx context.Context, id string, version int, approverID *string) (bool, error) {
	cur, ok := t.st.requests[id]
	if !ok {
		return false, errors.NotFound("request", id)
	}
	if cur.Version != version {
		return false, nil
	}
	next := cur.Clone()
	next.CurrentApprover = nil
	if approverID != nil {
		v := *approverID
		next.CurrentApprover = &v
	}
	t.st.requests[id] = next
	return true, nil
}

func (t *tx) AppendApprovalLog(ctx context.Context, entry *repository.ApprovalLog) error {
	for _, l := range t.st.logs[entry.RequestID] {
		if l.Version == entry.Version {
			return errors.New(errors.ErrCodeConflict, "approval log entry already exists for this version")
		}
	}
	entry.ID = uuid.NewString()
	c := *entry
	t.st.logs[entry.RequestID] = append(t.st.logs[entry.RequestID], &c)
	return nil
}

func (t *tx) AppendVersion(ctx context.Context, v *repository.RequestVersion) error {
	list := t.st.versions[v.RequestID]
	if n := len(list); n > 0 && list[n-1].VersionNumber >= v.VersionNumber {
		return errors.New(errors.ErrCodeConflict, "snapshot version is not increasing").
			WithDetail("versionNumber", v.VersionNumber)
	}
	t.st.versions[v.RequestID] = append(list, cloneVersion(v))
	return nil
}

func (t *tx) EnqueueOutbox(ctx context.Context, msg *repository.OutboxMessage) (bool, error) {
	if t.st.outboxKeys[msg.IdempotencyKey] {
		return false, nil
	}
	msg.ID = uuid.NewString()
	msg.Status = repository.OutboxPending
	msg.CreatedAt = t.now()
	t.st.outboxKeys[msg.IdempotencyKey] = true
	t.st.outbox = append(t.st.outbox, cloneOutbox(msg))
	return true, nil
}

func (t *tx) CreateChecklistItem(ctx context.Context, item *repository.ChecklistItem) error {
	pos := 0
	for _, id := range t.st.itemOrder {
		it := t.st.items[id]
		if it.RequestID == item.RequestID && it.Lane == item.Lane && it.Position > pos {
			pos = it.Position
		}
	}
	item.ID = uuid.NewString()
	item.CreatedAt = t.now()
	item.Position = pos + 1
	t.st.items[item.ID] = cloneItem(item)
	t.st.itemOrder = append(t.st.itemOrder, item.ID)
	return nil
}

func (t *tx) GetChecklistItem(ctx context.Context, id string) (*repository.ChecklistItem, error) {
	it, ok := t.st.items[id]
	if !ok {
		return nil, errors.NotFound("clearance_item", id)
	}
	return cloneItem(it), nil
}

func (t *tx) UpdateChecklistItem(ctx context.Context, item *repository.ChecklistItem) error {
	cur, ok := t.st.items[item.ID]
	if !ok {
		return errors.NotFound("clearance_item", item.ID)
	}
	cur.Status = item.Status
	cur.Remarks = item.Remarks
	cur.ActedBy = item.ActedBy
	cur.ActedAt = item.ActedAt
	return nil
}

func (t *tx) ListChecklistItems(ctx context.Context, requestID string) ([]*repository.ChecklistItem, error) {
	return t.st.listItems(requestID), nil
}

func (t *tx) GetSlot(ctx context.Context, id string) (*repository.PositionSlot, error) {
	return t.st.getSlot(id)
}

func (t *tx) ActiveAssignments(ctx context.Context, userID string, at time.Time) ([]*repository.SlotAssignment, error) {
	return t.st.activeAssignments(userID, at), nil
}

func (t *tx) ActivePrimary(ctx context.Context, slotID string, at time.Time) (*repository.SlotAssignment, error) {
	return t.st.activePrimary(slotID, at), nil
}

func (t *tx) PrimaryOverlaps(ctx context.Context, slotID string, start time.Time, end *time.Time) (*repository.SlotAssignment, error) {
	return t.st.primaryOverlaps(slotID, start, end), nil
}

func (t *tx) ParentLines(ctx context.Context, slotID string) ([]*repository.SlotReportingLine, error) {
	return t.st.parentLines(slotID), nil
}

func (t *tx) DepartmentHeads(ctx context.Context, department string) ([]*repository.PositionSlot, error) {
	return t.st.departmentHeads(department), nil
}

func (t *tx) RoleGrants(ctx context.Context, userID string) ([]string, error) {
	return t.st.roleGrants(userID), nil
}

func (t *tx) CreateSlot(ctx context.Context, slot *repository.PositionSlot) error {
	for _, s := range t.st.slots {
		if s.Code == slot.Code {
			return errors.New(errors.ErrCodeConflict, "position slot code already exists").
				WithDetail("code", slot.Code)
		}
	}
	slot.ID = uuid.NewString()
	slot.CreatedAt = t.now()
	t.st.slots[slot.ID] = cloneSlot(slot)
	return nil
}

func (t *tx) CreateAssignment(ctx context.Context, a *repository.SlotAssignment) error {
	if _, ok := t.st.slots[a.SlotID]; !ok {
		return errors.NotFound("position_slot", a.SlotID)
	}
	a.ID = uuid.NewString()
	t.st.assignments[a.ID] = cloneAssignment(a)
	t.st.assignmentOrder = append(t.st.assignmentOrder, a.ID)
	return nil
}

func (t *tx) GetAssignment(ctx context.Context, id string) (*repository.SlotAssignment, error) {
	a, ok := t.st.assignments[id]
	if !ok {
		return nil, errors.NotFound("slot_assignment", id)
	}
	return cloneAssignment(a), nil
}

func (t *tx) EndAssignment(ctx context.Context, id string, at time.Time) error {
	a, ok := t.st.assignments[id]
	if !ok {
		return errors.NotFound("slot_assignment", id)
	}
	end := at
	a.EndsAt = &end
	return nil
}

func (t *tx) CreateReportingLine(ctx context.Context, line *repository.SlotReportingLine) error {
	if _, ok := t.st.slots[line.ChildSlotID]; !ok {
		return errors.InvalidInput("slot", "reporting line references an unknown slot")
	}
	if _, ok := t.st.slots[line.ParentSlotID]; !ok {
		return errors.InvalidInput("slot", "reporting line references an unknown slot")
	}
	for _, l := range t.st.lines {
		if l.ChildSlotID == line.ChildSlotID && l.ParentSlotID == line.ParentSlotID {
			return errors.New(errors.ErrCodeConflict, "reporting line already exists")
		}
	}
	c := *line
	t.st.lines = append(t.st.lines, &c)
	return nil
}

func (t *tx) GrantRole(ctx context.Context, grant *repository.UserRoleGrant) error {
	roles := t.st.grants[grant.UserID]
	if roles == nil {
		roles = make(map[string]time.Time)
		t.st.grants[grant.UserID] = roles
	}
	if at, ok := roles[grant.Role]; ok {
		grant.GrantedAt = at
		return nil
	}
	grant.GrantedAt = t.now()
	roles[grant.Role] = grant.GrantedAt
	return nil
}
