package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-workflows/internal/database"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// PostgresStore implements Store, HierarchyStore and OutboxStore on a pgx
// pool. Each transaction gets repositories bound to its pgx.Tx.
type PostgresStore struct {
	db *database.DB

	requests  *RequestRepository
	logs      *ApprovalLogRepository
	versions  *VersionRepository
	checklist *ChecklistRepository
	*HierarchyRepository
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ HierarchyStore = (*PostgresStore)(nil)
	_ OutboxStore    = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		db:                  db,
		requests:            NewRequestRepository(db),
		logs:                NewApprovalLogRepository(db),
		versions:            NewVersionRepository(db),
		checklist:           NewChecklistRepository(db),
		HierarchyRepository: NewHierarchyRepository(db),
	}
}

// InTx runs fn in one database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newPgTx(tx))
	})
}

// InHierarchyTx runs fn in a transaction holding the hierarchy write lock.
func (s *PostgresStore) InHierarchyTx(ctx context.Context, fn func(tx HierarchyTx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		repo := NewHierarchyRepository(tx)
		if err := repo.Lock(ctx); err != nil {
			return err
		}
		return fn(repo)
	})
}

// ProcessPending claims a batch in one transaction so concurrent relays
// never deliver the same row twice.
func (s *PostgresStore) ProcessPending(ctx context.Context, limit, maxAttempts int, deliver func(ctx context.Context, msg *OutboxMessage) error) (sent, failed int, err error) {
	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		repo := NewOutboxRepository(tx)
		msgs, err := repo.ClaimPending(ctx, limit)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if derr := deliver(ctx, msg); derr != nil {
				if _, err := repo.MarkAttemptFailed(ctx, msg.ID, derr.Error(), maxAttempts); err != nil {
					return err
				}
				failed++
				continue
			}
			if err := repo.MarkSent(ctx, msg.ID, time.Now().UTC()); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	return sent, failed, err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *PostgresStore) ListPendingByApprover(ctx context.Context, approverID string) ([]*Request, error) {
	return s.requests.ListPendingByApprover(ctx, approverID)
}

func (s *PostgresStore) ListInStatus(ctx context.Context, statuses []workflow.Status) ([]*Request, error) {
	return s.requests.ListInStatus(ctx, statuses)
}

func (s *PostgresStore) ListApprovalLogs(ctx context.Context, requestID string) ([]*ApprovalLog, error) {
	return s.logs.GetByRequestID(ctx, requestID)
}

func (s *PostgresStore) ListVersions(ctx context.Context, requestID string) ([]*RequestVersion, error) {
	return s.versions.List(ctx, requestID)
}

func (s *PostgresStore) GetVersion(ctx context.Context, requestID string, versionNumber int) (*RequestVersion, error) {
	return s.versions.Get(ctx, requestID, versionNumber)
}

func (s *PostgresStore) ListChecklistItems(ctx context.Context, requestID string) ([]*ChecklistItem, error) {
	return s.checklist.ListByRequestID(ctx, requestID)
}

// ── transaction view ─────────────────────────────────────────────────────────

type pgTx struct {
	requests  *RequestRepository
	logs      *ApprovalLogRepository
	versions  *VersionRepository
	outbox    *OutboxRepository
	checklist *ChecklistRepository
}

func newPgTx(tx pgx.Tx) *pgTx {
	return &pgTx{
		requests:  NewRequestRepository(tx),
		logs:      NewApprovalLogRepository(tx),
		versions:  NewVersionRepository(tx),
		outbox:    NewOutboxRepository(tx),
		checklist: NewChecklistRepository(tx),
	}
}

func (t *pgTx) GetRequest(ctx context.Context, id string) (*Request, error) {
	return t.requests.GetByID(ctx, id)
}

func (t *pgTx) GetRequestForShare(ctx context.Context, id string) (*Request, error) {
	return t.requests.GetByIDForShare(ctx, id)
}

func (t *pgTx) GetRequestForUpdate(ctx context.Context, id string) (*Request, error) {
	return t.requests.GetByIDForUpdate(ctx, id)
}

func (t *pgTx) CreateRequest(ctx context.Context, req *Request) error {
	return t.requests.Create(ctx, req)
}

func (t *pgTx) UpdateRequest(ctx context.Context, req *Request, expectedVersion int) error {
	return t.requests.Update(ctx, req, expectedVersion)
}

func (t *pgTx) SetCurrentApprover(ctx context.Context, id string, version int, approverID *string) (bool, error) {
	return t.requests.SetCurrentApprover(ctx, id, version, approverID)
}

func (t *pgTx) AppendApprovalLog(ctx context.Context, entry *ApprovalLog) error {
	return t.logs.Append(ctx, entry)
}

func (t *pgTx) AppendVersion(ctx context.Context, v *RequestVersion) error {
	return t.versions.Append(ctx, v)
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, msg *OutboxMessage) (bool, error) {
	return t.outbox.Enqueue(ctx, msg)
}

func (t *pgTx) CreateChecklistItem(ctx context.Context, item *ChecklistItem) error {
	return t.checklist.Create(ctx, item)
}

func (t *pgTx) GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error) {
	return t.checklist.GetByID(ctx, id)
}

func (t *pgTx) UpdateChecklistItem(ctx context.Context, item *ChecklistItem) error {
	return t.checklist.Update(ctx, item)
}

func (t *pgTx) ListChecklistItems(ctx context.Context, requestID string) ([]*ChecklistItem, error) {
	return t.checklist.ListByRequestID(ctx, requestID)
}
