package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-hr-workflows/internal/clearance"
	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/metrics"
	"github.com/pesio-ai/be-hr-workflows/internal/orgchart"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// ApproverResolver resolves stage approvers and actor roles from the org chart.
type ApproverResolver interface {
	Resolve(ctx context.Context, requesterID string, req workflow.StageRequirement) (*orgchart.Approver, error)
	ActorRoles(ctx context.Context, userID string) ([]string, error)
}

// ClearanceSeeder creates the clearance checklist of an approved separation.
type ClearanceSeeder interface {
	SeedTemplate(ctx context.Context, tx repository.Tx, requestID, actorID string) (int, error)
}

// TransitionExecutor is the only writer of request state. Every accepted
// command appends one approval log entry, one version snapshot and its
// notifications in the same transaction as the state change.
type TransitionExecutor struct {
	store    repository.Store
	resolver ApproverResolver
	seeder   ClearanceSeeder
	policy   *config.Policy
	now      func() time.Time
	log      *logger.Logger
}

// NewTransitionExecutor creates a new TransitionExecutor.
func NewTransitionExecutor(
	store repository.Store,
	resolver ApproverResolver,
	seeder ClearanceSeeder,
	policy *config.Policy,
	log *logger.Logger,
) *TransitionExecutor {
	return &TransitionExecutor{
		store:    store,
		resolver: resolver,
		seeder:   seeder,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Component("transition_executor"),
	}
}

// WithClock replaces the clock used for log and snapshot timestamps.
func (s *TransitionExecutor) WithClock(now func() time.Time) *TransitionExecutor {
	s.now = now
	return s
}

// CreateCommand opens a new draft request.
type CreateCommand struct {
	WorkflowType workflow.Type
	RequesterID  string
	Payload      workflow.Payload
}

// TransitionCommand applies one action to a request.
type TransitionCommand struct {
	RequestID       string
	ActorID         string
	Action          workflow.Action
	Comment         string
	ExpectedVersion int
	// Payload replaces the request body; only accepted with SUBMIT.
	Payload   *workflow.Payload
	IPAddress string
}

// TransitionResult is the outcome of an accepted transition.
type TransitionResult struct {
	Request       *repository.Request
	Log           *repository.ApprovalLog
	VersionNumber int
	Notifications int
	ItemsSeeded   int
}

// ── Creation ──────────────────────────────────────────────────────────────────

// Create stores a DRAFT request at version 0. Creation is not a transition:
// it writes no log entry and no snapshot.
func (s *TransitionExecutor) Create(ctx context.Context, cmd CreateCommand) (*repository.Request, error) {
	if !cmd.WorkflowType.Valid() {
		return nil, errors.InvalidInput("workflowType", "unknown workflow type "+string(cmd.WorkflowType))
	}
	if strings.TrimSpace(cmd.RequesterID) == "" {
		return nil, errors.New(errors.ErrCodeUnauthenticated, "requester is required")
	}
	if err := cmd.Payload.ValidateFor(cmd.WorkflowType); err != nil {
		return nil, err
	}

	req := &repository.Request{
		WorkflowType: cmd.WorkflowType,
		RequesterID:  cmd.RequesterID,
		Status:       workflow.MustFor(cmd.WorkflowType).Initial,
		Version:      0,
		Payload:      cmd.Payload,
	}
	if err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateRequest(ctx, req)
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("workflow_type", string(req.WorkflowType)).
		Str("requester_id", req.RequesterID).
		Msg("Request created")

	return req, nil
}

// Submit is Transition with the SUBMIT action.
func (s *TransitionExecutor) Submit(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	cmd.Action = workflow.ActionSubmit
	return s.Transition(ctx, cmd)
}

// ── Transition ────────────────────────────────────────────────────────────────

// Transition validates and applies cmd atomically. Concurrent commands on
// the same request race on the version: exactly one wins and the others get
// a Conflict carrying the current version. Nothing is retried.
func (s *TransitionExecutor) Transition(ctx context.Context, cmd TransitionCommand) (res *TransitionResult, err error) {
	start := time.Now()
	var wf workflow.Type
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = strings.ToLower(string(errors.CodeOf(err)))
		}
		metrics.RecordTransition(string(wf), string(cmd.Action), outcome, time.Since(start).Seconds())
	}()

	if !cmd.Action.Valid() {
		return nil, errors.InvalidInput("action", "unknown action "+string(cmd.Action))
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return nil, errors.New(errors.ErrCodeUnauthenticated, "actor is required")
	}

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		req, err := tx.GetRequest(ctx, cmd.RequestID)
		if err != nil {
			return err
		}
		wf = req.WorkflowType

		if req.Version != cmd.ExpectedVersion {
			return errors.Conflict("request", req.ID, req.Version)
		}

		machine, err := workflow.For(req.WorkflowType)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "stored request has unknown workflow type")
		}
		tr, ok := machine.Lookup(req.Status, cmd.Action)
		if !ok {
			return errors.InvalidTransition(string(req.Status), string(cmd.Action))
		}

		if err := s.authorize(ctx, machine, req, tr, cmd.ActorID); err != nil {
			return err
		}

		if tr.Holds() && req.OnHold {
			return errors.InvalidTransition(string(req.Status), string(cmd.Action)).
				WithDetail("reason", "request is already on hold")
		}
		if tr.RequiresClearance {
			if err := s.assertClearanceReady(ctx, tx, req, cmd); err != nil {
				return err
			}
		}

		comment := strings.TrimSpace(cmd.Comment)
		if cmd.Action.RequiresComment() && comment == "" {
			return errors.InvalidInput("comment", "a comment is required to "+strings.ToLower(string(cmd.Action)))
		}
		if cmd.Payload != nil {
			if cmd.Action != workflow.ActionSubmit {
				return errors.InvalidInput("payload", "payload can only be replaced on submit")
			}
			if err := cmd.Payload.ValidateFor(req.WorkflowType); err != nil {
				return err
			}
		}

		next, err := s.apply(ctx, machine, req, tr, cmd)
		if err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, next, cmd.ExpectedVersion); err != nil {
			return err
		}

		entry := &repository.ApprovalLog{
			RequestID:   req.ID,
			ActorID:     cmd.ActorID,
			Action:      cmd.Action,
			Comment:     comment,
			StepName:    stepName(req.WorkflowType, req.Status),
			FromStatus:  req.Status,
			ToStatus:    next.Status,
			Version:     next.Version,
			IPAddress:   cmd.IPAddress,
			PerformedAt: next.UpdatedAt,
		}
		if err := tx.AppendApprovalLog(ctx, entry); err != nil {
			return err
		}

		versionNumber, err := Snapshot(ctx, tx, next, next.UpdatedAt)
		if err != nil {
			return err
		}

		seeded := 0
		if next.WorkflowType == workflow.Separation && cmd.Action == workflow.ActionApprove {
			if seeded, err = s.seeder.SeedTemplate(ctx, tx, next.ID, cmd.ActorID); err != nil {
				return err
			}
		}

		enqueued, err := s.enqueueNotifications(ctx, tx, machine, req, next, cmd.Action, cmd.ActorID, comment)
		if err != nil {
			return err
		}

		res = &TransitionResult{
			Request:       next,
			Log:           entry,
			VersionNumber: versionNumber,
			Notifications: enqueued,
			ItemsSeeded:   seeded,
		}
		return nil
	})
	if err != nil {
		s.logFailure(cmd, err)
		return nil, err
	}

	s.log.Info().
		Str("request_id", res.Request.ID).
		Str("actor_id", cmd.ActorID).
		Str("action", string(cmd.Action)).
		Str("from", string(res.Log.FromStatus)).
		Str("to", string(res.Log.ToStatus)).
		Int("version", res.Request.Version).
		Int("notifications", res.Notifications).
		Msg("Transition applied")

	return res, nil
}

// ── Rerouting ─────────────────────────────────────────────────────────────────

// rerouteActor is the actor recorded on notifications sent by RefreshApprovers.
const rerouteActor = "system"

// RefreshApprovers re-resolves the approver of every request waiting in a
// pending stage and stores the ones that changed, notifying the new
// approver. A stage nobody can approve any more is left unrouted. Requests
// that move on concurrently are skipped. It returns how many were rerouted.
func (s *TransitionExecutor) RefreshApprovers(ctx context.Context) (int, error) {
	reqs, err := s.store.ListInStatus(ctx, workflow.PendingStatuses())
	if err != nil {
		return 0, err
	}

	rerouted := 0
	for _, req := range reqs {
		machine, err := workflow.For(req.WorkflowType)
		if err != nil {
			continue
		}
		stage, ok := machine.Stage(req.Status)
		if !ok {
			continue
		}

		var next *string
		approver, err := s.resolver.Resolve(ctx, req.RequesterID, stage)
		switch {
		case err == nil:
			next = &approver.UserID
		case errors.HasCode(err, errors.ErrCodeNoApprover):
			s.log.Warn().
				Str("request_id", req.ID).
				Str("status", string(req.Status)).
				Msg("Pending request lost its approver")
		default:
			return rerouted, err
		}
		if sameApprover(req.CurrentApprover, next) {
			continue
		}

		var updated bool
		err = s.store.InTx(ctx, func(tx repository.Tx) error {
			set, err := tx.SetCurrentApprover(ctx, req.ID, req.Version, next)
			if err != nil || !set {
				return err
			}
			updated = true
			if next == nil {
				return nil
			}
			routed := req.Clone()
			routed.CurrentApprover = next
			msg, err := buildOutboxMessage(notification{
				eventType:  eventApprovalRequired,
				recipient:  *next,
				actionable: true,
				severity:   "info",
			}, routed, rerouteActor, "", s.now())
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode notification")
			}
			_, err = tx.EnqueueOutbox(ctx, msg)
			return err
		})
		if err != nil {
			return rerouted, err
		}
		if !updated {
			continue
		}
		rerouted++

		ev := s.log.Info().Str("request_id", req.ID).Str("status", string(req.Status))
		if req.CurrentApprover != nil {
			ev = ev.Str("from", *req.CurrentApprover)
		}
		if next != nil {
			ev = ev.Str("to", *next)
		}
		ev.Msg("Request rerouted")
	}
	return rerouted, nil
}

func sameApprover(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// apply computes the post-transition request. Entering a pending stage
// resolves its approver; a stage nobody can approve blocks the transition.
func (s *TransitionExecutor) apply(ctx context.Context, m *workflow.Machine, req *repository.Request, tr workflow.Transition, cmd TransitionCommand) (*repository.Request, error) {
	next := req.Clone()
	next.Version = req.Version + 1
	next.UpdatedAt = s.now()
	if tr.BumpsRevision {
		next.RevisionVersion++
	}
	if cmd.Payload != nil {
		next.Payload = *cmd.Payload
	}

	if tr.Holds() {
		next.OnHold = true
		return next, nil
	}

	next.Status = tr.To
	next.OnHold = false
	next.CurrentApprover = nil
	if stage, ok := m.Stage(next.Status); ok {
		approver, err := s.resolver.Resolve(ctx, next.RequesterID, stage)
		if err != nil {
			return nil, err
		}
		next.CurrentApprover = &approver.UserID
	}
	return next, nil
}

// assertClearanceReady re-reads the request under an exclusive lock so no
// checklist update can land between the readiness check and the commit.
func (s *TransitionExecutor) assertClearanceReady(ctx context.Context, tx repository.Tx, req *repository.Request, cmd TransitionCommand) error {
	locked, err := tx.GetRequestForUpdate(ctx, req.ID)
	if err != nil {
		return err
	}
	if locked.Version != cmd.ExpectedVersion {
		return errors.Conflict("request", req.ID, locked.Version)
	}
	items, err := tx.ListChecklistItems(ctx, req.ID)
	if err != nil {
		return err
	}
	if !clearance.Ready(items) {
		return errors.InvalidTransition(string(req.Status), string(cmd.Action)).
			WithDetail("reason", "clearance is incomplete").
			WithDetail("progress", clearance.Progress(items))
	}
	return nil
}

func (s *TransitionExecutor) enqueueNotifications(ctx context.Context, tx repository.Tx, m *workflow.Machine, prev, next *repository.Request, action workflow.Action, actorID, comment string) (int, error) {
	enqueued := 0
	for _, n := range notificationsFor(m, prev, next, action, actorID) {
		msg, err := buildOutboxMessage(n, next, actorID, comment, next.UpdatedAt)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode notification")
		}
		inserted, err := tx.EnqueueOutbox(ctx, msg)
		if err != nil {
			return 0, err
		}
		if inserted {
			enqueued++
		}
	}
	return enqueued, nil
}

// ── Authorization helper ──────────────────────────────────────────────────────

// authorize checks the transition's actor rule. Override roles stand in for
// the requester and the operator; for approval stages they stand in for the
// resolved approver, which must still exist.
func (s *TransitionExecutor) authorize(ctx context.Context, m *workflow.Machine, req *repository.Request, tr workflow.Transition, actorID string) error {
	roles, err := s.resolver.ActorRoles(ctx, actorID)
	if err != nil {
		return err
	}
	override := hasAnyRole(roles, s.policy.OverrideRoles)

	allowed := override
	switch tr.Actor {
	case workflow.ActorRequester:
		allowed = allowed || actorID == req.RequesterID
	case workflow.ActorStageApprover:
		stage, ok := m.Stage(req.Status)
		if !ok {
			return errors.New(errors.ErrCodeInternal, "no routing defined for stage "+string(req.Status))
		}
		approver, err := s.resolver.Resolve(ctx, req.RequesterID, stage)
		if err != nil {
			return err
		}
		allowed = allowed || actorID == approver.UserID
	case workflow.ActorOperator:
		allowed = allowed || hasAnyRole(roles, []string{s.policy.HiringRole})
	}
	if allowed {
		return nil
	}

	s.log.Warn().
		Str("request_id", req.ID).
		Str("actor_id", actorID).
		Str("action", string(tr.Action)).
		Str("status", string(req.Status)).
		Str("rule", tr.Actor.String()).
		Strs("roles", roles).
		Msg("security: transition denied")
	return errors.Forbidden("actor may not " + strings.ToLower(string(tr.Action)) + " this request")
}

func hasAnyRole(roles, wanted []string) bool {
	for _, r := range roles {
		for _, w := range wanted {
			if r == w {
				return true
			}
		}
	}
	return false
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// logFailure records rejected commands. Forbidden is already logged as a
// security event by authorize.
func (s *TransitionExecutor) logFailure(cmd TransitionCommand, err error) {
	ev := s.log.Debug()
	switch errors.CodeOf(err) {
	case errors.ErrCodeForbidden:
		return
	case errors.ErrCodeConflict:
		ev = s.log.Info()
	case errors.ErrCodeNoApprover:
		ev = s.log.Error()
	case errors.ErrCodeInternal:
		ev = s.log.Error()
	}
	ev.Err(err).
		Str("request_id", cmd.RequestID).
		Str("actor_id", cmd.ActorID).
		Str("action", string(cmd.Action)).
		Int("expected_version", cmd.ExpectedVersion).
		Msg("Transition rejected")
}
