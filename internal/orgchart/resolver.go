// Package orgchart resolves approvers over the position hierarchy and
// administers it. Approvers are resolved from seats, not people: a request
// routes to whoever occupies the matching slot when the stage is entered.
package orgchart

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// Approver is the user a stage routes to and the seat they hold.
type Approver struct {
	UserID   string `json:"userId"`
	SlotID   string `json:"slotId"`
	SlotCode string `json:"slotCode"`
}

// match is a resolved approver and the end of the seat term it came from.
type match struct {
	approver Approver
	until    *time.Time
}

// Resolver walks the reporting lines to find stage approvers. It only reads.
type Resolver struct {
	store    repository.HierarchyReader
	cache    *cache.Cache
	ttl      time.Duration
	maxDepth int
	now      func() time.Time
	log      *logger.Logger
}

// NewResolver creates a resolver. A zero CacheTTL disables caching.
func NewResolver(store repository.HierarchyReader, cfg config.ResolverConfig, log *logger.Logger) *Resolver {
	r := &Resolver{
		store:    store,
		ttl:      cfg.CacheTTL,
		maxDepth: cfg.MaxDepth,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.Component("resolver"),
	}
	if r.maxDepth <= 0 {
		r.maxDepth = 32
	}
	if cfg.CacheTTL > 0 {
		r.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return r
}

// WithClock replaces the clock used to decide which assignments are active.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Uncached returns a resolver over the same store and clock that always
// reads the hierarchy. Command paths use it so authorization never sees a
// cached seat.
func (r *Resolver) Uncached() *Resolver {
	c := *r
	c.cache = nil
	c.ttl = 0
	return &c
}

// Invalidate drops every cached resolution.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.Flush()
	}
}

// Resolve finds the approver of a stage for a requester. It never falls
// back to an arbitrary user: no match is a NoApprover error. A cached
// answer never outlives the seat term it was read from.
func (r *Resolver) Resolve(ctx context.Context, requesterID string, req workflow.StageRequirement) (*Approver, error) {
	at := r.now()
	key := cacheKey(requesterID, req)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			m := v.(*match)
			if m.until == nil || at.Before(*m.until) {
				a := m.approver
				return &a, nil
			}
			r.cache.Delete(key)
		}
	}

	m, err := r.resolve(ctx, requesterID, req, at)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		ttl := r.ttl
		if m.until != nil {
			if left := m.until.Sub(at); left < ttl {
				ttl = left
			}
		}
		if ttl > 0 {
			r.cache.Set(key, m, ttl)
		}
	}
	a := m.approver
	return &a, nil
}

func (r *Resolver) resolve(ctx context.Context, requesterID string, req workflow.StageRequirement, at time.Time) (*match, error) {
	if req.DepartmentHead {
		heads, err := r.store.DepartmentHeads(ctx, req.Department)
		if err != nil {
			return nil, err
		}
		for _, slot := range heads {
			occ, err := r.store.ActivePrimary(ctx, slot.ID, at)
			if err != nil {
				return nil, err
			}
			if occ == nil {
				continue
			}
			if occ.UserID != requesterID {
				return matchOf(slot, occ), nil
			}
			// The requester heads the department: escalate to their manager.
			a, err := r.walk(ctx, requesterID, slot.ID, "", at)
			if err != nil {
				return nil, err
			}
			if a != nil {
				a.until = earliest(a.until, occ.EndsAt)
				return a, nil
			}
		}
		return nil, errors.NoApprover(describe(req), requesterID)
	}

	origin, err := r.primarySeat(ctx, requesterID, at)
	if err != nil {
		return nil, err
	}
	if origin == nil {
		r.log.Warn().Str("requester_id", requesterID).Msg("requester has no active primary seat")
		return nil, errors.NoApprover(describe(req), requesterID)
	}

	a, err := r.walk(ctx, requesterID, origin.SlotID, req.Role, at)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.NoApprover(describe(req), requesterID)
	}
	a.until = earliest(a.until, origin.EndsAt)
	return a, nil
}

// walk visits ancestors of origin breadth first, each once, up to maxDepth
// levels, and returns the first occupied slot holding role.
func (r *Resolver) walk(ctx context.Context, requesterID, origin, role string, at time.Time) (*match, error) {
	visited := map[string]bool{origin: true}
	frontier := []string{origin}

	for depth := 0; depth < r.maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, slotID := range frontier {
			lines, err := r.store.ParentLines(ctx, slotID)
			if err != nil {
				return nil, err
			}
			for _, line := range lines {
				if visited[line.ParentSlotID] {
					continue
				}
				visited[line.ParentSlotID] = true
				next = append(next, line.ParentSlotID)

				slot, err := r.store.GetSlot(ctx, line.ParentSlotID)
				if err != nil {
					return nil, err
				}
				if role != "" && !slot.HasRole(role) {
					continue
				}
				occ, err := r.store.ActivePrimary(ctx, slot.ID, at)
				if err != nil {
					return nil, err
				}
				if occ != nil && occ.UserID != requesterID {
					return matchOf(slot, occ), nil
				}
			}
		}
		frontier = next
	}
	return nil, nil
}

// primarySeat returns the requester's most recently started active primary seat.
func (r *Resolver) primarySeat(ctx context.Context, userID string, at time.Time) (*repository.SlotAssignment, error) {
	assignments, err := r.store.ActiveAssignments(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if a.IsPrimary {
			return a, nil
		}
	}
	return nil, nil
}

// ActorRoles is the union of the roles of every seat the user actively
// occupies and their direct grants.
func (r *Resolver) ActorRoles(ctx context.Context, userID string) ([]string, error) {
	at := r.now()
	set := make(map[string]bool)

	assignments, err := r.store.ActiveAssignments(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		slot, err := r.store.GetSlot(ctx, a.SlotID)
		if err != nil {
			return nil, err
		}
		for _, role := range slot.Roles {
			set[role] = true
		}
	}

	grants, err := r.store.RoleGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, role := range grants {
		set[role] = true
	}

	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles, nil
}

func matchOf(slot *repository.PositionSlot, occ *repository.SlotAssignment) *match {
	return &match{
		approver: Approver{UserID: occ.UserID, SlotID: slot.ID, SlotCode: slot.Code},
		until:    occ.EndsAt,
	}
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil || (b != nil && b.Before(*a)) {
		return b
	}
	return a
}

func cacheKey(requesterID string, req workflow.StageRequirement) string {
	return fmt.Sprintf("%s|%s|%t|%s", requesterID, req.Role, req.DepartmentHead, req.Department)
}

func describe(req workflow.StageRequirement) string {
	switch {
	case req.DepartmentHead:
		return "head of " + req.Department
	case req.Role != "":
		return "role " + req.Role
	default:
		return "line manager"
	}
}
