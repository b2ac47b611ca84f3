package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/orgchart"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

type endAssignmentBody struct {
	EndsAt *time.Time `json:"endsAt"`
}

type grantRoleBody struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

// requireOrgAdmin returns the actor if they hold an override role.
func (h *HTTPHandler) requireOrgAdmin(r *http.Request) (string, error) {
	actor, err := actorID(r)
	if err != nil {
		return "", err
	}
	roles, err := h.resolver.ActorRoles(r.Context(), actor)
	if err != nil {
		return "", err
	}
	for _, have := range roles {
		for _, want := range h.policy.OverrideRoles {
			if have == want {
				return actor, nil
			}
		}
	}
	h.log.Warn().
		Str("actor_id", actor).
		Strs("roles", roles).
		Str("path", r.URL.Path).
		Msg("security: org change denied")
	return "", errors.Forbidden("only administrators may change the org chart")
}

// CreateSlot adds a position slot.
func (h *HTTPHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireOrgAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var body orgchart.SlotInput
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := h.org.CreateSlot(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

// AssignSlot seats a user.
func (h *HTTPHandler) AssignSlot(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireOrgAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var body orgchart.AssignInput
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.org.AssignSlot(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// EndAssignment closes an assignment, now unless endsAt is given.
func (h *HTTPHandler) EndAssignment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireOrgAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var body endAssignmentBody
	if r.ContentLength != 0 {
		if err := decode(r, h.validate, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	a, err := h.org.EndAssignment(r.Context(), mux.Vars(r)["id"], body.EndsAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AddReportingLine adds a child -> parent edge.
func (h *HTTPHandler) AddReportingLine(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireOrgAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var body orgchart.ReportingLineInput
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}
	line, err := h.org.AddReportingLine(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

// GrantRole grants a seat-independent role.
func (h *HTTPHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireOrgAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	var body grantRoleBody
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}
	grant, err := h.org.GrantRole(r.Context(), body.UserID, body.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

// ResolveApprover previews who a stage would route to for a requester.
func (h *HTTPHandler) ResolveApprover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requesterID := q.Get("requesterId")
	if requesterID == "" {
		writeError(w, r, errors.InvalidInput("requesterId", "requesterId is required"))
		return
	}
	m, err := workflow.For(workflow.Type(q.Get("workflowType")))
	if err != nil {
		writeError(w, r, errors.InvalidInput("workflowType", err.Error()))
		return
	}
	status := workflow.Status(q.Get("status"))
	stage, ok := m.Stage(status)
	if !ok {
		writeError(w, r, errors.InvalidInput("status", string(status)+" is not an approval stage of "+q.Get("workflowType")))
		return
	}

	approver, err := h.resolver.Resolve(r.Context(), requesterID, stage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approver)
}
