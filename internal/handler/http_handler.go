package handler

import (
	"net/http"
	"net/netip"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-hr-workflows/internal/clearance"
	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/middleware"
	"github.com/pesio-ai/be-hr-workflows/internal/orgchart"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	executor  *service.TransitionExecutor
	queries   *service.RequestQueries
	clearance *clearance.Engine
	org       *orgchart.Service
	resolver  *orgchart.Resolver
	policy    *config.Policy
	validate  *validator.Validate
	trusted   []netip.Prefix
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	executor *service.TransitionExecutor,
	queries *service.RequestQueries,
	clearanceEngine *clearance.Engine,
	org *orgchart.Service,
	resolver *orgchart.Resolver,
	policy *config.Policy,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		executor:  executor,
		queries:   queries,
		clearance: clearanceEngine,
		org:       org,
		resolver:  resolver,
		policy:    policy,
		validate:  validator.New(),
		log:       log.Component("http"),
	}
}

// WithTrustedProxies sets the peers whose X-Forwarded-For header is used for
// the audit IP address. With none, the socket address is recorded.
func (h *HTTPHandler) WithTrustedProxies(trusted []netip.Prefix) *HTTPHandler {
	h.trusted = trusted
	return h
}

// Register mounts the API on r. Commands are rate limited per caller.
func (h *HTTPHandler) Register(r *mux.Router, limiter *middleware.RateLimiter) {
	limited := func(fn http.HandlerFunc) http.Handler {
		return middleware.RateLimit(limiter)(fn)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	api.Handle("/requests", limited(h.CreateRequest)).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", h.GetRequest).Methods(http.MethodGet)
	api.Handle("/requests/{id}/submit", limited(h.SubmitRequest)).Methods(http.MethodPost)
	api.Handle("/requests/{id}/transitions", limited(h.TransitionRequest)).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/versions", h.ListVersions).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/versions/{n}", h.GetVersion).Methods(http.MethodGet)
	api.HandleFunc("/approvals/pending", h.PendingApprovals).Methods(http.MethodGet)

	api.HandleFunc("/separations/{id}/clearance", h.GetClearanceBoard).Methods(http.MethodGet)
	api.Handle("/separations/{id}/clearance/items", limited(h.AddClearanceItem)).Methods(http.MethodPost)
	api.Handle("/clearance/items/{itemId}", limited(h.UpdateClearanceItem)).Methods(http.MethodPatch)

	api.Handle("/org/slots", limited(h.CreateSlot)).Methods(http.MethodPost)
	api.Handle("/org/assignments", limited(h.AssignSlot)).Methods(http.MethodPost)
	api.Handle("/org/assignments/{id}/end", limited(h.EndAssignment)).Methods(http.MethodPost)
	api.Handle("/org/reporting-lines", limited(h.AddReportingLine)).Methods(http.MethodPost)
	api.Handle("/org/role-grants", limited(h.GrantRole)).Methods(http.MethodPost)
	api.HandleFunc("/org/resolve", h.ResolveApprover).Methods(http.MethodGet)
}

// ── Requests ──────────────────────────────────────────────────────────────────

type createRequestBody struct {
	WorkflowType string           `json:"workflowType" validate:"required"`
	Payload      workflow.Payload `json:"payload"`
}

type submitBody struct {
	ExpectedVersion *int              `json:"expectedVersion" validate:"required"`
	Payload         *workflow.Payload `json:"payload"`
}

type transitionBody struct {
	Action          string `json:"action" validate:"required"`
	Comment         string `json:"comment"`
	ExpectedVersion *int   `json:"expectedVersion" validate:"required"`
}

type summaryResponse struct {
	*repository.Request
	Step             int               `json:"step"`
	TotalSteps       int               `json:"totalSteps"`
	StepName         string            `json:"stepName"`
	Terminal         bool              `json:"terminal"`
	AvailableActions []workflow.Action `json:"availableActions"`
}

type transitionResponse struct {
	Request             *repository.Request     `json:"request"`
	Log                 *repository.ApprovalLog `json:"log"`
	VersionNumber       int                     `json:"versionNumber"`
	NotificationsQueued int                     `json:"notificationsQueued"`
	ClearanceItems      int                     `json:"clearanceItemsSeeded,omitempty"`
}

func toSummary(s *service.RequestSummary) summaryResponse {
	return summaryResponse{
		Request:          s.Request,
		Step:             s.Step,
		TotalSteps:       s.TotalSteps,
		StepName:         s.StepName,
		Terminal:         s.Terminal,
		AvailableActions: s.AvailableActions,
	}
}

func toTransitionResponse(res *service.TransitionResult) transitionResponse {
	return transitionResponse{
		Request:             res.Request,
		Log:                 res.Log,
		VersionNumber:       res.VersionNumber,
		NotificationsQueued: res.Notifications,
		ClearanceItems:      res.ItemsSeeded,
	}
}

// CreateRequest opens a draft for the calling actor.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body createRequestBody
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := h.executor.Create(r.Context(), service.CreateCommand{
		WorkflowType: workflow.Type(body.WorkflowType),
		RequesterID:  actor,
		Payload:      body.Payload,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetRequest returns the request with its step labels and next actions.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queries.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

// SubmitRequest sends a draft into its first approval stage.
func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body submitBody
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.executor.Submit(r.Context(), service.TransitionCommand{
		RequestID:       mux.Vars(r)["id"],
		ActorID:         actor,
		ExpectedVersion: *body.ExpectedVersion,
		Payload:         body.Payload,
		IPAddress:       clientIP(r, h.trusted),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

// TransitionRequest applies any other action.
func (h *HTTPHandler) TransitionRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body transitionBody
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.executor.Transition(r.Context(), service.TransitionCommand{
		RequestID:       mux.Vars(r)["id"],
		ActorID:         actor,
		Action:          workflow.Action(body.Action),
		Comment:         body.Comment,
		ExpectedVersion: *body.ExpectedVersion,
		IPAddress:       clientIP(r, h.trusted),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

// GetHistory returns the approval log, oldest first.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	logs, err := h.queries.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": nonNil(logs)})
}

// ListVersions returns every snapshot of a request.
func (h *HTTPHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.queries.Versions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": nonNil(versions)})
}

// GetVersion returns snapshot n.
func (h *HTTPHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := strconv.Atoi(vars["n"])
	if err != nil || n < 1 {
		writeError(w, r, errors.InvalidInput("n", "version number must be a positive integer"))
		return
	}
	v, _, err := h.queries.Version(r.Context(), vars["id"], n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// PendingApprovals lists requests waiting on the calling actor.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pending, err := h.queries.PendingApprovals(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]summaryResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, toSummary(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": out})
}

// ── Clearance ─────────────────────────────────────────────────────────────────

type updateItemBody struct {
	Status  string `json:"status" validate:"required,oneof=PENDING CLEARED REJECTED"`
	Remarks string `json:"remarks"`
}

// GetClearanceBoard returns the lane board of a separation.
func (h *HTTPHandler) GetClearanceBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.clearance.Board(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// AddClearanceItem adds an ad hoc item to a separation.
func (h *HTTPHandler) AddClearanceItem(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body clearance.AddItemInput
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}
	body.RequestID = mux.Vars(r)["id"]

	item, err := h.clearance.AddChecklistItem(r.Context(), actor, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// UpdateClearanceItem records a lane decision on one item.
func (h *HTTPHandler) UpdateClearanceItem(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body updateItemBody
	if err := decode(r, h.validate, &body); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.clearance.UpdateChecklistItem(r.Context(), clearance.UpdateItemCommand{
		ItemID:  mux.Vars(r)["itemId"],
		ActorID: actor,
		Status:  body.Status,
		Remarks: body.Remarks,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
