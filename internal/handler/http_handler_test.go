package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-workflows/internal/clearance"
	"github.com/pesio-ai/be-hr-workflows/internal/config"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/middleware"
	"github.com/pesio-ai/be-hr-workflows/internal/orgchart"
	"github.com/pesio-ai/be-hr-workflows/internal/repository/memstore"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	router  *mux.Router
	exec    *service.TransitionExecutor
	queries *service.RequestQueries
	slots   map[string]string
}

// newAPI serves the handler over an in-memory store seeded with
// HR-HEAD(hr-head) <- ENG(eng) and an ADMIN grant for "admin".
func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return testNow }

	store := memstore.New().WithClock(clock)
	resolver := orgchart.NewResolver(store, config.ResolverConfig{MaxDepth: 16}, logger.Nop()).WithClock(clock)
	org := orgchart.NewService(store, resolver, logger.Nop())
	policy := config.DefaultPolicy()
	access, err := clearance.NewLaneAccess(policy.Clearance.LaneAccess, policy.Clearance.OverrideRoles)
	require.NoError(t, err)
	engine := clearance.NewEngine(store, resolver, access, policy.Clearance.Template, logger.Nop()).WithClock(clock)
	exec := service.NewTransitionExecutor(store, resolver, engine, policy, logger.Nop()).WithClock(clock)

	queries := service.NewRequestQueries(store)

	h := NewHTTPHandler(exec, queries, engine, org, resolver, policy, logger.Nop())
	router := mux.NewRouter()
	h.Register(router, middleware.NewRateLimiter(1000, 1000))

	f := &apiFixture{router: router, exec: exec, queries: queries, slots: map[string]string{}}
	for _, in := range []orgchart.SlotInput{
		{Code: "HR-HEAD", Title: "HR Director", Department: workflow.DepartmentHR, Roles: []string{workflow.RoleHR}, IsDepartmentHead: true},
		{Code: "ENG", Title: "Engineer", Department: "ENGINEERING"},
	} {
		slot, err := org.CreateSlot(ctx, in)
		require.NoError(t, err)
		f.slots[in.Code] = slot.ID
	}
	_, err = org.AddReportingLine(ctx, orgchart.ReportingLineInput{ChildSlotID: f.slots["ENG"], ParentSlotID: f.slots["HR-HEAD"]})
	require.NoError(t, err)
	start := testNow.AddDate(0, -1, 0)
	for user, code := range map[string]string{"hr-head": "HR-HEAD", "eng": "ENG"} {
		_, err := org.AssignSlot(ctx, orgchart.AssignInput{SlotID: f.slots[code], UserID: user, IsPrimary: true, StartsAt: &start})
		require.NoError(t, err)
	}
	_, err = org.GrantRole(ctx, "admin", "ADMIN")
	require.NoError(t, err)
	return f
}

func (f *apiFixture) call(t *testing.T, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func manpowerBody() map[string]interface{} {
	return map[string]interface{}{
		"workflowType": "MANPOWER",
		"payload": map[string]interface{}{
			"manpower": map[string]interface{}{
				"positionTitle":  "Backend Engineer",
				"department":     "ENGINEERING",
				"headcount":      1,
				"employmentType": "PERMANENT",
				"budget":         map[string]interface{}{"currency": "USD", "minMonthly": 100, "maxMonthly": 200},
			},
		},
	}
}

func (f *apiFixture) createDraft(t *testing.T) string {
	t.Helper()
	rec := f.call(t, http.MethodPost, "/api/v1/requests", "eng", manpowerBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t)
	id := f.createDraft(t)

	rec := f.call(t, http.MethodGet, "/api/v1/requests/"+id, "eng", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "DRAFT", got["status"])
	assert.Equal(t, float64(0), got["version"])
	assert.Contains(t, got["availableActions"], "SUBMIT")

	rec = f.call(t, http.MethodPost, "/api/v1/requests/"+id+"/submit", "eng", map[string]interface{}{"expectedVersion": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody(t, rec)
	request := res["request"].(map[string]interface{})
	assert.Equal(t, "PENDING_HR", request["status"])
	assert.Equal(t, "hr-head", request["currentApprover"])
	assert.Equal(t, float64(1), res["versionNumber"])

	rec = f.call(t, http.MethodGet, "/api/v1/approvals/pending", "hr-head", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["requests"], 1)

	rec = f.call(t, http.MethodPost, "/api/v1/requests/"+id+"/transitions", "hr-head", map[string]interface{}{
		"action": "REJECT", "comment": "no budget this quarter", "expectedVersion": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.call(t, http.MethodGet, "/api/v1/requests/"+id+"/history", "eng", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody(t, rec)["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "SUBMIT", entries[0].(map[string]interface{})["action"])
	assert.Equal(t, "REJECT", entries[1].(map[string]interface{})["action"])

	rec = f.call(t, http.MethodGet, "/api/v1/requests/"+id+"/versions", "eng", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["versions"], 2)

	rec = f.call(t, http.MethodGet, "/api/v1/requests/"+id+"/versions/1", "eng", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["versionNumber"])

	rec = f.call(t, http.MethodGet, "/api/v1/requests/"+id+"/versions/0", "eng", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionErrorsMapToStatus(t *testing.T) {
	f := newAPI(t)
	id := f.createDraft(t)

	tests := []struct {
		name   string
		actor  string
		body   interface{}
		status int
		code   string
	}{
		{"missing actor", "", map[string]interface{}{"action": "SUBMIT", "expectedVersion": 0}, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"stale version", "eng", map[string]interface{}{"action": "SUBMIT", "expectedVersion": 3}, http.StatusConflict, "CONFLICT"},
		{"not the requester", "hr-head", map[string]interface{}{"action": "SUBMIT", "expectedVersion": 0}, http.StatusForbidden, "FORBIDDEN"},
		{"not allowed from draft", "eng", map[string]interface{}{"action": "APPROVE", "expectedVersion": 0}, http.StatusUnprocessableEntity, "INVALID_TRANSITION"},
		{"missing version", "eng", map[string]interface{}{"action": "SUBMIT"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", "eng", `{"action":"SUBMIT","expectedVersion":0,"force":true}`, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.call(t, http.MethodPost, "/api/v1/requests/"+id+"/transitions", tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody(t, rec)["code"])
		})
	}

	rec := f.call(t, http.MethodGet, "/api/v1/requests/nope", "eng", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrgWritesRequireOverrideRole(t *testing.T) {
	f := newAPI(t)
	slot := map[string]interface{}{"code": "FIN-HEAD", "title": "Finance Director", "department": "FINANCE", "isDepartmentHead": true}

	rec := f.call(t, http.MethodPost, "/api/v1/org/slots", "eng", slot)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/v1/org/slots", "admin", slot)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	finID := decodeBody(t, rec)["id"].(string)

	rec = f.call(t, http.MethodPost, "/api/v1/org/reporting-lines", "admin", map[string]interface{}{
		"childSlotId": f.slots["HR-HEAD"], "parentSlotId": f.slots["ENG"],
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cycles are rejected")

	rec = f.call(t, http.MethodPost, "/api/v1/org/assignments", "admin", map[string]interface{}{
		"slotId": finID, "userId": "fin-head", "isPrimary": true, "startsAt": testNow.AddDate(0, -1, 0),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assignmentID := decodeBody(t, rec)["id"].(string)

	rec = f.call(t, http.MethodGet, "/api/v1/org/resolve?requesterId=eng&workflowType=MANPOWER&status=PENDING_FINANCE", "eng", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "fin-head", decodeBody(t, rec)["userId"])

	rec = f.call(t, http.MethodPost, "/api/v1/org/assignments/"+assignmentID+"/end", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.call(t, http.MethodGet, "/api/v1/org/resolve?requesterId=eng&workflowType=MANPOWER&status=PENDING_FINANCE", "eng", nil)
	assert.Equal(t, http.StatusFailedDependency, rec.Code)

	rec = f.call(t, http.MethodGet, "/api/v1/org/resolve?requesterId=eng&workflowType=MANPOWER&status=DRAFT", "eng", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearanceBoardOfUnknownSeparation(t *testing.T) {
	f := newAPI(t)
	rec := f.call(t, http.MethodGet, "/api/v1/separations/nope/clearance", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(t, http.MethodPatch, "/api/v1/clearance/items/nope", "admin", map[string]interface{}{"status": "DONE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
