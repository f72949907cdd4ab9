package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
)

// DecisionHandlers exposes the decision endpoint consumed by tenant
// apps on every privileged request
type DecisionHandlers struct {
	decider Decider
}

// NewDecisionHandlers creates the decision handlers
func NewDecisionHandlers(decider Decider) *DecisionHandlers {
	return &DecisionHandlers{decider: decider}
}

// RegisterRoutes registers decision routes
func (h *DecisionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/decisions", h.Decide).Methods("POST")
	router.HandleFunc("/decisions/platform", h.DecidePlatform).Methods("POST")
}

// DecideRequest is the wire form of an authorization question. The
// subject comes from the asserted identity, never the body.
type DecideRequest struct {
	TenantID      string   `json:"tenant_id"`
	AppKey        string   `json:"app_key"`
	Permission    string   `json:"permission"`
	StateChanging bool     `json:"state_changing"`
	FlagKeys      []string `json:"flag_keys,omitempty"`
}

// Decide answers one authorization question
func (h *DecisionHandlers) Decide(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req DecideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.AppKey == "" || req.Permission == "" {
		httputil.WriteBadRequest(w, "tenant_id, app_key and permission are required")
		return
	}

	d := h.decider.Decide(r.Context(), decision.Request{
		Subject:       subject,
		TenantID:      req.TenantID,
		AppKey:        req.AppKey,
		Permission:    req.Permission,
		StateChanging: req.StateChanging,
		FlagKeys:      req.FlagKeys,
		Origin:        originOf(r),
	})

	httputil.WriteSuccess(w, d)
}

// DecidePlatform answers a platform-scoped question with no tenant
func (h *DecisionHandlers) DecidePlatform(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req DecideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	d := h.decider.DecidePlatform(r.Context(), decision.Request{
		Subject:       subject,
		Permission:    req.Permission,
		StateChanging: req.StateChanging,
		Origin:        originOf(r),
	})

	httputil.WriteSuccess(w, d)
}
