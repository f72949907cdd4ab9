package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/flags"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
)

// FlagStore is the slice of flags.Store the handlers use
type FlagStore interface {
	UpsertFlag(ctx context.Context, flag *flags.Flag) error
	GetFlag(ctx context.Context, key string) (*flags.Flag, error)
	ListFlags(ctx context.Context) ([]*flags.Flag, error)
	SetEnabled(ctx context.Context, key string, enabled bool) error
}

// Evaluator answers flag questions, implemented by flags.Evaluator
type Evaluator interface {
	IsEnabled(ctx context.Context, flagKey string, evalCtx flags.EvalContext) (bool, error)
}

// FlagHandlers handles feature flag administration and evaluation
type FlagHandlers struct {
	store     FlagStore
	evaluator Evaluator
	decider   Decider
}

// NewFlagHandlers creates the flag handlers
func NewFlagHandlers(store FlagStore, evaluator Evaluator, decider Decider) *FlagHandlers {
	return &FlagHandlers{store: store, evaluator: evaluator, decider: decider}
}

// RegisterRoutes registers flag routes
func (h *FlagHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/flags", h.ListFlags).Methods("GET")
	router.HandleFunc("/flags/{key}", h.GetFlag).Methods("GET")
	router.HandleFunc("/flags/{key}", h.UpsertFlag).Methods("PUT")
	router.HandleFunc("/flags/{key}/enabled", h.SetEnabled).Methods("PUT")
	router.HandleFunc("/flags/{key}/evaluate", h.Evaluate).Methods("POST")
}

// ListFlags lists all flag definitions
func (h *FlagHandlers) ListFlags(w http.ResponseWriter, r *http.Request) {
	if _, ok := subjectOf(w, r); !ok {
		return
	}

	list, err := h.store.ListFlags(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// GetFlag retrieves one flag definition
func (h *FlagHandlers) GetFlag(w http.ResponseWriter, r *http.Request) {
	if _, ok := subjectOf(w, r); !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	flag, err := h.store.GetFlag(r.Context(), key)
	if errors.Is(err, flags.ErrNotFound) {
		httputil.WriteNotFoundError(w, "flag not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, flag)
}

// UpsertFlagRequest is the wire form of a flag definition
type UpsertFlagRequest struct {
	Description string        `json:"description,omitempty"`
	Enabled     bool          `json:"enabled"`
	Rules       flags.RuleSet `json:"rules,omitempty"`
}

// UpsertFlag creates or replaces a flag definition, platform-scoped
func (h *FlagHandlers) UpsertFlag(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	var req UpsertFlagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermFlagsManage,
		StateChanging: true,
		Action:        audit.ActionFlagUpsert,
		Target:        &decision.Target{Type: audit.TargetFlag, ID: key},
		Origin:        originOf(r),
	}) {
		return
	}

	flag := &flags.Flag{
		Key:         key,
		Description: req.Description,
		Enabled:     req.Enabled,
		Rules:       req.Rules,
	}
	if err := h.store.UpsertFlag(r.Context(), flag); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, flag)
}

// SetEnabled flips only the kill switch, the operation reached for
// during an incident
func (h *FlagHandlers) SetEnabled(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !authorizePlatform(w, r, h.decider, decision.Request{
		Subject:       subject,
		Permission:    catalog.PermFlagsManage,
		StateChanging: true,
		Action:        audit.ActionFlagToggle,
		Target:        &decision.Target{Type: audit.TargetFlag, ID: key},
		Origin:        originOf(r),
	}) {
		return
	}

	if err := h.store.SetEnabled(r.Context(), key, req.Enabled); err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			httputil.WriteNotFoundError(w, "flag not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"key": key, "enabled": req.Enabled})
}

// Evaluate evaluates one flag for a caller-supplied context
func (h *FlagHandlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	var evalCtx flags.EvalContext
	if !httputil.ParseJSONOrError(w, r, &evalCtx) {
		return
	}
	if evalCtx.UserID == "" {
		evalCtx.UserID = subject.UserID
	}

	enabled, err := h.evaluator.IsEnabled(r.Context(), key, evalCtx)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]any{"key": key, "enabled": enabled})
}
