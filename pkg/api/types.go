// Package api exposes the control plane over HTTP: the decision
// endpoint consumed by tenant apps, the administrative mutation API,
// and the audit query interface. Every administrative mutation is
// itself authorized through the decision service before it is applied.
package api

import (
	"context"
	"net/http"

	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/contextkeys"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
	"github.com/mtaha-9646/schedules-covers/pkg/middleware"
)

// PortalAppKey is the app key the administrative surface runs under.
// Tenant-scoped admin actions are authorized against it, so disabling
// the portal for a tenant locks that tenant's own admins out.
const PortalAppKey = "portal"

// Decider answers authorization questions, implemented by
// decision.Service
type Decider interface {
	Decide(ctx context.Context, req decision.Request) decision.Decision
	DecidePlatform(ctx context.Context, req decision.Request) decision.Decision
}

// subjectOf pulls the asserted subject out of the request context,
// writing a 401 when the middleware did not run
func subjectOf(w http.ResponseWriter, r *http.Request) (decision.Subject, bool) {
	subject, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "missing subject assertion")
		return decision.Subject{}, false
	}
	return decision.Subject{UserID: subject.UserID, Email: subject.Email}, true
}

// originOf captures the request origin for the audit trail
func originOf(r *http.Request) audit.Origin {
	return audit.Origin{
		IPAddress: contextkeys.GetRequestOrigin(r.Context()),
		UserAgent: r.UserAgent(),
		RequestID: contextkeys.GetRequestID(r.Context()),
	}
}

// authorize runs a decision and, on deny, writes the structured deny
// response. A deny is a 403 carrying the reason, never a bare 5xx.
func authorize(w http.ResponseWriter, r *http.Request, decider Decider, req decision.Request) bool {
	d := decider.Decide(r.Context(), req)
	if !d.Allowed {
		httputil.WriteForbidden(w, d)
		return false
	}
	return true
}

// authorizePlatform is authorize for requests with no tenant context
func authorizePlatform(w http.ResponseWriter, r *http.Request, decider Decider, req decision.Request) bool {
	d := decider.DecidePlatform(r.Context(), req)
	if !d.Allowed {
		httputil.WriteForbidden(w, d)
		return false
	}
	return true
}
