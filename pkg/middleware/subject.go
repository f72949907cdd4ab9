// Package middleware provides the HTTP middleware for the control
// plane: identity assertion, request identification, logging, and
// panic recovery.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mtaha-9646/schedules-covers/pkg/contextkeys"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

// Headers the identity provider asserts on every proxied request. The
// control plane trusts these; signature verification happened upstream.
const (
	HeaderSubjectID    = "X-Subject-Id"
	HeaderSubjectEmail = "X-Subject-Email"
)

// UserProvisioner creates or refreshes a user record on first sight,
// implemented by identity.Store
type UserProvisioner interface {
	EnsureUser(ctx context.Context, subject identity.Subject) (*identity.User, error)
}

// SubjectMiddleware extracts the asserted subject identity, provisions
// the user on first login, and rejects requests with no assertion or a
// disabled user.
type SubjectMiddleware struct {
	users  UserProvisioner
	logger *logrus.Logger
}

// NewSubjectMiddleware creates the subject assertion middleware
func NewSubjectMiddleware(users UserProvisioner, logger *logrus.Logger) *SubjectMiddleware {
	return &SubjectMiddleware{users: users, logger: logger}
}

// Handler wraps the next handler with subject extraction
func (m *SubjectMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID := r.Header.Get(HeaderSubjectID)
		email := r.Header.Get(HeaderSubjectEmail)

		if externalID == "" {
			httputil.WriteUnauthorized(w, "missing subject assertion")
			return
		}

		user, err := m.users.EnsureUser(r.Context(), identity.Subject{
			ExternalID: externalID,
			Email:      email,
		})
		if err != nil {
			m.logger.WithError(err).Error("failed to provision subject")
			httputil.WriteInternalError(w, err)
			return
		}

		if user.Status == identity.UserStatusDisabled {
			httputil.WriteForbidden(w, map[string]string{"error": "user disabled"})
			return
		}

		ctx := contextkeys.WithSubject(r.Context(), identity.Subject{
			UserID:     user.ID,
			ExternalID: user.ExternalID,
			Email:      user.Email,
		})
		ctx = contextkeys.WithRequestOrigin(ctx, clientIP(r))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext retrieves the asserted subject placed by the
// middleware
func SubjectFromContext(ctx context.Context) (identity.Subject, bool) {
	subject, ok := ctx.Value(contextkeys.SubjectKey).(identity.Subject)
	return subject, ok
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// first hop is the client
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
