package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtaha-9646/schedules-covers/pkg/contextkeys"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
)

type fakeProvisioner struct {
	users map[string]*identity.User
}

func (f *fakeProvisioner) EnsureUser(_ context.Context, subject identity.Subject) (*identity.User, error) {
	if user, ok := f.users[subject.ExternalID]; ok {
		return user, nil
	}
	user := &identity.User{
		ID:         "user-" + subject.ExternalID,
		ExternalID: subject.ExternalID,
		Email:      subject.Email,
		Status:     identity.UserStatusActive,
	}
	f.users[subject.ExternalID] = user
	return user, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSubjectMiddleware_AssertsAndProvisions(t *testing.T) {
	provisioner := &fakeProvisioner{users: map[string]*identity.User{}}
	mw := NewSubjectMiddleware(provisioner, testLogger())

	var got identity.Subject
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromContext(r.Context())
		require.True(t, ok)
		got = subject
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req.Header.Set(HeaderSubjectID, "idp|jane")
	req.Header.Set(HeaderSubjectEmail, "jane@acme.example")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-idp|jane", got.UserID)
	assert.Equal(t, "jane@acme.example", got.Email)
	// first sight created the user record
	assert.Contains(t, provisioner.users, "idp|jane")
}

func TestSubjectMiddleware_MissingAssertion(t *testing.T) {
	mw := NewSubjectMiddleware(&fakeProvisioner{users: map[string]*identity.User{}}, testLogger())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a subject")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubjectMiddleware_DisabledUser(t *testing.T) {
	provisioner := &fakeProvisioner{users: map[string]*identity.User{
		"idp|mallory": {ID: "user-1", ExternalID: "idp|mallory", Status: identity.UserStatusDisabled},
	}}
	mw := NewSubjectMiddleware(provisioner, testLogger())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a disabled user")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req.Header.Set(HeaderSubjectID, "idp|mallory")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
}

func TestRequestID_HonorsUpstream(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-1", seen)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4444"
	assert.Equal(t, "192.0.2.10", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 192.0.2.10")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
