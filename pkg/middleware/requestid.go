package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mtaha-9646/schedules-covers/pkg/contextkeys"
)

// HeaderRequestID carries the request ID on responses and may be
// supplied by an upstream proxy
const HeaderRequestID = "X-Request-Id"

// RequestID assigns each request a UUID, honoring one set upstream,
// and echoes it on the response
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, requestID)
		ctx := contextkeys.WithRequestID(r.Context(), requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
