package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/mtaha-9646/schedules-covers/pkg/contextkeys"
	"github.com/mtaha-9646/schedules-covers/pkg/httputil"
)

// Recovery turns a handler panic into a 500 instead of tearing down
// the connection
func Recovery(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(logrus.Fields{
						"panic":      rec,
						"path":       r.URL.Path,
						"request_id": contextkeys.GetRequestID(r.Context()),
						"stack":      string(debug.Stack()),
					}).Error("handler panic recovered")

					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
