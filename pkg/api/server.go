package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mtaha-9646/schedules-covers/pkg/middleware"
	"github.com/mtaha-9646/schedules-covers/pkg/observability"
)

// RouteRegistrar hangs a handler group onto the versioned router
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Server assembles the HTTP surface: health and metrics are open, the
// /v1 API runs behind request identification, logging, recovery, and
// the subject assertion middleware.
type Server struct {
	router *mux.Router
}

// NewServer builds the router
func NewServer(logger *logrus.Logger, subjects *middleware.SubjectMiddleware, registry *prometheus.Registry, health http.Handler, registrars ...RouteRegistrar) *Server {
	root := mux.NewRouter()

	if health != nil {
		root.Handle("/healthz", health).Methods("GET")
	}
	v1 := root.PathPrefix("/v1").Subrouter()
	v1.Use(
		mux.MiddlewareFunc(middleware.Recovery(logger)),
		mux.MiddlewareFunc(middleware.RequestID),
		mux.MiddlewareFunc(middleware.Logging(logger)),
	)

	if registry != nil {
		root.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
		v1.Use(observability.NewHTTPMetrics(registry).Middleware())
	}

	v1.Use(mux.MiddlewareFunc(subjects.Handler))

	for _, r := range registrars {
		r.RegisterRoutes(v1)
	}

	return &Server{router: root}
}

// Handler returns the assembled root handler
func (s *Server) Handler() http.Handler {
	return s.router
}
