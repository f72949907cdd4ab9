package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetrics_CountsByRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(registry)

	router := mux.NewRouter()
	router.Use(metrics.Middleware())
	router.HandleFunc("/tenants/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	for _, id := range []string{"acme", "northside"} {
		req := httptest.NewRequest(http.MethodGet, "/tenants/"+id, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	families, err := registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() != "authz_http_requests_total" {
			continue
		}
		found = true
		// both requests land on the one template label
		require.Len(t, family.GetMetric(), 1)
		metric := family.GetMetric()[0]
		assert.Equal(t, float64(2), metric.GetCounter().GetValue())

		labels := map[string]string{}
		for _, pair := range metric.GetLabel() {
			labels[pair.GetName()] = pair.GetValue()
		}
		assert.Equal(t, "/tenants/{id}", labels["route"])
		assert.Equal(t, "200", labels["status"])
	}
	assert.True(t, found)
}

func TestHTTPMetrics_RecordsStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(registry)

	router := mux.NewRouter()
	router.Use(metrics.Middleware())
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != "authz_http_requests_total" {
			continue
		}
		for _, pair := range family.GetMetric()[0].GetLabel() {
			if pair.GetName() == "status" {
				assert.Equal(t, "500", pair.GetValue())
			}
		}
	}
}
