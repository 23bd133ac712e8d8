package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	r := NewRegistry()
	r.Observe(Run{Status: "success", Accepted: 3, Rejected: 1, Unmatched: 2, Duration: time.Second, Finished: time.Unix(1700000000, 0)})
	r.Observe(Run{Status: "error"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.Accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Rejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Unmatched))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.LastSuccess))
}

func TestObserve_NilRegistry(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() { r.Observe(Run{Status: "success"}) })
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe(Run{Status: "success", Accepted: 1})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `catalogsync_runs_total{status="success"} 1`)
	assert.Contains(t, string(body), "catalogsync_products_accepted_total 1")
}
