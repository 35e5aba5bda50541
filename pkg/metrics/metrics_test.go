package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorTracksSubscriptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SubscriptionStarted("products")
	c.SubscriptionStarted("products")
	c.SubscriptionReleased("products")

	if got := testutil.ToFloat64(c.activeSubscriptions.WithLabelValues("products")); got != 1 {
		t.Errorf("active subscriptions = %v, want 1", got)
	}
}

func TestCollectorCountsWritesAndTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.WriteCompleted("create_listing", "ok")
	c.WriteCompleted("create_listing", "write_error")
	c.WriteCompleted("create_listing", "ok")
	c.Transition("main", "settingsHub")
	c.SnapshotDelivered("users")

	if got := testutil.ToFloat64(c.writes.WithLabelValues("create_listing", "ok")); got != 2 {
		t.Errorf("ok writes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("main", "settingsHub")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SnapshotDelivered("reviews")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `templatex_snapshots_total{collection="reviews"} 1`) {
		t.Errorf("metrics output missing snapshot counter:\n%s", rec.Body.String())
	}
}
