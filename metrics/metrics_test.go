package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	CollectionFacetsTotal.WithLabelValues("quote", "success").Inc()
	SetRunning("collection", true)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{"collection_facets_total", "scheduler_running"} {
		if !found[name] {
			t.Fatalf("%s metric not found", name)
		}
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `scheduler_running{scheduler="collection"} 1`) {
		t.Fatalf("scheduler gauge missing from exposition:\n%s", rec.Body.String())
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "success" {
		t.Fatal("nil error should map to success")
	}
	if Outcome(errors.New("boom")) != "error" {
		t.Fatal("non-nil error should map to error")
	}
}
