package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEvent(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("revision", "succeeded"))
	ObserveEvent("revision", "succeeded", 25*time.Millisecond)
	after := testutil.ToFloat64(eventsTotal.WithLabelValues("revision", "succeeded"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %f -> %f", before, after)
	}
}

func TestObserveDepotCountsBytes(t *testing.T) {
	before := testutil.ToFloat64(depotBytesTotal.WithLabelValues("eu"))
	ObserveDepot("eu", DepotMiss, 128)
	ObserveDepot("eu", DepotHit, 0)
	if got := testutil.ToFloat64(depotBytesTotal.WithLabelValues("eu")); got != before+128 {
		t.Fatalf("expected bytes to increase by 128, got %f -> %f", before, got)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	base := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != base+1 {
		t.Fatalf("expected gauge %f, got %f", base+1, got)
	}
	DecActiveWorkers()
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRetry("resolve")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mapindex_retries_total") {
		t.Fatal("expected retry counter in metrics output")
	}
}
