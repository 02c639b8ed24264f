package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCallMetricsExistAndIncrement(t *testing.T) {
	CallsDispatched.WithLabelValues("queued").Inc()
	if v := testutil.ToFloat64(CallsDispatched.WithLabelValues("queued")); v < 1 {
		t.Fatalf("expected CallsDispatched >= 1, got %v", v)
	}

	CallResolutions.WithLabelValues("confirmed").Add(2)
	if v := testutil.ToFloat64(CallResolutions.WithLabelValues("confirmed")); v < 2 {
		t.Fatalf("expected CallResolutions >= 2, got %v", v)
	}

	CallStateConflicts.Inc()
	if v := testutil.ToFloat64(CallStateConflicts); v < 1 {
		t.Fatalf("expected CallStateConflicts >= 1, got %v", v)
	}
}

func TestWebhookEventsLabelCardinality(t *testing.T) {
	WebhookEvents.Reset()
	defer WebhookEvents.Reset()
	labels := []string{"status", "applied"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("WebhookEvents panicked with labels %v: %v", labels, r)
		}
	}()

	WebhookEvents.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(WebhookEvents.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestEscalationsInFlightGauge(t *testing.T) {
	EscalationsInFlight.Set(0)
	EscalationsInFlight.Inc()
	EscalationsInFlight.Inc()
	EscalationsInFlight.Dec()
	if v := testutil.ToFloat64(EscalationsInFlight); v != 1 {
		t.Fatalf("expected EscalationsInFlight == 1, got %v", v)
	}
	EscalationsInFlight.Set(0)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	EscalationRuns.WithLabelValues("confirmed").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "voice_escalation_runs_total") {
		t.Fatalf("expected voice_escalation_runs_total in metrics output")
	}
}
