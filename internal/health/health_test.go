package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

// TestReadyzGate flips readiness and checks both sides of the gate.
func TestReadyzGate(t *testing.T) {
	ready := false
	handler := Readyz(func() bool { return ready })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before training = %d, want 503", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status after training = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ready\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
