package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestServer(health HealthFunc) *Server {
	return NewServer(Options{
		ListenAddr:      ":0",
		MetricsEndpoint: "/metrics",
		Enabled:         true,
		TokenSecret:     "test-secret",
		TokenTTL:        time.Minute,
	}, NewHub(zap.NewNop()), health, zap.NewNop())
}

func TestHandleHealthzOK(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(func() (HealthStatus, error) {
		return HealthStatus{ClientsConnected: 4, QueueDepth: 2}, nil
	})(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want %q", body.Status, "ok")
	}
	if body.ClientsConnected != 4 || body.QueueDepth != 2 {
		t.Errorf("body = %+v, want ClientsConnected=4 QueueDepth=2", body)
	}
}

func TestHandleHealthzUnhealthy(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(func() (HealthStatus, error) {
		return HealthStatus{}, errors.New("queue stalled")
	})(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleTokenIssuesVerifiableToken(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/token", nil)
	rec := httptest.NewRecorder()
	s.handleToken(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if err := s.tokens.Verify(body["token"]); err != nil {
		t.Errorf("issued token failed verification: %v", err)
	}
}

func TestHandleStreamRejectsMissingToken(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/stream", nil)
	rec := httptest.NewRecorder()
	s.handleStream(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleStreamRejectsBadToken(t *testing.T) {
	s := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/stream?token=garbage", nil)
	rec := httptest.NewRecorder()
	s.handleStream(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
