package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"makcu/internal/config"
	"makcu/internal/device"
	"makcu/internal/macro"
	"makcu/internal/protocol"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfgMgr := config.NewManagerWithPath(filepath.Join(t.TempDir(), "config.json"))
	s := NewServer(cfgMgr, device.New(), macro.NewSession())
	t.Cleanup(func() { close(s.wsMgr.shutdown) })
	return s
}

// TestHealth tests the health endpoint
func TestHealth(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

// TestStatus tests the status endpoint against an unconnected device
func TestStatus(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status protocol.StatusPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Invalid status JSON: %v", err)
	}
	if status.Connected {
		t.Error("Expected disconnected status")
	}
	if status.Recording || status.Playing {
		t.Error("Expected idle macro session")
	}

	rec = httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("POST", "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", rec.Code)
	}
}

// TestAuthMiddleware tests bearer token enforcement
func TestAuthMiddleware(t *testing.T) {
	s := testServer(t)
	s.token = "secret"

	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}

	// Health stays open regardless of the token.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for health without token, got %d", rec.Code)
	}
}

// TestMacroEndpoints tests the record/stop/clear lifecycle over HTTP
func TestMacroEndpoints(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleMacroRecord(rec, httptest.NewRequest("POST", "/api/macro/record", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 starting recording, got %d", rec.Code)
	}

	// Starting again conflicts.
	rec = httptest.NewRecorder()
	s.handleMacroRecord(rec, httptest.NewRequest("POST", "/api/macro/record", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for double start, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleMacroStop(rec, httptest.NewRequest("POST", "/api/macro/stop", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 stopping recording, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleMacroClear(rec, httptest.NewRequest("POST", "/api/macro/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 clearing, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleMacroRecord(rec, httptest.NewRequest("GET", "/api/macro/record", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}
}

// TestInputValidation tests input payload rejection
func TestInputValidation(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleInput(rec, httptest.NewRequest("POST", "/api/input", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", rec.Code)
	}

	if err := s.applyInput(protocol.InputPayload{Type: "teleport"}); err == nil {
		t.Error("Expected error for unknown event type")
	}
}
