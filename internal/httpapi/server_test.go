package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clubside/regbot/internal/config"
	"github.com/clubside/regbot/internal/photo"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/record"
	"github.com/clubside/regbot/internal/session"
	"github.com/clubside/regbot/internal/webhook"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	sessions := session.NewStore(40, time.Hour)
	records := record.NewMemStore()
	processor := webhook.New(records, nil, "topsecret", false)
	status := photo.NewStatusStore()
	return NewServer(cfg, sessions, nil, nil, nil, status, processor, records, nil, nil)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["config_hash"] == "" {
		t.Error("missing config_hash")
	}
}

func TestChatRejectsInvalidSessionID(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"user_message": "hi"}`,
		`{"user_message": "hi", "session_id": "has spaces!"}`,
		`{"user_message": "hi", "session_id": "` + strings.Repeat("x", 101) + `"}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/chat", strings.NewReader(body))
		s.BuildMux().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestClearEndpoint(t *testing.T) {
	s := newTestServer(t)
	_ = s.Sessions.Append("s1", providers.Message{Role: "user", Content: "hello"}, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/clear", strings.NewReader(`{"session_id": "s1"}`))
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	history, err := s.Sessions.History("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("history not cleared: %d entries", len(history))
	}
}

func TestAgentModeRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/agent/status", nil))
	var status map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status["default_agent_mode"] != "generic" {
		t.Errorf("initial mode = %v", status["default_agent_mode"])
	}
	if _, ok := status["use_async_photo"]; !ok {
		t.Error("missing use_async_photo")
	}

	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("POST", "/agent/mode", strings.NewReader(`{"mode": "new_registration"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("set mode status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/agent/status", nil))
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status["default_agent_mode"] != "new_registration" {
		t.Errorf("mode after switch = %v", status["default_agent_mode"])
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/webhooks/payment-provider", strings.NewReader(`{"events":[]}`))
	req.Header.Set("Webhook-Signature", "deadbeef")
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUploadStatusUnknownSession(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/upload-status/s9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["complete"] != false {
		t.Errorf("complete = %v, want false", body["complete"])
	}

	s.Status.Set("s9", photo.Status{Complete: true, Message: "All done!"})
	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, httptest.NewRequest("GET", "/upload-status/s9", nil))
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["complete"] != true || body["message"] != "All done!" {
		t.Errorf("body = %+v", body)
	}
}
