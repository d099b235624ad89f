package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/clarifier"
	"github.com/MikeSquared-Agency/envoy/internal/conversation"
	"github.com/MikeSquared-Agency/envoy/internal/engine"
	"github.com/MikeSquared-Agency/envoy/internal/prefs"
	"github.com/MikeSquared-Agency/envoy/internal/session"
	"github.com/MikeSquared-Agency/envoy/internal/watchdog"
)

type stubOracle struct{}

func (stubOracle) Analyze(context.Context, clarifier.DraftContext) (*clarifier.Analysis, error) {
	return &clarifier.Analysis{}, nil
}

func (stubOracle) ApplyAnswer(_ context.Context, _ *conversation.Conversation, q conversation.Question, answer string) (map[string]string, error) {
	return map[string]string{q.Field: answer}, nil
}

func (stubOracle) GenerateSpec(_ context.Context, conv *conversation.Conversation, _ *prefs.Preferences) (string, *conversation.TaskSpec, error) {
	spec := &conversation.TaskSpec{Title: conv.OriginalMessage, Priority: "medium"}
	return clarifier.RenderPreview(spec), spec, nil
}

func (stubOracle) ApplyCorrection(context.Context, *conversation.TaskSpec, string) (*conversation.TaskSpec, error) {
	return nil, clarifier.ErrMalformedResponse
}

type stubMaterializer struct{}

func (stubMaterializer) CreateTask(context.Context, *conversation.Conversation) (uuid.UUID, error) {
	return uuid.New(), nil
}

type stubReporter struct{ report watchdog.Report }

func (s stubReporter) LastReport() watchdog.Report { return s.report }

func newTestServer(t *testing.T, token string) (*Server, *session.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewMemory()
	eng := engine.New(store, stubOracle{}, stubMaterializer{}, prefs.New(), logger)
	reporter := stubReporter{report: watchdog.Report{SweptAt: time.Now().UTC(), Finalized: 2}}
	return NewServer(8750, token, eng, store, reporter, logger), store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/envoy/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body struct {
		Agent     string          `json:"agent"`
		LastSweep watchdog.Report `json:"last_sweep"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "envoy" {
		t.Errorf("expected agent envoy, got %q", body.Agent)
	}
	if body.LastSweep.Finalized != 2 {
		t.Errorf("last sweep not surfaced: %+v", body.LastSweep)
	}
}

func TestMessageEndpointRunsATurn(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	payload := `{"user_id":"u1","channel_id":"c1","text":"draft the retro agenda"}`
	req := httptest.NewRequest("POST", "/api/v1/envoy/message", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body messageResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.Contains(body.Reply, "retro agenda") {
		t.Errorf("reply = %q, want draft preview", body.Reply)
	}
}

func TestMessageEndpointRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	req := httptest.NewRequest("POST", "/api/v1/envoy/message", strings.NewReader(`{"user_id":"u1","text":"hi"}`))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMessageEndpointRejectsMissingUser(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest("POST", "/api/v1/envoy/message", strings.NewReader(`{"text":"hi"}`))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestConversationEndpoint(t *testing.T) {
	srv, store := newTestServer(t, "")

	conv := conversation.New("u1", "c1", "inspect me")
	if err := store.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/v1/envoy/conversations/"+conv.ID.String(), nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got conversation.Conversation
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != conv.ID || got.OriginalMessage != "inspect me" {
		t.Errorf("got %+v", got)
	}
}

func TestConversationEndpointNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/envoy/conversations/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
