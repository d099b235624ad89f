package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewClient("envoy-key", "envoy-model")
	c.SetTestTransport(server.URL)
	return c
}

func TestCompleteSendsRequestAndReturnsText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "envoy-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version = %q", got)
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "envoy-model" || req.MaxTokens != 512 {
			t.Errorf("unexpected request: model=%q max_tokens=%d", req.Model, req.MaxTokens)
		}
		if req.System != "triage tasks" {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "fix the login bug" {
			t.Errorf("messages = %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(response{
			Content: []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}{{Type: "text", Text: `{"should_ask": false}`}},
			StopReason: "end_turn",
		})
	})

	got, err := c.Complete(context.Background(), "triage tasks",
		[]Message{{Role: "user", Content: "fix the login bug"}}, 512)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"should_ask": false}` {
		t.Errorf("unexpected completion: %q", got)
	}
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "slow down",
			},
		})
	})

	_, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 64)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate_limit_error") || !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry status and type, got %v", err)
	}
}

func TestCompleteRejectsEmptyContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{StopReason: "end_turn"})
	})

	_, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 64)
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestCompleteHonorsContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Complete(ctx, "", []Message{{Role: "user", Content: "hi"}}, 64); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
