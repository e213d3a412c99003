package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatResponse(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(
		ClientConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"},
		WithSleeper(func(time.Duration) {}),
	)
	return client, server
}

func TestCompleteReturnsContent(t *testing.T) {
	var gotPath string
	var gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, chatResponse(`{"ok":true}`))
	})

	content, err := client.Complete(context.Background(), Request{
		System:   "system",
		User:     "user",
		JSONOnly: true,
	}, "test op")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("content = %q", content)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, chatResponse("recovered"))
	})

	content, err := client.Complete(context.Background(), Request{System: "s", User: "u"}, "test op")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if content != "recovered" {
		t.Fatalf("content = %q", content)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	if _, err := client.Complete(context.Background(), Request{System: "s", User: "u"}, "test op"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must be terminal, got %d calls", calls.Load())
	}
}

func TestCompleteRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(
		ClientConfig{APIKey: "k", BaseURL: server.URL, Model: "m"},
		WithRetryMaxAttempts(3),
		WithSleeper(func(time.Duration) {}),
	)
	if _, err := client.Complete(context.Background(), Request{System: "s", User: "u"}, "test op"); err == nil {
		t.Fatal("expected error after retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestCompleteRequiresPrompts(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k"})
	if _, err := client.Complete(context.Background(), Request{User: "u"}, "op"); err == nil {
		t.Fatal("expected error for missing system prompt")
	}
	if _, err := client.Complete(context.Background(), Request{System: "s"}, "op"); err == nil {
		t.Fatal("expected error for missing user prompt")
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatResponse(`{"ok":true}`))
	})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestDecodeModelJSON(t *testing.T) {
	type target struct {
		Theme string `json:"theme"`
	}

	cases := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", `{"theme":"tech"}`, "tech", false},
		{"fenced", "```json\n{\"theme\":\"tech\"}\n```", "tech", false},
		{"prose prefix", `Here is the result: {"theme":"tech"} hope it helps`, "tech", false},
		{"empty", "", "", true},
		{"garbage", "not json at all", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got target
			err := DecodeModelJSON(tc.content, &got)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeModelJSON: %v", err)
			}
			if got.Theme != tc.want {
				t.Fatalf("theme = %q, want %q", got.Theme, tc.want)
			}
		})
	}
}
