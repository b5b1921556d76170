package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/anubis/internal/reliability"
)

func TestGroqClientCompleteRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	var gotModel string
	var gotMessages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		var body struct {
			Model    string            `json:"model"`
			Messages []json.RawMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		gotMessages = len(body.Messages)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"llama-3.1-8b-instant",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Hola, viajero.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient("test-key", srv.URL, "", time.Second)
	reply, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Eres Anubis."},
		{Role: RoleUser, Content: "hola"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "Hola, viajero." {
		t.Fatalf("reply = %q, want trimmed reply", reply)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if gotModel != "llama-3.1-8b-instant" || gotMessages != 2 {
		t.Fatalf("request model=%q messages=%d, want default model and 2 messages", gotModel, gotMessages)
	}
}

func TestGroqClientCompleteDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewGroqClient("test-key", srv.URL, "m", time.Second)
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hola"}})
	var se *reliability.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("Complete() error = %v, want status 400", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
