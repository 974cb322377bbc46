package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	apperrors "github.com/memorycore/memorycore/pkg/errors"
	"github.com/memorycore/memorycore/pkg/resilience"
)

func TestOllamaClient_GenerateReturnsResponseText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"hello there","done":true}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3", nil, nil)
	out, err := client.Generate(context.Background(), "say hi", memcore.GenerateOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", out)
	}
}

func TestOllamaClient_RateLimitReturnsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3", nil, nil)
	_, err := client.Generate(context.Background(), "x", memcore.GenerateOptions{Timeout: 5 * time.Second})
	kind, ok := apperrors.KindOf(err)
	if !ok || kind != apperrors.KindSystemRateLimited {
		t.Fatalf("expected KindSystemRateLimited, got %v (ok=%v)", kind, ok)
	}
}

func TestOllamaClient_CircuitOpenRejectsBeforeCall(t *testing.T) {
	circuit := resilience.NewCircuit("llm-test", resilience.CircuitConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})
	circuit.RecordFailure()
	if circuit.State() != resilience.StateOpen {
		t.Fatalf("expected circuit to be open after one failure with threshold 1")
	}

	client := NewOllamaClient("http://unused.invalid", "llama3", circuit, nil)
	_, err := client.Generate(context.Background(), "x", memcore.GenerateOptions{})
	kind, ok := apperrors.KindOf(err)
	if !ok || kind != apperrors.KindSystemCircuitOpen {
		t.Fatalf("expected KindSystemCircuitOpen, got %v (ok=%v)", kind, ok)
	}
}
