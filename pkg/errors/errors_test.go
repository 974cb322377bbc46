package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorSerialization(t *testing.T) {
	t.Run("retryable prefix present", func(t *testing.T) {
		err := New(KindFetchTimeout, "request timed out")
		if !strings.HasPrefix(err.Error(), "[RETRYABLE] [E201]") {
			t.Errorf("unexpected serialization: %s", err.Error())
		}
	})

	t.Run("non-retryable kind has no prefix", func(t *testing.T) {
		err := New(KindInputInvalidParam, "bad param")
		if strings.Contains(err.Error(), "RETRYABLE") {
			t.Errorf("expected no retryable marker, got %s", err.Error())
		}
	})

	t.Run("wrapped cause appears in message", func(t *testing.T) {
		cause := errors.New("dial tcp: refused")
		err := Wrap(KindHostUnreachable, "connecting to llm", cause)
		if !strings.Contains(err.Error(), "refused") {
			t.Errorf("expected cause in message, got %s", err.Error())
		}
	})
}

func TestKindOfAndRetryable(t *testing.T) {
	err := New(KindMemoryEmbeddingFail, "embed failed")
	kind, ok := KindOf(err)
	if !ok || kind != KindMemoryEmbeddingFail {
		t.Fatalf("expected kind %s, got %s (ok=%v)", KindMemoryEmbeddingFail, kind, ok)
	}
	if !IsRetryable(err) {
		t.Error("expected embedding failure to be retryable by default")
	}

	overridden := New(KindSystemInternal, "oops").WithRetryable(true)
	if !IsRetryable(overridden) {
		t.Error("expected explicit retryable override to stick")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(New(KindMemoryNotFound, "no such memory")) {
		t.Error("expected memory-not-found to report IsNotFound")
	}
	if !IsNotFound(New(KindHostEntityMissing, "no such entity")) {
		t.Error("expected host-entity-missing to report IsNotFound")
	}
	if IsNotFound(New(KindSystemInternal, "boom")) {
		t.Error("did not expect internal error to report IsNotFound")
	}
	if IsNotFound(errors.New("plain error")) {
		t.Error("did not expect plain error to report IsNotFound")
	}
}

func TestErrorIsKindComparison(t *testing.T) {
	a := New(KindFetchTimeout, "first")
	b := New(KindFetchTimeout, "second")
	c := New(KindFetchBadURL, "third")

	if !errors.Is(a, b) {
		t.Error("expected same-kind errors to satisfy errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected different-kind errors to not satisfy errors.Is")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindInputOutOfRange, "importance out of range").WithDetail("field", "importance")
	if err.Detail["field"] != "importance" {
		t.Errorf("expected detail to be set, got %#v", err.Detail)
	}
}
