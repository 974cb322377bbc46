package resilience

import (
	"testing"
	"time"
)

func TestCircuitOpensAfterFailureThreshold(t *testing.T) {
	c := NewCircuit("test", CircuitConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	if c.State() != StateClosed {
		t.Fatalf("expected new circuit to start closed, got %s", c.State())
	}

	for i := 0; i < 3; i++ {
		if !c.CanExecute() {
			t.Fatalf("expected call %d to be allowed while closed", i)
		}
		c.RecordFailure()
	}

	if c.State() != StateOpen {
		t.Fatalf("expected circuit to trip open after %d failures, got %s", 3, c.State())
	}
	if c.CanExecute() {
		t.Error("expected open circuit to reject calls")
	}
}

func TestCircuitHalfOpenRecovery(t *testing.T) {
	c := NewCircuit("test", CircuitConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	c.RecordFailure()
	if c.State() != StateOpen {
		t.Fatalf("expected circuit open after single failure, got %s", c.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !c.CanExecute() {
		t.Fatal("expected circuit to allow a trial call once timeout elapses")
	}
	if c.State() != StateHalfOpen {
		t.Fatalf("expected half-open state, got %s", c.State())
	}

	c.RecordSuccess()
	if c.State() != StateClosed {
		t.Fatalf("expected circuit to close after successful trial, got %s", c.State())
	}
}

func TestCircuitHalfOpenRejectsOverCap(t *testing.T) {
	c := NewCircuit("test", CircuitConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	c.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !c.CanExecute() {
		t.Fatal("expected the first half-open probe to be admitted")
	}
	if c.CanExecute() {
		t.Error("expected a second concurrent half-open probe to be rejected while the first is in flight")
	}

	c.RecordSuccess()
	if !c.CanExecute() {
		t.Error("expected a probe slot to free up once the in-flight probe completes")
	}
}

func TestCircuitStats(t *testing.T) {
	c := NewCircuit("test", CircuitConfig{FailureThreshold: 10, SuccessThreshold: 1, Timeout: time.Second, HalfOpenMaxCalls: 1})
	c.RecordSuccess()
	c.RecordSuccess()
	c.RecordFailure()

	stats := c.Stats()
	if stats.Total != 3 || stats.Successful != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestRegistryReusesCircuits(t *testing.T) {
	r := NewRegistry()
	a := r.GetCircuit("llm", CircuitConfig{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Second, HalfOpenMaxCalls: 1})
	b := r.GetCircuit("llm", CircuitConfig{FailureThreshold: 99, SuccessThreshold: 99, Timeout: time.Hour, HalfOpenMaxCalls: 99})
	if a != b {
		t.Error("expected second GetCircuit call to return the cached instance")
	}
}

func TestDefaultRegistryHasNamedCircuits(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"llm", "research", "embedding"} {
		c := r.GetCircuit(name, CircuitConfig{})
		if c.Name() != name {
			t.Errorf("expected circuit named %s, got %s", name, c.Name())
		}
		if c.State() != StateClosed {
			t.Errorf("expected %s circuit to start closed", name)
		}
	}
}
