package contextbuilder

import (
	"strings"
	"testing"
)

func TestRenderOmitsEmptySections(t *testing.T) {
	out := Render(4.0,
		Section{Title: "graph", Body: "", MaxTokens: 100},
		Section{Title: "recent", Body: "hello", MaxTokens: 0},
	)
	if out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestRenderTruncatesPerSectionBudget(t *testing.T) {
	long := strings.Repeat("word ", 200)
	out := Render(4.0, Section{Title: "memories", MaxTokens: 10, Body: long})
	if len(out) > 10*4+len("## memories\n")+1 {
		t.Fatalf("section exceeded its own budget: %d chars", len(out))
	}
}

func TestRenderKeepsBothSectionsWithinTheirOwnBudgets(t *testing.T) {
	out := Render(4.0,
		Section{Title: "graph", Body: "entity A knows entity B", MaxTokens: 50},
		Section{Title: "recent", Body: "user: hi\nassistant: hello", MaxTokens: 50},
	)
	if !strings.Contains(out, "## graph") || !strings.Contains(out, "## recent") {
		t.Fatalf("expected both sections present, got %q", out)
	}
}

func TestTruncateBacksOffToNewline(t *testing.T) {
	body := strings.Repeat("a", 20) + "\n" + strings.Repeat("b", 20)
	got := truncate(body, 25)
	if strings.Contains(got, "b") {
		t.Fatalf("expected truncation to stop before the second line, got %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("", 4.0); got < 0 {
		t.Fatalf("EstimateTokens(\"\") = %d, want >= 0", got)
	}
	if got := EstimateTokens("abcdefgh", 4.0); got < 1 {
		t.Fatalf("EstimateTokens(8 chars, 4 chars/token) = %d, want >= 1", got)
	}
}
