package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/memorycore/memorycore/internal/domain/memcore"
)

// stubEmbedder returns a deterministic vector derived from character
// codes so near-identical inputs score as near-duplicates.
type stubEmbedder struct{ dim int }

func (e *stubEmbedder) Dimension() int { return e.dim }

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	for i, r := range text {
		v[i%e.dim] += float32(r % 13)
	}
	if len(text) == 0 {
		v[0] = 1
	}
	return v, nil
}

func newTestLongTermStore() *LongTermStore {
	store := NewInMemoryStore()
	embedder := &stubEmbedder{dim: 16}
	return NewLongTermStore(store, embedder, testDecayConfig())
}

func TestLongTermStore_AddRejectsShortLowImportanceContent(t *testing.T) {
	lts := newTestLongTermStore()
	id, err := lts.Add(context.Background(), "hi", memcore.MemoryFact, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != uuid.Nil {
		t.Fatalf("expected rejection (nil uuid), got %v", id)
	}
}

func TestLongTermStore_AddForceBypassesPromotionCriteria(t *testing.T) {
	lts := newTestLongTermStore()
	id, err := lts.Add(context.Background(), "hi", memcore.MemoryFact, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("expected forced add to succeed")
	}
}

func TestLongTermStore_AddMergesDuplicate(t *testing.T) {
	lts := newTestLongTermStore()
	ctx := context.Background()
	content := "the user prefers dark mode in every application"

	first, err := lts.Add(ctx, content, memcore.MemoryPreference, 0.4, false)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	second, err := lts.Add(ctx, content, memcore.MemoryPreference, 0.9, false)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if first != second {
		t.Fatalf("expected duplicate merge to return the same id, got %v and %v", first, second)
	}

	all, err := lts.store.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored memory after merge, got %d", len(all))
	}
	if all[0].Repetitions != 2 {
		t.Fatalf("expected repetitions=2 after merge, got %d", all[0].Repetitions)
	}
	if all[0].Importance != 0.9 {
		t.Fatalf("expected merged importance to take the max (0.9), got %v", all[0].Importance)
	}
}

func TestLongTermStore_SearchRefreshesAccessMetadata(t *testing.T) {
	lts := newTestLongTermStore()
	ctx := context.Background()
	id, err := lts.Add(ctx, "the project uses a circuit breaker pattern", memcore.MemoryInsight, 0.6, false)
	if err != nil || id == uuid.Nil {
		t.Fatalf("add: %v", err)
	}

	results, err := lts.Search(ctx, "circuit breaker pattern", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one search result")
	}
	if results[0].AccessCount != 1 {
		t.Fatalf("expected access count to be incremented to 1, got %d", results[0].AccessCount)
	}
}

func TestLongTermStore_Consolidate_DeletesLowValueMemory(t *testing.T) {
	lts := newTestLongTermStore()
	ctx := context.Background()

	old := &memcore.Memory{
		ID:           uuid.New(),
		Content:      "ephemeral note",
		Type:         memcore.MemoryEvent,
		Importance:   0.05,
		Repetitions:  1,
		AccessCount:  0,
		CreatedAt:    time.Now().Add(-30 * 24 * time.Hour),
		LastAccessed: time.Now().Add(-30 * 24 * time.Hour),
		Embedding:    make([]float32, 16),
	}
	if err := lts.store.Upsert(ctx, old); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := lts.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d (report=%+v)", report.Deleted, report)
	}

	all, _ := lts.store.GetAll(ctx)
	if len(all) != 0 {
		t.Fatalf("expected memory to be deleted, still have %d", len(all))
	}
}

func TestLongTermStore_Consolidate_PreservesHighRepetitionMemory(t *testing.T) {
	lts := newTestLongTermStore()
	ctx := context.Background()

	frequent := &memcore.Memory{
		ID:           uuid.New(),
		Content:      "the user always asks about deployment status",
		Type:         memcore.MemoryPreference,
		Importance:   0.7,
		Repetitions:  5,
		AccessCount:  10,
		CreatedAt:    time.Now().Add(-10 * 24 * time.Hour),
		LastAccessed: time.Now(),
		Embedding:    make([]float32, 16),
	}
	if err := lts.store.Upsert(ctx, frequent); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := lts.Consolidate(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if report.Preserved != 1 {
		t.Fatalf("expected 1 preserved memory, got %d", report.Preserved)
	}

	all, _ := lts.store.GetAll(ctx)
	if len(all) != 1 || !all[0].Preserved {
		t.Fatalf("expected preserved flag set on surviving memory")
	}
}
