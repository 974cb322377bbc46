package facade

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/memorycore/memorycore/internal/application/graphrag"
	"github.com/memorycore/memorycore/internal/application/maintenance"
	"github.com/memorycore/memorycore/internal/domain/graph"
	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/sessionstore"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
	"github.com/memorycore/memorycore/internal/infrastructure/textutil"
	"github.com/memorycore/memorycore/internal/infrastructure/vectorstore"
	"github.com/memorycore/memorycore/pkg/resilience"
)

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, prompt string, opts memcore.GenerateOptions) (string, error) {
	return `{"entities":[],"relations":[]}`, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (stubEmbedder) Dimension() int { return 3 }

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	conn, err := storage.NewConnectionManager(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConnectionManager: %v", err)
	}
	if err := storage.NewSchemaManager(conn).Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	cfg := &config.Config{
		Budget: config.BudgetConfig{
			CharsPerToken:     4.0,
			SessionSummaryMax: 100,
			SessionSearchMax:  100,
			GraphContextMax:   100,
		},
		GraphRAG: config.GraphRAGConfig{
			NERConfidenceThreshold: 0.8,
			LLMInvokeTextLength:    200,
			EntityImportanceFloor:  0.0,
			MaxEntities:            10,
			MaxDepth:               2,
			MaxRelations:           10,
		},
		Maintenance: config.MaintenanceConfig{
			ArchiveRetentionDays:    90,
			AccessLogRetentionDays:  30,
			GraphMinEntityAgeDays:   30,
			GraphMinEntityMentions:  3,
			GraphMinRelationWeight:  0.1,
			SummarizeWorkerPoolSize: 2,
		},
	}

	decayCfg := config.DecayConfig{PreserveRepetitions: 5, DecayDeleteThreshold: 0.1}
	longTerm := vectorstore.NewLongTermStore(vectorstore.NewInMemoryStore(), stubEmbedder{}, decayCfg)
	kg := graph.New()
	rag := graphrag.New(kg, stubLLM{}, nil, cfg.GraphRAG)
	runner := maintenance.NewRunner(maintenance.Config{
		Conn:        conn,
		LongTerm:    longTerm,
		Graph:       kg,
		Credentials: maintenance.NewCredentialPool(stubLLM{}),
		Maintenance: cfg.Maintenance,
		Logger:      zap.NewNop(),
	})

	return &Memory{
		cfg:               cfg,
		conn:              conn,
		sessions:          sessionstore.NewRepository(conn, cfg.Budget),
		summarizer:        sessionstore.NewSummarizer(conn, stubLLM{}),
		interactionLogger: sessionstore.NewInteractionLogger(conn),
		longTerm:          longTerm,
		vecStore:          vectorstore.NewInMemoryStore(),
		sanitizer:         textutil.NewSanitizer(),
		graph:             kg,
		graphRAG:          rag,
		maintenance:       runner,
		logger:            zap.NewNop(),
		graphCache:        resilience.NewCache[string, string](64, 0),
	}
}

func TestRememberPromotesContentIntoLongTermStore(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	id, err := m.Remember(ctx, "the user prefers dark mode interfaces", memcore.MemoryPreference, 0.8, true)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if id.String() == "" {
		t.Fatalf("expected a non-empty memory id")
	}

	memories, err := m.longTerm.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(memories))
	}
}

func TestQueryMergesSectionsWithinBudget(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.Remember(ctx, "the user's favorite programming language is Go", memcore.MemoryFact, 0.9, true); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	result, err := m.Query(ctx, "what language does the user like")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Memories) == 0 {
		t.Fatalf("expected at least one memory hit")
	}
}

func TestCheckReflectsStoredState(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.Remember(ctx, "a durable fact worth recalling later", memcore.MemoryFact, 0.5, true); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	counts, err := m.Check(ctx)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if counts.Memories != 1 {
		t.Fatalf("expected 1 memory, got %d", counts.Memories)
	}
}
