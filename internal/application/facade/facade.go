// Package facade exposes the memory subsystem's stable external surface:
// a single Memory value wired from configuration that unions the session
// archive, long-term store, knowledge graph, and maintenance runner behind
// one Ingest/Query/Close API.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memorycore/memorycore/internal/application/contextbuilder"
	"github.com/memorycore/memorycore/internal/application/graphrag"
	"github.com/memorycore/memorycore/internal/application/maintenance"
	"github.com/memorycore/memorycore/internal/domain/graph"
	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/embedding"
	"github.com/memorycore/memorycore/internal/infrastructure/llm"
	"github.com/memorycore/memorycore/internal/infrastructure/sessionstore"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
	"github.com/memorycore/memorycore/internal/infrastructure/textutil"
	"github.com/memorycore/memorycore/internal/infrastructure/vectorstore"
	"github.com/memorycore/memorycore/pkg/resilience"
)

// Registry bundles the circuits and caches every collaborator shares,
// threaded explicitly instead of read from package-level globals.
type Registry struct {
	Circuits *resilience.Registry
	Caches   *resilience.CacheRegistry
}

// NewRegistry builds a Registry with the three named circuits the memory
// core's outbound calls protect: llm, research, embedding.
func NewRegistry(cfg config.CircuitConfigs) *Registry {
	circuits := resilience.NewRegistry()
	circuits.GetCircuit("llm", resilience.CircuitConfig(cfg.LLM))
	circuits.GetCircuit("research", resilience.CircuitConfig(cfg.Research))
	circuits.GetCircuit("embedding", resilience.CircuitConfig(cfg.Embedding))
	return &Registry{Circuits: circuits, Caches: resilience.NewCacheRegistry()}
}

// Memory is the assembled memory subsystem: short-term archive, long-term
// store, knowledge graph, and the maintenance runner, exposed as one
// value so a caller never has to wire collaborators itself.
type Memory struct {
	cfg *config.Config

	conn       *storage.ConnectionManager
	sessions   *sessionstore.Repository
	summarizer *sessionstore.Summarizer
	interactionLogger *sessionstore.InteractionLogger

	longTerm  *vectorstore.LongTermStore
	vecStore  memcore.VectorStore
	sanitizer *textutil.Sanitizer

	graph       *graph.Graph
	graphStore  *graph.SQLGraphStore
	graphRAG    *graphrag.GraphRAG

	maintenance *maintenance.Runner

	registry *Registry
	logger   *zap.Logger

	graphCache *resilience.Cache[string, string]
}

// New assembles a Memory value from cfg. The vector store backend (LanceDB
// or in-memory) and the knowledge graph's persisted snapshot (SQL table or
// JSON document) are both chosen from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Memory, error) {
	conn, err := storage.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	schema := storage.NewSchemaManager(conn)
	if err := schema.Migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	registry := NewRegistry(cfg.Circuits)

	embedder := embedding.NewOllamaEmbedder(cfg.Services.EmbeddingBaseURL, cfg.Services.EmbeddingModel, cfg.VectorStore.Dimension, logger)

	llmCircuit := registry.Circuits.GetCircuit("llm", resilience.CircuitConfig(cfg.Circuits.LLM))
	llmClient := llm.NewOllamaClient(cfg.Services.LLMBaseURL, cfg.Services.LLMModel, llmCircuit, logger)

	vecStore, err := newVectorStore(cfg.VectorStore, logger)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("build vector store: %w", err)
	}
	longTerm := vectorstore.NewLongTermStore(vecStore, embedder, cfg.Decay)

	usesSQLGraph := cfg.Database.Type == "postgres"
	kg, graphStore, err := loadGraph(conn, cfg.Paths.GraphPath, usesSQLGraph)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("load knowledge graph: %w", err)
	}

	rag := graphrag.New(kg, llmClient, nil, cfg.GraphRAG)

	sessions := sessionstore.NewRepository(conn, cfg.Budget)
	summarizer := sessionstore.NewSummarizer(conn, llmClient)
	interactionLogger := sessionstore.NewInteractionLogger(conn)

	jsonGraphPath := cfg.Paths.GraphPath
	if usesSQLGraph {
		jsonGraphPath = ""
	}
	runner := maintenance.NewRunner(maintenance.Config{
		Conn:        conn,
		LongTerm:    longTerm,
		Graph:       kg,
		GraphPath:   jsonGraphPath,
		Credentials: maintenance.NewCredentialPool(llmClient),
		Maintenance: cfg.Maintenance,
		Logger:      logger,
	})

	return &Memory{
		cfg:               cfg,
		conn:              conn,
		sessions:          sessions,
		summarizer:        summarizer,
		interactionLogger: interactionLogger,
		longTerm:          longTerm,
		vecStore:          vecStore,
		sanitizer:         textutil.NewSanitizer(),
		graph:             kg,
		graphStore:        graphStore,
		graphRAG:          rag,
		maintenance:       runner,
		registry:          registry,
		logger:            logger,
		graphCache:        resilience.GraphQueryCache(registry.Caches),
	}, nil
}

func newVectorStore(cfg config.VectorStoreConfig, logger *zap.Logger) (memcore.VectorStore, error) {
	switch cfg.Type {
	case "lancedb":
		return vectorstore.NewLanceDBStore(cfg.Path, cfg.Dimension, logger)
	default:
		return vectorstore.NewInMemoryStore(), nil
	}
}

// loadGraph builds the knowledge graph from a postgres-backed SQLGraphStore
// when useSQL is set (multi-node deployments sharing one relational
// backend), or from the JSON snapshot file otherwise.
func loadGraph(conn *storage.ConnectionManager, graphPath string, useSQL bool) (*graph.Graph, *graph.SQLGraphStore, error) {
	if !useSQL {
		if graphPath == "" {
			return graph.New(), nil, nil
		}
		g, err := graph.Load(graphPath)
		if err != nil {
			return graph.New(), nil, nil
		}
		return g, nil, nil
	}

	store := graph.NewSQLGraphStore(conn)
	if err := store.AutoMigrate(); err != nil {
		return nil, nil, fmt.Errorf("migrate graph tables: %w", err)
	}
	entities, relations, err := store.LoadAll(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("load graph from sql: %w", err)
	}
	return graph.FromSnapshot(entities, relations), store, nil
}

// syncGraphToSQL persists every in-memory entity and relation through
// graphStore, the write-behind counterpart to loadGraph's SQL read path.
func syncGraphToSQL(ctx context.Context, g *graph.Graph, store *graph.SQLGraphStore) error {
	entities, relations := g.Snapshot()
	for _, e := range entities {
		if err := store.SaveEntity(ctx, e); err != nil {
			return fmt.Errorf("save entity %s: %w", e.ID, err)
		}
	}
	for _, r := range relations {
		if err := store.SaveRelation(ctx, r); err != nil {
			return fmt.Errorf("save relation %s: %w", r.Key(), err)
		}
	}
	return nil
}

// IngestTurn sanitizes content, appends it to the short-term archive, and
// runs knowledge-graph extraction over it. Long-term promotion is left to
// the caller via Remember, since not every turn is worth storing
// permanently.
func (m *Memory) IngestTurn(ctx context.Context, sessionID uuid.UUID, role memcore.Role, content string, emotion string) error {
	clean := m.sanitizer.Sanitize(content)
	if err := m.sessions.AppendTurn(ctx, sessionID, role, clean, time.Now(), emotion); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if _, err := m.graphRAG.ExtractAndStore(ctx, clean); err != nil {
		m.logger.Warn("graph extraction failed", zap.Error(err))
	}
	return nil
}

// Remember promotes content into long-term storage, subject to the
// promotion heuristics unless force is set.
func (m *Memory) Remember(ctx context.Context, content string, typ memcore.MemoryType, importance float64, force bool) (uuid.UUID, error) {
	return m.longTerm.Add(ctx, m.sanitizer.Sanitize(content), typ, importance, force)
}

// LogInteraction records one observability row for an assistant turn.
func (m *Memory) LogInteraction(ctx context.Context, in sessionstore.LogInput) error {
	return m.interactionLogger.Log(ctx, in)
}

// QueryResult is the merged bounded-context block returned by Query,
// ready to hand to a downstream language-model prompt.
type QueryResult struct {
	ContextText string
	Memories    []*memcore.Memory
	Graph       graphrag.QueryResult
}

// Query runs the retrieval flow described in the system overview: graph
// subgraph expansion, long-term similarity search, and recent-session
// summaries, merged into one character-budgeted block via contextbuilder.
func (m *Memory) Query(ctx context.Context, q string) (QueryResult, error) {
	budget := m.cfg.Budget

	graphResult, err := m.cachedGraphQuery(ctx, q)
	if err != nil {
		m.logger.Warn("graph query failed, falling back to keyword-only", zap.Error(err))
		graphResult = m.graphRAG.QueryKeywordOnly(q, 0, 0)
	}

	memories, err := m.longTerm.Search(ctx, q, 10, nil)
	if err != nil {
		m.logger.Warn("long-term search failed", zap.Error(err))
	}

	recent, err := m.sessions.RecentSummaries(ctx, 5)
	if err != nil {
		m.logger.Warn("recent summaries lookup failed", zap.Error(err))
	}

	memoryText := renderMemories(memories)

	merged := contextbuilder.Render(budget.CharsPerToken,
		contextbuilder.Section{Title: "knowledge graph", Body: graphResult.ContextText, MaxTokens: budget.GraphContextMax},
		contextbuilder.Section{Title: "long-term memories", Body: memoryText, MaxTokens: budget.SessionSearchMax},
		contextbuilder.Section{Title: "recent sessions", Body: recent, MaxTokens: budget.SessionSummaryMax},
	)

	return QueryResult{ContextText: merged, Memories: memories, Graph: graphResult}, nil
}

func (m *Memory) cachedGraphQuery(ctx context.Context, q string) (graphrag.QueryResult, error) {
	if cached, ok := m.graphCache.Get(q); ok {
		return graphrag.QueryResult{ContextText: cached}, nil
	}
	result, err := m.graphRAG.Query(ctx, q, 0, 0)
	if err != nil {
		return graphrag.QueryResult{}, err
	}
	m.graphCache.Set(q, result.ContextText)
	return result, nil
}

func renderMemories(memories []*memcore.Memory) string {
	var out string
	for _, mem := range memories {
		out += "- " + mem.Content + "\n"
	}
	return out
}

// RunMaintenance runs the eight-phase maintenance pass.
func (m *Memory) RunMaintenance(ctx context.Context, dryRun bool) maintenance.Report {
	return m.maintenance.RunFull(ctx, dryRun)
}

// SummarizeExpiredSessions runs the short-term archive's expiry sweep.
func (m *Memory) SummarizeExpiredSessions(ctx context.Context) (sessionstore.SummarizationReport, error) {
	return m.summarizer.SummarizeExpired(ctx)
}

// Check reports row counts across every store, for the CLI's health
// command.
func (m *Memory) Check(ctx context.Context) (maintenance.RowCounts, error) {
	return m.maintenance.Check(ctx)
}

// Close releases every owned resource. A failure to persist the graph or
// close the vector store is logged but does not prevent the database
// connection from closing.
func (m *Memory) Close() error {
	if m.graphStore != nil {
		if err := syncGraphToSQL(context.Background(), m.graph, m.graphStore); err != nil {
			m.logger.Warn("failed to sync graph to sql store on close", zap.Error(err))
		}
	} else if m.cfg.Paths.GraphPath != "" {
		if err := m.graph.Save(m.cfg.Paths.GraphPath); err != nil {
			m.logger.Warn("failed to persist graph snapshot on close", zap.Error(err))
		}
	}
	if closer, ok := m.vecStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			m.logger.Warn("failed to close vector store", zap.Error(err))
		}
	}
	return m.conn.Close()
}
