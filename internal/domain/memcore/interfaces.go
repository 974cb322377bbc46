package memcore

import (
	"context"
	"time"
)

// TimeRange bounds a search by creation timestamp.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// SearchFilter narrows a VectorStore query.
type SearchFilter struct {
	MinScore  float32
	TimeRange *TimeRange
	Type      MemoryType
}

// VectorStore is the opaque vector backend LongTermStore is built on,
// exposing Upsert/Query/GetAll/Delete/UpdateMetadata over precomputed
// embeddings.
type VectorStore interface {
	// Upsert stores or replaces a memory. The caller supplies a
	// precomputed embedding so updates never force re-embedding.
	Upsert(ctx context.Context, memory *Memory) error
	// Query performs embedding-similarity search, returning at most k
	// results ordered by descending score.
	Query(ctx context.Context, embedding []float32, k int, filter *SearchFilter) ([]*Memory, error)
	// GetAll streams every stored memory for maintenance passes.
	GetAll(ctx context.Context) ([]*Memory, error)
	// Delete removes the given ids. Missing ids are ignored.
	Delete(ctx context.Context, ids []string) error
	// UpdateMetadata patches non-embedding fields on existing memories
	// without touching their vectors.
	UpdateMetadata(ctx context.Context, ids []string, patch func(*Memory)) (int, error)
}

// GraphStore is the persistence contract KnowledgeGraph delegates to when a
// relational backend is configured instead of the JSON document form.
type GraphStore interface {
	SaveEntity(ctx context.Context, e *Entity) error
	SaveRelation(ctx context.Context, r *Relation) error
	LoadAll(ctx context.Context) ([]*Entity, []*Relation, error)
	DeleteEntities(ctx context.Context, ids []string) error
	DeleteRelations(ctx context.Context, keys []string) error
}

// LLMClient is the collaborator contract for the out-of-scope language
// model transport layer.
type LLMClient interface {
	// Generate produces text for prompt, bounded by the options'
	// timeout. Implementations must surface timeouts and rate limits as
	// typed *errors.Error values.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions configures one LLMClient.Generate call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// EmbeddingClient is the collaborator contract for the out-of-scope
// embedding service.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ExtractedEntity is one candidate entity surfaced by an EntityExtractor.
type ExtractedEntity struct {
	Name       string
	TypeLabel  string
	Confidence float64
}

// EntityExtractor is the optional collaborator contract for native named-
// entity recognition, one of the two capability implementations GraphRAG
// chooses between.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]ExtractedEntity, error)
}
