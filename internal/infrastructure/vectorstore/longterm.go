// Package vectorstore implements the long-term memory tier: the pure
// DecayCalculator, the pluggable VectorStore backends (LanceDB and
// in-memory), and LongTermStore, which exposes an
// Add/Search/BatchUpdateMetadata/Delete/Consolidate surface over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	apperrors "github.com/memorycore/memorycore/pkg/errors"
)

// Default promotion/consolidation thresholds not already exposed through
// config.
const (
	minPromotableContentLen = 12
	duplicateSimilarity     = 0.92
)

// LongTermStore is the vector-backed store with consolidation and
// promotion heuristics layered on top.
type LongTermStore struct {
	store    memcore.VectorStore
	embedder memcore.EmbeddingClient
	decay    *DecayCalculator
	cfg      config.DecayConfig
	now      func() time.Time
}

// NewLongTermStore creates a LongTermStore over store and embedder.
func NewLongTermStore(store memcore.VectorStore, embedder memcore.EmbeddingClient, cfg config.DecayConfig) *LongTermStore {
	return &LongTermStore{
		store:    store,
		embedder: embedder,
		decay:    NewDecayCalculator(cfg),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Add embeds content and stores it as a new memory, unless force is false
// and the promotion criteria reject it, or a near-duplicate already
// exists (in which case the duplicate is merged and its id returned).
// Returns a nil uuid.UUID pointer-equivalent (uuid.Nil) when rejected.
func (s *LongTermStore) Add(ctx context.Context, content string, typ memcore.MemoryType, importance float64, force bool) (uuid.UUID, error) {
	if !force && !meetsPromotionCriteria(content, importance) {
		return uuid.Nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.KindMemoryEmbeddingFail, "embed memory content", err)
	}

	existing, err := s.store.Query(ctx, embedding, 1, &memcore.SearchFilter{MinScore: duplicateSimilarity})
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.KindMemoryStoreFailed, "duplicate lookup", err)
	}
	if len(existing) > 0 {
		dup := existing[0]
		now := s.now()
		_, err := s.store.UpdateMetadata(ctx, []string{dup.ID.String()}, func(m *memcore.Memory) {
			m.Repetitions++
			if importance > m.Importance {
				m.Importance = importance
			}
			m.LastAccessed = now
		})
		if err != nil {
			return uuid.Nil, apperrors.Wrap(apperrors.KindMemoryStoreFailed, "merge duplicate memory", err)
		}
		return dup.ID, nil
	}

	now := s.now()
	id := uuid.New()
	memory := &memcore.Memory{
		ID:           id,
		Content:      content,
		Type:         typ,
		Importance:   importance,
		Repetitions:  1,
		AccessCount:  0,
		CreatedAt:    now,
		LastAccessed: now,
		Embedding:    embedding,
	}
	if err := s.store.Upsert(ctx, memory); err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.KindMemoryStoreFailed, "store memory", err)
	}
	return id, nil
}

// meetsPromotionCriteria implements the content-length and importance
// heuristics gating admission into long-term storage when force is false.
func meetsPromotionCriteria(content string, importance float64) bool {
	return len(content) >= minPromotableContentLen && importance > 0
}

// Search performs embedding similarity search, refreshing access metadata
// on every hit.
func (s *LongTermStore) Search(ctx context.Context, query string, k int, filter *memcore.SearchFilter) ([]*memcore.Memory, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindMemoryEmbeddingFail, "embed search query", err)
	}

	results, err := s.store.Query(ctx, embedding, k, filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindMemoryRetrieveFailed, "query memories", err)
	}

	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, 0, len(results))
	for _, m := range results {
		ids = append(ids, m.ID.String())
	}
	now := s.now()
	_, err = s.store.UpdateMetadata(ctx, ids, func(m *memcore.Memory) {
		m.AccessCount++
		m.LastAccessed = now
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindMemoryStoreFailed, "refresh access metadata", err)
	}
	for _, m := range results {
		m.AccessCount++
		m.LastAccessed = now
	}
	return results, nil
}

// BatchUpdateMetadata applies patch to every id, returning the count
// actually updated.
func (s *LongTermStore) BatchUpdateMetadata(ctx context.Context, ids []string, patch func(*memcore.Memory)) (int, error) {
	count, err := s.store.UpdateMetadata(ctx, ids, patch)
	if err != nil {
		return count, apperrors.Wrap(apperrors.KindMemoryStoreFailed, "batch update metadata", err)
	}
	return count, nil
}

// Delete removes the given memory ids.
func (s *LongTermStore) Delete(ctx context.Context, ids []string) error {
	if err := s.store.Delete(ctx, ids); err != nil {
		return apperrors.Wrap(apperrors.KindMemoryStoreFailed, "delete memories", err)
	}
	return nil
}

// All streams every stored memory, for maintenance passes (hash dedup)
// that need full visibility beyond what Consolidate's own internal stages
// expose.
func (s *LongTermStore) All(ctx context.Context) ([]*memcore.Memory, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindMemoryRetrieveFailed, "stream memories", err)
	}
	return all, nil
}

// ConsolidationReport summarizes one Consolidate pass. StageErrors holds
// one entry per failing stage; a stage failing does not prevent later
// stages from running.
type ConsolidationReport struct {
	Checked          int
	Preserved        int
	Deleted          int
	SurvivingUpdated int
	StageErrors      []error
}

// Consolidate runs the five-stage consolidation pass: streaming every
// memory, preserve-marking, decay scoring, deletion of decayed-below-threshold memories, and
// importance updates on the survivors. Each stage is independent: a
// failure in one stage is recorded in StageErrors and logged, but does
// not prevent later stages from running (a stage's own partial progress
// — ids already updated or deleted before a failing call within that
// stage — is not rolled back). The returned error is the join of every
// stage's error, nil if none failed.
func (s *LongTermStore) Consolidate(ctx context.Context) (ConsolidationReport, error) {
	var report ConsolidationReport

	all, err := s.store.GetAll(ctx)
	if err != nil {
		report.StageErrors = append(report.StageErrors, fmt.Errorf("stream memories: %w", err))
		return report, errors.Join(report.StageErrors...)
	}
	report.Checked = len(all)

	var preserveCandidates, evaluationBatch []*memcore.Memory
	for _, m := range all {
		if m.Preserved {
			continue
		}
		if m.Repetitions >= s.cfg.PreserveRepetitions {
			preserveCandidates = append(preserveCandidates, m)
		} else {
			evaluationBatch = append(evaluationBatch, m)
		}
	}

	if len(preserveCandidates) > 0 {
		ids := idsOf(preserveCandidates)
		n, err := s.store.UpdateMetadata(ctx, ids, func(m *memcore.Memory) { m.Preserved = true })
		if err != nil {
			report.StageErrors = append(report.StageErrors, fmt.Errorf("mark preserve candidates: %w", err))
		} else {
			report.Preserved = n
		}
	}

	if len(evaluationBatch) == 0 {
		return report, errors.Join(report.StageErrors...)
	}

	inputs := make([]DecayInput, len(evaluationBatch))
	for i, m := range evaluationBatch {
		inputs[i] = DecayInput{
			Importance:   m.Importance,
			CreatedAt:    m.CreatedAt,
			AccessCount:  m.AccessCount,
			LastAccessed: m.LastAccessed,
			MemoryType:   m.Type,
		}
	}
	decayed := s.decay.CalculateBatch(inputs)

	var deletable []*memcore.Memory
	var surviving []*memcore.Memory
	survivingDecayed := make(map[string]float64)
	for i, m := range evaluationBatch {
		d := decayed[i]
		if d < s.cfg.DecayDeleteThreshold && m.Repetitions < 2 && m.AccessCount < 3 {
			deletable = append(deletable, m)
			continue
		}
		surviving = append(surviving, m)
		survivingDecayed[m.ID.String()] = d
	}

	if len(deletable) > 0 {
		ids := idsOf(deletable)
		if err := s.store.Delete(ctx, ids); err != nil {
			report.StageErrors = append(report.StageErrors, fmt.Errorf("delete decayed memories: %w", err))
		} else {
			report.Deleted = len(ids)
		}
	}

	if len(surviving) > 0 {
		ids := idsOf(surviving)
		n, err := s.store.UpdateMetadata(ctx, ids, func(m *memcore.Memory) {
			if d, ok := survivingDecayed[m.ID.String()]; ok {
				m.Importance = d
				m.DecayedImportance = &d
			}
		})
		if err != nil {
			report.StageErrors = append(report.StageErrors, fmt.Errorf("update surviving memories: %w", err))
		} else {
			report.SurvivingUpdated = n
		}
	}

	return report, errors.Join(report.StageErrors...)
}

func idsOf(memories []*memcore.Memory) []string {
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID.String()
	}
	return ids
}
