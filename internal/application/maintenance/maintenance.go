// Package maintenance implements the periodic GC runner: eight ordered,
// independently-dry-runnable phases over the session archive, long-term
// store, and knowledge graph. Each phase catches and logs its own
// failure and reports it without aborting the phases after it.
package maintenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/memorycore/memorycore/internal/domain/graph"
	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
	"github.com/memorycore/memorycore/internal/infrastructure/textutil"
	"github.com/memorycore/memorycore/internal/infrastructure/vectorstore"
	"github.com/memorycore/memorycore/pkg/errors"
	"github.com/memorycore/memorycore/pkg/safego"
)

// CredentialPool cycles through a fixed set of LLM clients, one per
// credential, so a long summarization pass spreads load (and rate limits)
// across more than one account instead of hammering a single one.
type CredentialPool struct {
	clients []memcore.LLMClient
	next    uint64
}

// NewCredentialPool creates a pool over clients. It panics if clients is
// empty: a pool with nothing to rotate through is a caller bug, not a
// runtime condition to recover from.
func NewCredentialPool(clients ...memcore.LLMClient) *CredentialPool {
	if len(clients) == 0 {
		panic("maintenance: NewCredentialPool requires at least one client")
	}
	return &CredentialPool{clients: clients}
}

// Next returns the next client in round-robin order.
func (p *CredentialPool) Next() memcore.LLMClient {
	i := atomic.AddUint64(&p.next, 1)
	return p.clients[int(i-1)%len(p.clients)]
}

// PhaseResult reports one phase's outcome.
type PhaseResult struct {
	Name   string
	Count  int
	DryRun bool
	Err    error
}

// Report is the result of one RunFull pass.
type Report struct {
	Phases []PhaseResult
}

// Runner owns the maintenance job's named lock (so two runs never overlap)
// and every collaborator the eight phases need.
type Runner struct {
	conn        *storage.ConnectionManager
	longTerm    *vectorstore.LongTermStore
	graph       *graph.Graph
	graphPath   string
	sanitizer   *textutil.Sanitizer
	credentials *CredentialPool
	cfg         config.MaintenanceConfig
	logger      *zap.Logger
	now         func() time.Time

	running atomic.Bool
}

// Config bundles the constructor's dependencies.
type Config struct {
	Conn        *storage.ConnectionManager
	LongTerm    *vectorstore.LongTermStore
	Graph       *graph.Graph
	GraphPath   string
	Credentials *CredentialPool
	Maintenance config.MaintenanceConfig
	Logger      *zap.Logger
}

// NewRunner creates a Runner over cfg.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		conn:        cfg.Conn,
		longTerm:    cfg.LongTerm,
		graph:       cfg.Graph,
		graphPath:   cfg.GraphPath,
		sanitizer:   textutil.NewSanitizer(),
		credentials: cfg.Credentials,
		cfg:         cfg.Maintenance,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// errAlreadyRunning is returned by RunFull when another pass is already
// in flight; maintenance passes must not run concurrently with
// themselves.
var errAlreadyRunning = errors.New(errors.KindSystemInternal, "maintenance: a pass is already running")

// RunFull runs all eight phases in order. Each phase's own error is
// captured in its PhaseResult rather than aborting the run; only the
// named-lock conflict stops the whole pass before phase 1.
func (r *Runner) RunFull(ctx context.Context, dryRun bool) Report {
	if !r.running.CompareAndSwap(false, true) {
		return Report{Phases: []PhaseResult{{Name: "lock", Err: errAlreadyRunning}}}
	}
	defer r.running.Store(false)

	phases := []func(context.Context, bool) PhaseResult{
		r.sanitizePhase,
		r.summarizeLongTurnsPhase,
		r.hashDedupPhase,
		r.decaySweepPhase,
		r.archiveCleanupPhase,
		r.accessPatternCleanupPhase,
		r.graphCleanupPhase,
		r.compactPhase,
	}

	var report Report
	for _, phase := range phases {
		result := phase(ctx, dryRun)
		if result.Err != nil {
			r.logger.Error("maintenance phase failed",
				zap.String("phase", result.Name), zap.Error(result.Err))
		} else {
			r.logger.Info("maintenance phase complete",
				zap.String("phase", result.Name), zap.Int("count", result.Count), zap.Bool("dry_run", dryRun))
		}
		report.Phases = append(report.Phases, result)
	}
	return report
}

// sanitizePhase re-canonicalizes stored turn and memory content, in case it
// was written before the sanitizer's rules changed or bypassed ingestion.
func (r *Runner) sanitizePhase(ctx context.Context, dryRun bool) PhaseResult {
	const name = "sanitize"
	var rows []storage.MessageModel
	if err := r.conn.GetConnection().WithContext(ctx).Find(&rows).Error; err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("load messages: %w", err)}
	}

	count := 0
	for _, row := range rows {
		clean := r.sanitizer.Sanitize(row.Content)
		if clean == row.Content {
			continue
		}
		count++
		if dryRun {
			continue
		}
		if err := r.conn.GetConnection().WithContext(ctx).Model(&storage.MessageModel{}).
			Where("id = ?", row.ID).Update("content", clean).Error; err != nil {
			return PhaseResult{Name: name, Count: count, Err: fmt.Errorf("update message %d: %w", row.ID, err)}
		}
	}

	memories, err := r.longTerm.All(ctx)
	if err != nil {
		return PhaseResult{Name: name, Count: count, Err: fmt.Errorf("load memories: %w", err)}
	}
	var dirty []string
	cleaned := make(map[string]string)
	for _, m := range memories {
		clean := r.sanitizer.Sanitize(m.Content)
		if clean != m.Content {
			dirty = append(dirty, m.ID.String())
			cleaned[m.ID.String()] = clean
		}
	}
	count += len(dirty)
	if !dryRun && len(dirty) > 0 {
		if _, err := r.longTerm.BatchUpdateMetadata(ctx, dirty, func(m *memcore.Memory) {
			m.Content = cleaned[m.ID.String()]
		}); err != nil {
			return PhaseResult{Name: name, Count: count, Err: fmt.Errorf("update memories: %w", err)}
		}
	}

	return PhaseResult{Name: name, Count: count, DryRun: dryRun}
}

// summarizeLongTurnsPhase compresses turns longer than longTurnChars
// (4000) characters via the LLM, retrying each with exponential backoff and
// spreading calls across the rotating credential pool, bounded by a
// worker-pool concurrency cap.
func (r *Runner) summarizeLongTurnsPhase(ctx context.Context, dryRun bool) PhaseResult {
	const name = "summarize_long_turns"
	const longTurnChars = 4000

	var rows []storage.MessageModel
	if err := r.conn.GetConnection().WithContext(ctx).
		Where("length(content) > ?", longTurnChars).Find(&rows).Error; err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("load long turns: %w", err)}
	}
	if dryRun || len(rows) == 0 {
		return PhaseResult{Name: name, Count: len(rows), DryRun: dryRun}
	}
	if r.credentials == nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("summarize long turns: no credential pool configured")}
	}

	poolSize := r.cfg.SummarizeWorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	sem := semaphore.NewWeighted(int64(poolSize))

	var count int64
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, row := range rows {
		row := row
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		safego.Go(r.logger, "maintenance-summarize-turn", func() {
			defer sem.Release(1)
			defer wg.Done()

			summary, err := r.summarizeWithRetry(ctx, row.Content)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if uerr := r.conn.GetConnection().WithContext(ctx).Model(&storage.MessageModel{}).
				Where("id = ?", row.ID).Update("content", summary).Error; uerr == nil {
				atomic.AddInt64(&count, 1)
			}
		})
	}
	wg.Wait()

	return PhaseResult{Name: name, Count: int(count), Err: firstErr}
}

func (r *Runner) summarizeWithRetry(ctx context.Context, content string) (string, error) {
	op := func() (string, error) {
		client := r.credentials.Next()
		out, err := client.Generate(ctx, "Summarize this concisely, preserving key facts:\n\n"+content,
			memcore.GenerateOptions{Temperature: 0.2, MaxTokens: 400, Timeout: 20 * time.Second})
		if err != nil {
			if errors.IsRetryable(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return strings.TrimSpace(out), nil
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

// hashDedupPhase groups memories by the SHA-256 of their normalized
// (lowercased, trimmed, first-500-char) content and deletes every
// colliding memory except the one with the highest importance.
func (r *Runner) hashDedupPhase(ctx context.Context, dryRun bool) PhaseResult {
	const name = "hash_dedup"
	memories, err := r.longTerm.All(ctx)
	if err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("load memories: %w", err)}
	}

	byHash := make(map[string][]*memcore.Memory)
	for _, m := range memories {
		byHash[contentHash(m.Content)] = append(byHash[contentHash(m.Content)], m)
	}

	var toDelete []string
	for _, group := range byHash {
		if len(group) < 2 {
			continue
		}
		best := group[0]
		for _, m := range group[1:] {
			if m.Importance > best.Importance {
				best = m
			}
		}
		for _, m := range group {
			if m.ID != best.ID {
				toDelete = append(toDelete, m.ID.String())
			}
		}
	}

	if dryRun || len(toDelete) == 0 {
		return PhaseResult{Name: name, Count: len(toDelete), DryRun: dryRun}
	}
	if err := r.longTerm.Delete(ctx, toDelete); err != nil {
		return PhaseResult{Name: name, Count: 0, Err: fmt.Errorf("delete duplicate memories: %w", err)}
	}
	return PhaseResult{Name: name, Count: len(toDelete)}
}

func contentHash(content string) string {
	norm := strings.TrimSpace(strings.ToLower(content))
	if r := []rune(norm); len(r) > 500 {
		norm = string(r[:500])
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// decaySweepPhase applies the same decay-and-delete predicate as
// LongTermStore.Consolidate. In dry-run mode no decay scoring runs and
// Count is the total number of stored memories.
func (r *Runner) decaySweepPhase(ctx context.Context, dryRun bool) PhaseResult {
	const name = "decay_sweep"
	if dryRun {
		memories, err := r.longTerm.All(ctx)
		if err != nil {
			return PhaseResult{Name: name, Err: err}
		}
		return PhaseResult{Name: name, Count: len(memories), DryRun: true}
	}
	report, err := r.longTerm.Consolidate(ctx)
	if err != nil {
		return PhaseResult{Name: name, Err: err}
	}
	return PhaseResult{Name: name, Count: report.Deleted}
}

// archiveCleanupPhase removes archived turns older than the configured
// retention window.
func (r *Runner) archiveCleanupPhase(ctx context.Context, dryRun bool) PhaseResult {
	return r.ageBoundCleanup(ctx, "archive_cleanup", &storage.ArchivedMessageModel{}, "timestamp", r.cfg.ArchiveRetentionDays, dryRun)
}

// accessPatternCleanupPhase removes interaction-log rows older than the
// configured access-pattern retention window.
func (r *Runner) accessPatternCleanupPhase(ctx context.Context, dryRun bool) PhaseResult {
	return r.ageBoundCleanup(ctx, "access_pattern_cleanup", &storage.InteractionLogModel{}, "ts", r.cfg.AccessLogRetentionDays, dryRun)
}

func (r *Runner) ageBoundCleanup(ctx context.Context, name string, model any, column string, retentionDays int, dryRun bool) PhaseResult {
	cutoff := r.now().AddDate(0, 0, -retentionDays)
	db := r.conn.GetConnection().WithContext(ctx).Model(model).Where(column+" < ?", cutoff)

	var count int64
	if err := db.Count(&count).Error; err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("count stale rows: %w", err)}
	}
	if dryRun || count == 0 {
		return PhaseResult{Name: name, Count: int(count), DryRun: dryRun}
	}
	if err := r.conn.GetConnection().WithContext(ctx).Where(column+" < ?", cutoff).Delete(model).Error; err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("delete stale rows: %w", err)}
	}
	return PhaseResult{Name: name, Count: int(count)}
}

// graphCleanupPhase deletes entities below the mention/age floor (and
// their incident relations first via Graph.DeleteEntities), then prunes
// every relation under the configured weight floor along with any orphan
// left over, and persists the result.
func (r *Runner) graphCleanupPhase(ctx context.Context, dryRun bool) PhaseResult {
	const name = "graph_cleanup"
	maxAge := time.Duration(r.cfg.GraphMinEntityAgeDays) * 24 * time.Hour
	staleIDs := r.graph.StaleEntities(r.cfg.GraphMinEntityMentions, maxAge, r.now())

	if dryRun {
		return PhaseResult{Name: name, Count: len(staleIDs), DryRun: true}
	}

	r.graph.DeleteEntities(staleIDs)
	removed := r.graph.PruneRelationsBelow(r.cfg.GraphMinRelationWeight)

	if r.graphPath != "" {
		if err := r.graph.Save(r.graphPath); err != nil {
			return PhaseResult{Name: name, Count: len(staleIDs) + removed, Err: fmt.Errorf("persist graph: %w", err)}
		}
	}
	return PhaseResult{Name: name, Count: len(staleIDs) + removed}
}

// compactPhase runs the backend-specific reclaim pass.
func (r *Runner) compactPhase(ctx context.Context, dryRun bool) PhaseResult {
	const name = "compact"
	if dryRun {
		return PhaseResult{Name: name, DryRun: true}
	}
	sqlDB, err := r.conn.SQLDB()
	if err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("unwrap sql.DB: %w", err)}
	}
	if _, err := sqlDB.ExecContext(ctx, "VACUUM"); err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("vacuum: %w", err)}
	}
	if _, err := sqlDB.ExecContext(ctx, "ANALYZE"); err != nil {
		return PhaseResult{Name: name, Err: fmt.Errorf("analyze: %w", err)}
	}
	return PhaseResult{Name: name}
}

// RowCounts reports the row count of every core table, for the
// maintenance CLI's "check" subcommand.
type RowCounts struct {
	Sessions         int64
	Messages         int64
	ArchivedMessages int64
	InteractionLogs  int64
	Memories         int64
	Entities         int
	Relations        int
}

// Check returns current row counts without mutating anything.
func (r *Runner) Check(ctx context.Context) (RowCounts, error) {
	var counts RowCounts
	db := r.conn.GetConnection().WithContext(ctx)

	if err := db.Model(&storage.SessionModel{}).Count(&counts.Sessions).Error; err != nil {
		return counts, fmt.Errorf("count sessions: %w", err)
	}
	if err := db.Model(&storage.MessageModel{}).Count(&counts.Messages).Error; err != nil {
		return counts, fmt.Errorf("count messages: %w", err)
	}
	if err := db.Model(&storage.ArchivedMessageModel{}).Count(&counts.ArchivedMessages).Error; err != nil {
		return counts, fmt.Errorf("count archived messages: %w", err)
	}
	if err := db.Model(&storage.InteractionLogModel{}).Count(&counts.InteractionLogs).Error; err != nil {
		return counts, fmt.Errorf("count interaction logs: %w", err)
	}

	memories, err := r.longTerm.All(ctx)
	if err != nil {
		return counts, fmt.Errorf("count memories: %w", err)
	}
	counts.Memories = int64(len(memories))

	entities, relations := r.graph.Snapshot()
	counts.Entities = len(entities)
	counts.Relations = len(relations)

	return counts, nil
}
