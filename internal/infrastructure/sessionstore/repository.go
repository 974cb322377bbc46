// Package sessionstore implements the short-term session archive: the
// SessionRepository, InteractionLogger, and Summarizer components.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

// Repository implements append/save/read access to sessions and turns: a
// thin struct over *gorm.DB, one method per operation, errors wrapped
// with fmt.Errorf("...: %w", err).
type Repository struct {
	conn   *storage.ConnectionManager
	budget config.BudgetConfig
}

// NewRepository creates a Repository over conn.
func NewRepository(conn *storage.ConnectionManager, budget config.BudgetConfig) *Repository {
	return &Repository{conn: conn, budget: budget}
}

// AppendTurn assigns the next turn index atomically (by locking the
// owning session row for update) and inserts the turn.
func (r *Repository) AppendTurn(ctx context.Context, sessionID uuid.UUID, role memcore.Role, content string, timestamp time.Time, emotion string) error {
	return r.conn.Transaction(func(tx *gorm.DB) error {
		var session storage.SessionModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", sessionID.String()).First(&session).Error; err != nil {
			return fmt.Errorf("load session for append: %w", err)
		}

		nextIndex := session.TurnCount

		msg := storage.MessageModel{
			SessionID:        sessionID.String(),
			TurnID:           nextIndex,
			Role:             string(role),
			Content:          content,
			Timestamp:        timestamp,
			EmotionalContext: emotion,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}

		session.TurnCount = nextIndex + 1
		if err := tx.Save(&session).Error; err != nil {
			return fmt.Errorf("bump turn count: %w", err)
		}
		return nil
	})
}

// SaveSession writes the session header and every supplied turn in one
// transaction; on any failure no partial session is left behind.
func (r *Repository) SaveSession(ctx context.Context, session *memcore.Session, turns []*memcore.Turn) error {
	return r.conn.Transaction(func(tx *gorm.DB) error {
		topicsJSON, err := json.Marshal(session.KeyTopics)
		if err != nil {
			return fmt.Errorf("marshal key topics: %w", err)
		}

		model := storage.SessionModel{
			SessionID:     session.ID.String(),
			Summary:       session.Summary,
			KeyTopics:     string(topicsJSON),
			EmotionalTone: session.EmotionalTone,
			TurnCount:     len(turns),
			StartedAt:     session.StartedAt,
			EndedAt:       session.EndedAt,
			ExpiresAt:     session.ExpiresAt,
			Status:        string(session.Status),
		}
		if err := tx.Save(&model).Error; err != nil {
			return fmt.Errorf("save session header: %w", err)
		}

		for _, turn := range turns {
			msg := storage.MessageModel{
				SessionID:        session.ID.String(),
				TurnID:           turn.TurnIndex,
				Role:             string(turn.Role),
				Content:          turn.Content,
				Timestamp:        turn.Timestamp,
				EmotionalContext: turn.EmotionalContext,
			}
			if err := tx.Create(&msg).Error; err != nil {
				return fmt.Errorf("insert turn %d: %w", turn.TurnIndex, err)
			}
		}
		return nil
	})
}

// SessionMessages returns every turn of sessionID ordered by turn index.
func (r *Repository) SessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*memcore.Turn, error) {
	var rows []storage.MessageModel
	err := r.conn.GetConnection().WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Order("turn_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load session messages: %w", err)
	}
	return toTurns(sessionID, rows), nil
}

// SessionDetail returns the session header, falling back to deriving turn
// count from the messages table when the header's messages blob is absent.
func (r *Repository) SessionDetail(ctx context.Context, sessionID uuid.UUID) (*memcore.Session, error) {
	var model storage.SessionModel
	if err := r.conn.GetConnection().WithContext(ctx).Where("session_id = ?", sessionID.String()).First(&model).Error; err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if model.MessagesJSON == nil {
		var count int64
		if err := r.conn.GetConnection().WithContext(ctx).Model(&storage.MessageModel{}).
			Where("session_id = ?", sessionID.String()).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count session messages: %w", err)
		}
		model.TurnCount = int(count)
	}

	return toSession(sessionID, model)
}

// SearchByTopic returns a character-budget-bounded serialized listing of
// sessions whose key topics contain topic.
func (r *Repository) SearchByTopic(ctx context.Context, topic string, limit int) (string, error) {
	var rows []storage.SessionModel
	err := r.conn.GetConnection().WithContext(ctx).
		Where("key_topics LIKE ?", "%"+topic+"%").
		Order("started_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return "", fmt.Errorf("search sessions by topic: %w", err)
	}
	return r.renderBounded(rows, r.budget.SessionSearchMax), nil
}

// SessionsByDate returns a character-budget-bounded serialized listing of
// sessions started within [from, to].
func (r *Repository) SessionsByDate(ctx context.Context, from, to time.Time, limit int) (string, error) {
	var rows []storage.SessionModel
	err := r.conn.GetConnection().WithContext(ctx).
		Where("started_at >= ? AND started_at <= ?", from, to).
		Order("started_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return "", fmt.Errorf("load sessions by date: %w", err)
	}
	return r.renderBounded(rows, r.budget.SessionSearchMax), nil
}

// RecentSummaries returns a character-budget-bounded serialized listing of
// the most recently summarized sessions.
func (r *Repository) RecentSummaries(ctx context.Context, limit int) (string, error) {
	var rows []storage.SessionModel
	err := r.conn.GetConnection().WithContext(ctx).
		Where("summary IS NOT NULL").
		Order("ended_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return "", fmt.Errorf("load recent summaries: %w", err)
	}
	return r.renderBounded(rows, r.budget.SessionSummaryMax), nil
}

// TimeSinceLastSession returns the wall-clock delta since the most recently
// ended session, or nil if there has never been one.
func (r *Repository) TimeSinceLastSession(ctx context.Context, now time.Time) (*time.Duration, error) {
	var model storage.SessionModel
	err := r.conn.GetConnection().WithContext(ctx).
		Where("ended_at IS NOT NULL").
		Order("ended_at desc").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load last session: %w", err)
	}
	delta := now.Sub(*model.EndedAt)
	return &delta, nil
}

func (r *Repository) renderBounded(rows []storage.SessionModel, maxTokens int) string {
	maxChars := int(float64(maxTokens) * r.budget.CharsPerToken)
	var out string
	for _, row := range rows {
		var line string
		if row.Summary != nil {
			line = fmt.Sprintf("[%s] %s\n", row.SessionID, *row.Summary)
		} else {
			line = fmt.Sprintf("[%s] (no summary) %s\n", row.SessionID, row.EmotionalTone)
		}
		if len(out)+len(line) > maxChars {
			break
		}
		out += line
	}
	return out
}

func toTurns(sessionID uuid.UUID, rows []storage.MessageModel) []*memcore.Turn {
	turns := make([]*memcore.Turn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, &memcore.Turn{
			SessionID:        sessionID,
			TurnIndex:        row.TurnID,
			Role:             memcore.Role(row.Role),
			Content:          row.Content,
			Timestamp:        row.Timestamp,
			EmotionalContext: row.EmotionalContext,
		})
	}
	return turns
}

func toSession(id uuid.UUID, model storage.SessionModel) (*memcore.Session, error) {
	var topics []string
	if model.KeyTopics != "" {
		if err := json.Unmarshal([]byte(model.KeyTopics), &topics); err != nil {
			topics = nil
		}
	}
	return &memcore.Session{
		ID:            id,
		StartedAt:     model.StartedAt,
		EndedAt:       model.EndedAt,
		ExpiresAt:     model.ExpiresAt,
		TurnCount:     model.TurnCount,
		KeyTopics:     topics,
		EmotionalTone: model.EmotionalTone,
		Summary:       model.Summary,
		Status:        memcore.SessionStatus(model.Status),
	}, nil
}

// charsToTokens approximates a token count from a character count using
// the configured ratio.
func charsToTokens(chars int, charsPerToken float64) int {
	if charsPerToken <= 0 {
		return chars
	}
	return int(math.Ceil(float64(chars) / charsPerToken))
}
