package sessionstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

const maxSummaryChars = 500

// SummarizationReport is the result of one summarize_expired pass.
type SummarizationReport struct {
	SessionsProcessed int
	MessagesArchived  int
}

// Summarizer implements summarize_expired: for every session whose
// expiry has passed and which has no summary yet, it asks the LLM for a
// bounded summary, then migrates that session's turns to the archive
// table in one transaction per session.
type Summarizer struct {
	conn *storage.ConnectionManager
	llm  memcore.LLMClient
}

// NewSummarizer creates a Summarizer over conn, using llm to generate
// session summaries.
func NewSummarizer(conn *storage.ConnectionManager, llm memcore.LLMClient) *Summarizer {
	return &Summarizer{conn: conn, llm: llm}
}

// SummarizeExpired selects every session with expires_at < now and
// summary IS NULL, summarizes it, and archives its turns. A session whose
// LLM call fails or which has no messages is skipped (no summary, no
// archival) without aborting the rest of the batch.
func (s *Summarizer) SummarizeExpired(ctx context.Context, now time.Time) (SummarizationReport, error) {
	var report SummarizationReport

	var expired []storage.SessionModel
	err := s.conn.GetConnection().WithContext(ctx).
		Where("expires_at < ? AND summary IS NULL", now).
		Find(&expired).Error
	if err != nil {
		return report, fmt.Errorf("load expired sessions: %w", err)
	}

	for _, session := range expired {
		archived, summarized, err := s.summarizeOne(ctx, session)
		if err != nil {
			return report, fmt.Errorf("summarize session %s: %w", session.SessionID, err)
		}
		if summarized {
			report.SessionsProcessed++
			report.MessagesArchived += archived
		}
	}
	return report, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, session storage.SessionModel) (archivedCount int, summarized bool, err error) {
	var turns []storage.MessageModel
	if err := s.conn.GetConnection().WithContext(ctx).
		Where("session_id = ?", session.SessionID).
		Order("turn_id asc").
		Find(&turns).Error; err != nil {
		return 0, false, fmt.Errorf("load session turns: %w", err)
	}
	if len(turns) == 0 {
		return 0, false, nil
	}

	summary, err := s.summarizeTurns(ctx, turns)
	if err != nil || summary == "" {
		return 0, false, nil
	}

	txErr := s.conn.Transaction(func(tx *gorm.DB) error {
		session.Summary = &summary
		session.Status = string(memcore.SessionSummarized)
		if err := tx.Save(&session).Error; err != nil {
			return fmt.Errorf("save summary: %w", err)
		}

		for _, t := range turns {
			archived := storage.ArchivedMessageModel{
				SessionID: t.SessionID,
				TurnID:    t.TurnID,
				Role:      t.Role,
				Content:   t.Content,
				Timestamp: t.Timestamp,
			}
			if err := tx.Create(&archived).Error; err != nil {
				return fmt.Errorf("archive turn %d: %w", t.TurnID, err)
			}
		}

		if err := tx.Where("session_id = ?", session.SessionID).Delete(&storage.MessageModel{}).Error; err != nil {
			return fmt.Errorf("delete active turns: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return 0, false, txErr
	}
	return len(turns), true, nil
}

func (s *Summarizer) summarizeTurns(ctx context.Context, turns []storage.MessageModel) (string, error) {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}

	prompt := "Summarize this conversation in at most 500 characters, capturing key facts, preferences, and decisions:\n\n" + sb.String()
	out, err := s.llm.Generate(ctx, prompt, memcore.GenerateOptions{Temperature: 0.2, MaxTokens: 256, Timeout: 30 * time.Second})
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if r := []rune(out); len(r) > maxSummaryChars {
		out = string(r[:maxSummaryChars])
	}
	return out, nil
}
