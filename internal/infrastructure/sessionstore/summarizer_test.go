package sessionstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

func newTestConnectionManager(t *testing.T) *storage.ConnectionManager {
	t.Helper()
	conn, err := storage.NewConnectionManager(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConnectionManager: %v", err)
	}
	sm := storage.NewSchemaManager(conn)
	if err := sm.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts memcore.GenerateOptions) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func seedExpiredSession(t *testing.T, conn *storage.ConnectionManager, id uuid.UUID, turnCount int) {
	t.Helper()
	now := time.Now()
	session := storage.SessionModel{
		SessionID: id.String(),
		ExpiresAt: now.Add(-time.Hour),
		StartedAt: now.Add(-2 * time.Hour),
		TurnCount: turnCount,
		Status:    string(memcore.SessionOpen),
	}
	if err := conn.GetConnection().Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	for i := 0; i < turnCount; i++ {
		msg := storage.MessageModel{
			SessionID: id.String(),
			TurnID:    i,
			Role:      string(memcore.RoleUser),
			Content:   fmt.Sprintf("turn %d", i),
			Timestamp: now,
		}
		if err := conn.GetConnection().Create(&msg).Error; err != nil {
			t.Fatalf("seed turn %d: %v", i, err)
		}
	}
}

func TestSummarizer_SummarizesAndArchivesExpiredSession(t *testing.T) {
	conn := newTestConnectionManager(t)
	id := uuid.New()
	seedExpiredSession(t, conn, id, 3)

	s := NewSummarizer(conn, &stubLLM{text: "the user discussed deployment preferences"})
	report, err := s.SummarizeExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("SummarizeExpired: %v", err)
	}
	if report.SessionsProcessed != 1 {
		t.Fatalf("expected 1 session processed, got %d", report.SessionsProcessed)
	}
	if report.MessagesArchived != 3 {
		t.Fatalf("expected 3 messages archived, got %d", report.MessagesArchived)
	}

	var active int64
	conn.GetConnection().Model(&storage.MessageModel{}).Where("session_id = ?", id.String()).Count(&active)
	if active != 0 {
		t.Fatalf("expected active messages deleted, found %d", active)
	}
	var archived int64
	conn.GetConnection().Model(&storage.ArchivedMessageModel{}).Where("session_id = ?", id.String()).Count(&archived)
	if archived != 3 {
		t.Fatalf("expected 3 archived messages, found %d", archived)
	}

	var session storage.SessionModel
	conn.GetConnection().Where("session_id = ?", id.String()).First(&session)
	if session.Summary == nil || *session.Summary == "" {
		t.Fatalf("expected summary to be set")
	}
	if session.Status != string(memcore.SessionSummarized) {
		t.Fatalf("expected status summarized, got %s", session.Status)
	}
}

func TestSummarizer_SkipsSessionOnLLMFailure(t *testing.T) {
	conn := newTestConnectionManager(t)
	id := uuid.New()
	seedExpiredSession(t, conn, id, 2)

	s := NewSummarizer(conn, &stubLLM{err: fmt.Errorf("llm unavailable")})
	report, err := s.SummarizeExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("SummarizeExpired: %v", err)
	}
	if report.SessionsProcessed != 0 {
		t.Fatalf("expected 0 sessions processed on LLM failure, got %d", report.SessionsProcessed)
	}

	var active int64
	conn.GetConnection().Model(&storage.MessageModel{}).Where("session_id = ?", id.String()).Count(&active)
	if active != 2 {
		t.Fatalf("expected active messages untouched, found %d", active)
	}
}

func TestSummarizer_SkipsSessionWithNoMessages(t *testing.T) {
	conn := newTestConnectionManager(t)
	id := uuid.New()
	seedExpiredSession(t, conn, id, 0)

	s := NewSummarizer(conn, &stubLLM{text: "should not be used"})
	report, err := s.SummarizeExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("SummarizeExpired: %v", err)
	}
	if report.SessionsProcessed != 0 {
		t.Fatalf("expected empty-message session to be skipped, got %d processed", report.SessionsProcessed)
	}
}

func TestSummarizer_TruncatesSummaryToMaxChars(t *testing.T) {
	conn := newTestConnectionManager(t)
	id := uuid.New()
	seedExpiredSession(t, conn, id, 1)

	long := ""
	for i := 0; i < 600; i++ {
		long += "x"
	}
	s := NewSummarizer(conn, &stubLLM{text: long})
	if _, err := s.SummarizeExpired(context.Background(), time.Now()); err != nil {
		t.Fatalf("SummarizeExpired: %v", err)
	}

	var session storage.SessionModel
	conn.GetConnection().Where("session_id = ?", id.String()).First(&session)
	if session.Summary == nil || len(*session.Summary) != maxSummaryChars {
		t.Fatalf("expected summary truncated to %d chars, got %d", maxSummaryChars, len(*session.Summary))
	}
}
