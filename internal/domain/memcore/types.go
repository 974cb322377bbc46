// Package memcore holds the data model shared across the memory
// subsystem: turns, sessions, long-term memories, graph entities and
// relations, and the interfaces the storage and application layers
// implement against.
package memcore

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one atomic user/assistant exchange within a session. Turns are
// immutable once created and are migrated wholesale to the archive when
// their session expires.
type Turn struct {
	SessionID        uuid.UUID
	TurnIndex        int
	Role             Role
	Content          string
	Timestamp        time.Time
	EmotionTag       string
	EmotionalContext string
}

// SessionStatus is a Session's lifecycle stage.
type SessionStatus string

const (
	SessionOpen       SessionStatus = "open"
	SessionClosed     SessionStatus = "closed"
	SessionSummarized SessionStatus = "summarized"
)

// Session is one contiguous conversation.
type Session struct {
	ID            uuid.UUID
	StartedAt     time.Time
	EndedAt       *time.Time
	ExpiresAt     time.Time
	TurnCount     int
	KeyTopics     []string
	EmotionalTone string
	Summary       *string
	Status        SessionStatus
}

// MemoryType classifies a long-term Memory's content.
type MemoryType string

const (
	MemoryFact       MemoryType = "fact"
	MemoryPreference MemoryType = "preference"
	MemoryInsight    MemoryType = "insight"
	MemoryEvent      MemoryType = "event"
)

// Memory is one unit of long-term storage, promoted from the session
// archive or written directly by ingestion.
type Memory struct {
	ID                uuid.UUID
	Content           string
	Type              MemoryType
	Importance        float64
	Repetitions       int
	AccessCount       int
	CreatedAt         time.Time
	LastAccessed      time.Time
	Preserved         bool
	DecayedImportance *float64
	Embedding         []float32
	// Score is populated by search results; it is not persisted.
	Score float32
}

// EntityType classifies a knowledge-graph node.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityProject    EntityType = "project"
	EntityTool       EntityType = "tool"
	EntityConcept    EntityType = "concept"
	EntityPreference EntityType = "preference"
)

// Entity is a node in the knowledge graph. ID is the normalized
// (lowercased, underscored) form of Name; no two entities may share a
// normalized name.
type Entity struct {
	ID           string
	Name         string
	Type         EntityType
	Properties   map[string]string
	Mentions     int
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Relation is a directed edge between two entities. Identity is the
// triple (Source, Type, Target).
type Relation struct {
	Source    string
	Target    string
	Type      string
	Weight    float64
	Context   string
	CreatedAt time.Time
}

// Key returns the composite identity string for a relation, mirroring
// how the persistence layer keys message rows by (session, turn).
func (r Relation) Key() string {
	return r.Source + "|" + r.Type + "|" + r.Target
}

// InteractionLog is a per-turn observability record.
type InteractionLog struct {
	ID               uuid.UUID
	Timestamp        time.Time
	ConversationID   uuid.UUID
	TurnID           int
	EffectiveModel   string
	Tier             string
	RouterReason     string
	RoutingFeatures  map[string]any
	ManualOverride   bool
	LatencyMS        int64
	TTFTMS           int64
	TokensIn         int
	TokensOut        int
	ToolCalls        []string
	RefusalDetected  bool
	ResponseChars    int
	HedgeRatio       float64
	AvgSentenceLen   float64
}
