package storage

import "time"

// SessionModel is the gorm model backing the sessions table.
type SessionModel struct {
	SessionID     string `gorm:"primaryKey;size:64;column:session_id"`
	Summary       *string
	KeyTopics     string `gorm:"column:key_topics"` // JSON-encoded []string
	EmotionalTone string
	TurnCount     int
	StartedAt     time.Time
	EndedAt       *time.Time
	ExpiresAt     time.Time `gorm:"index"`
	MessagesJSON  *string   `gorm:"column:messages_json"`
	Status        string
}

// TableName implements gorm's Tabler.
func (SessionModel) TableName() string { return "sessions" }

// MessageModel is the gorm model backing the messages table.
type MessageModel struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	SessionID        string `gorm:"index;size:64;not null"`
	TurnID           int
	Role             string
	Content          string `gorm:"type:text"`
	Timestamp        time.Time `gorm:"index"`
	EmotionalContext string
}

// TableName implements gorm's Tabler.
func (MessageModel) TableName() string { return "messages" }

// ArchivedMessageModel is the gorm model backing the archived_messages
// table, the destination for expired-session turns.
type ArchivedMessageModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	TurnID    int
	Role      string
	Content   string `gorm:"type:text"`
	Timestamp time.Time `gorm:"index"`
}

// TableName implements gorm's Tabler.
func (ArchivedMessageModel) TableName() string { return "archived_messages" }

// InteractionLogModel is the gorm model backing the interaction_logs table.
type InteractionLogModel struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp         time.Time `gorm:"column:ts;index:idx_interaction_created_at"`
	ConversationID    string    `gorm:"index"`
	TurnID            int
	EffectiveModel    string
	Tier              string    `gorm:"index:idx_interaction_tier"`
	RouterReason      string    `gorm:"index:idx_interaction_router_reason"`
	RoutingFeatures   string    `gorm:"column:routing_features_json;type:text"`
	ManualOverride    bool
	LatencyMS         int64
	TTFTMS            int64
	TokensIn          int
	TokensOut         int
	ToolCalls         string `gorm:"column:tool_calls_json;type:text"`
	RefusalDetected   bool
	ResponseChars     int
	HedgeRatio        float64
	AvgSentenceLen    float64
}

// TableName implements gorm's Tabler.
func (InteractionLogModel) TableName() string { return "interaction_logs" }

// SchemaMigrationModel stores the single-row compiled-vs-applied schema
// version.
type SchemaMigrationModel struct {
	ID      uint `gorm:"primaryKey"`
	Version int
}

// TableName implements gorm's Tabler.
func (SchemaMigrationModel) TableName() string { return "schema_migrations" }
