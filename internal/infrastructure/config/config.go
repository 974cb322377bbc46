// Package config loads the memory core's configuration from environment
// variables and an optional config.yaml overlay, using a layered
// approach: compiled-in defaults, then a file overlay, then environment
// variables. A value that cannot be decoded into its field fails the load
// with an error; there is no per-field fallback to the default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AppName is the canonical directory name under the user's home directory.
const AppName = "memorycore"

// DatabaseConfig selects and configures the relational backend: an
// embedded sqlite file for single-node deployments, or a remote postgres
// instance for multi-node ones.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`

	PGPoolMin int `mapstructure:"pg_pool_min"`
	PGPoolMax int `mapstructure:"pg_pool_max"`
}

// PathsConfig holds the filesystem roots the memory core reads and writes.
type PathsConfig struct {
	DataRoot  string `mapstructure:"data_root"`
	GraphPath string `mapstructure:"graph_path"`
	DBPath    string `mapstructure:"db_path"`
}

// TimeoutsConfig bounds outbound calls.
type TimeoutsConfig struct {
	API    time.Duration `mapstructure:"api"`
	Stream time.Duration `mapstructure:"stream"`
	HTTP   time.Duration `mapstructure:"http"`
}

// RetryConfig configures retry counts shared across components.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DecayConfig holds the DecayCalculator's tunable constants.
type DecayConfig struct {
	HalfLifeFactHours       float64 `mapstructure:"half_life_fact_hours"`
	HalfLifePreferenceHours float64 `mapstructure:"half_life_preference_hours"`
	HalfLifeInsightHours    float64 `mapstructure:"half_life_insight_hours"`
	HalfLifeEventHours      float64 `mapstructure:"half_life_event_hours"`
	RecencyBoostDayFactor   float64 `mapstructure:"recency_boost_day_factor"`
	RecencyBoostWeekFactor  float64 `mapstructure:"recency_boost_week_factor"`
	AccessBoostK            float64 `mapstructure:"access_boost_k"`
	ConnectionBoostK        float64 `mapstructure:"connection_boost_k"`
	MinRetention            float64 `mapstructure:"min_retention"`
	PreserveRepetitions     int     `mapstructure:"preserve_repetitions"`
	DecayDeleteThreshold    float64 `mapstructure:"decay_delete_threshold"`
}

// BudgetConfig bounds the character budget (tokens approximated by a fixed
// character-per-token factor) each bounded-context source may contribute.
type BudgetConfig struct {
	CharsPerToken       float64 `mapstructure:"chars_per_token"`
	SessionSummaryMax   int     `mapstructure:"session_summary_max_tokens"`
	SessionSearchMax    int     `mapstructure:"session_search_max_tokens"`
	GraphContextMax     int     `mapstructure:"graph_context_max_tokens"`
}

// MaintenanceConfig configures MaintenanceJobs.
type MaintenanceConfig struct {
	ArchiveRetentionDays    int `mapstructure:"archive_retention_days"`
	AccessLogRetentionDays  int `mapstructure:"access_log_retention_days"`
	GraphMinEntityAgeDays   int `mapstructure:"graph_min_entity_age_days"`
	GraphMinEntityMentions  int `mapstructure:"graph_min_entity_mentions"`
	GraphMinRelationWeight  float64 `mapstructure:"graph_min_relation_weight"`
	SummarizeWorkerPoolSize int `mapstructure:"summarize_worker_pool_size"`
}

// GraphRAGConfig tunes GraphRAG's ingestion/query decision gate.
type GraphRAGConfig struct {
	NERConfidenceThreshold float64 `mapstructure:"ner_confidence_threshold"`
	LLMInvokeTextLength    int     `mapstructure:"llm_invoke_text_length"`
	EntityImportanceFloor  float64 `mapstructure:"entity_importance_floor"`
	MaxEntities            int     `mapstructure:"max_entities"`
	MaxDepth               int     `mapstructure:"max_depth"`
	MaxRelations           int     `mapstructure:"max_relations"`
}

// CircuitConfigs configures the llm/research/embedding circuits.
type CircuitConfigs struct {
	LLM       CircuitSettings `mapstructure:"llm"`
	Research  CircuitSettings `mapstructure:"research"`
	Embedding CircuitSettings `mapstructure:"embedding"`
}

// CircuitSettings mirrors pkg/resilience.CircuitConfig in a mapstructure
// friendly shape.
type CircuitSettings struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HalfOpenMaxCalls uint32        `mapstructure:"half_open_max_calls"`
}

// VectorStoreConfig selects and configures LongTermStore's backend.
type VectorStoreConfig struct {
	Type      string `mapstructure:"type"` // lancedb, memory
	Path      string `mapstructure:"path"`
	Dimension int    `mapstructure:"dimension"`
}

// ServicesConfig points at the LLM and embedding collaborator endpoints.
type ServicesConfig struct {
	LLMBaseURL       string `mapstructure:"llm_base_url"`
	LLMModel         string `mapstructure:"llm_model"`
	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Config is the memory core's root configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Decay       DecayConfig       `mapstructure:"decay"`
	Budget      BudgetConfig      `mapstructure:"budget"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	GraphRAG    GraphRAGConfig    `mapstructure:"graphrag"`
	Circuits    CircuitConfigs    `mapstructure:"circuits"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	Services    ServicesConfig    `mapstructure:"services"`
	Log         LogConfig         `mapstructure:"log"`
}

// HomeDir returns ~/.memorycore, the directory the config file and default
// data paths live under.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Load builds a Config from compiled defaults, an optional config.yaml
// overlay under HomeDir(), and environment variables prefixed MEMORYCORE.
// A value viper cannot decode into its target type makes Load return an
// error; it is not replaced by the default.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MEMORYCORE")
	v.AutomaticEnv()

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	home := HomeDir()
	return &Config{
		Database: DatabaseConfig{Type: "sqlite", DSN: filepath.Join(home, "memorycore.db"), PGPoolMin: 1, PGPoolMax: 10},
		Paths: PathsConfig{
			DataRoot:  home,
			GraphPath: filepath.Join(home, "graph.json"),
			DBPath:    filepath.Join(home, "memorycore.db"),
		},
		Timeouts: TimeoutsConfig{API: 30 * time.Second, Stream: 120 * time.Second, HTTP: 15 * time.Second},
		Retry:    RetryConfig{MaxAttempts: 3},
		Decay: DecayConfig{
			HalfLifeFactHours:       24 * 180,
			HalfLifePreferenceHours: 24 * 90,
			HalfLifeInsightHours:    24 * 60,
			HalfLifeEventHours:      24 * 14,
			RecencyBoostDayFactor:   1.3,
			RecencyBoostWeekFactor:  1.1,
			AccessBoostK:            0.2,
			ConnectionBoostK:        0.05,
			MinRetention:            0.05,
			PreserveRepetitions:     3,
			DecayDeleteThreshold:    0.15,
		},
		Budget: BudgetConfig{
			CharsPerToken:     4.0,
			SessionSummaryMax: 500,
			SessionSearchMax:  1000,
			GraphContextMax:   1500,
		},
		Maintenance: MaintenanceConfig{
			ArchiveRetentionDays:    90,
			AccessLogRetentionDays:  30,
			GraphMinEntityAgeDays:   30,
			GraphMinEntityMentions:  3,
			GraphMinRelationWeight:  0.1,
			SummarizeWorkerPoolSize: 4,
		},
		GraphRAG: GraphRAGConfig{
			NERConfidenceThreshold: 0.8,
			LLMInvokeTextLength:    200,
			EntityImportanceFloor:  0.3,
			MaxEntities:            20,
			MaxDepth:               2,
			MaxRelations:           10,
		},
		Circuits: CircuitConfigs{
			LLM:       CircuitSettings{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, HalfOpenMaxCalls: 2},
			Research:  CircuitSettings{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 60 * time.Second, HalfOpenMaxCalls: 1},
			Embedding: CircuitSettings{FailureThreshold: 8, SuccessThreshold: 3, Timeout: 15 * time.Second, HalfOpenMaxCalls: 3},
		},
		VectorStore: VectorStoreConfig{Type: "memory", Path: filepath.Join(home, "vectors"), Dimension: 768},
		Services: ServicesConfig{
			LLMBaseURL:       "http://localhost:11434",
			LLMModel:         "llama3",
			EmbeddingBaseURL: "http://localhost:11434",
			EmbeddingModel:   "nomic-embed-text",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig()

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.pg_pool_min", d.Database.PGPoolMin)
	v.SetDefault("database.pg_pool_max", d.Database.PGPoolMax)

	v.SetDefault("paths.data_root", d.Paths.DataRoot)
	v.SetDefault("paths.graph_path", d.Paths.GraphPath)
	v.SetDefault("paths.db_path", d.Paths.DBPath)

	v.SetDefault("timeouts.api", d.Timeouts.API)
	v.SetDefault("timeouts.stream", d.Timeouts.Stream)
	v.SetDefault("timeouts.http", d.Timeouts.HTTP)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)

	v.SetDefault("decay.half_life_fact_hours", d.Decay.HalfLifeFactHours)
	v.SetDefault("decay.half_life_preference_hours", d.Decay.HalfLifePreferenceHours)
	v.SetDefault("decay.half_life_insight_hours", d.Decay.HalfLifeInsightHours)
	v.SetDefault("decay.half_life_event_hours", d.Decay.HalfLifeEventHours)
	v.SetDefault("decay.recency_boost_day_factor", d.Decay.RecencyBoostDayFactor)
	v.SetDefault("decay.recency_boost_week_factor", d.Decay.RecencyBoostWeekFactor)
	v.SetDefault("decay.access_boost_k", d.Decay.AccessBoostK)
	v.SetDefault("decay.connection_boost_k", d.Decay.ConnectionBoostK)
	v.SetDefault("decay.min_retention", d.Decay.MinRetention)
	v.SetDefault("decay.preserve_repetitions", d.Decay.PreserveRepetitions)
	v.SetDefault("decay.decay_delete_threshold", d.Decay.DecayDeleteThreshold)

	v.SetDefault("budget.chars_per_token", d.Budget.CharsPerToken)
	v.SetDefault("budget.session_summary_max_tokens", d.Budget.SessionSummaryMax)
	v.SetDefault("budget.session_search_max_tokens", d.Budget.SessionSearchMax)
	v.SetDefault("budget.graph_context_max_tokens", d.Budget.GraphContextMax)

	v.SetDefault("maintenance.archive_retention_days", d.Maintenance.ArchiveRetentionDays)
	v.SetDefault("maintenance.access_log_retention_days", d.Maintenance.AccessLogRetentionDays)
	v.SetDefault("maintenance.graph_min_entity_age_days", d.Maintenance.GraphMinEntityAgeDays)
	v.SetDefault("maintenance.graph_min_entity_mentions", d.Maintenance.GraphMinEntityMentions)
	v.SetDefault("maintenance.graph_min_relation_weight", d.Maintenance.GraphMinRelationWeight)
	v.SetDefault("maintenance.summarize_worker_pool_size", d.Maintenance.SummarizeWorkerPoolSize)

	v.SetDefault("graphrag.ner_confidence_threshold", d.GraphRAG.NERConfidenceThreshold)
	v.SetDefault("graphrag.llm_invoke_text_length", d.GraphRAG.LLMInvokeTextLength)
	v.SetDefault("graphrag.entity_importance_floor", d.GraphRAG.EntityImportanceFloor)
	v.SetDefault("graphrag.max_entities", d.GraphRAG.MaxEntities)
	v.SetDefault("graphrag.max_depth", d.GraphRAG.MaxDepth)
	v.SetDefault("graphrag.max_relations", d.GraphRAG.MaxRelations)

	v.SetDefault("vectorstore.type", d.VectorStore.Type)
	v.SetDefault("vectorstore.path", d.VectorStore.Path)
	v.SetDefault("vectorstore.dimension", d.VectorStore.Dimension)

	v.SetDefault("services.llm_base_url", d.Services.LLMBaseURL)
	v.SetDefault("services.llm_model", d.Services.LLMModel)
	v.SetDefault("services.embedding_base_url", d.Services.EmbeddingBaseURL)
	v.SetDefault("services.embedding_model", d.Services.EmbeddingModel)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
