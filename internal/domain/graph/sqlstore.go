package graph

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

// entityRow and relationRow are the gorm models backing graph_entities and
// graph_relations when a relational backend is configured instead of the
// JSON document form, keeping the same field set across both.
type entityRow struct {
	ID           string `gorm:"primaryKey;size:255"`
	Name         string
	Type         string
	Properties   string `gorm:"type:text"`
	Mentions     int
	CreatedAt    time.Time
	LastAccessed time.Time
}

func (entityRow) TableName() string { return "graph_entities" }

type relationRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Source    string `gorm:"index;size:255"`
	Target    string `gorm:"index;size:255"`
	Type      string
	Weight    float64
	Context   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (relationRow) TableName() string { return "graph_relations" }

// SQLGraphStore implements memcore.GraphStore over the shared
// ConnectionManager, satisfying the same operations the JSON document path
// exposes.
type SQLGraphStore struct {
	conn *storage.ConnectionManager
}

// NewSQLGraphStore creates a SQLGraphStore over conn. Callers must call
// AutoMigrate before use; SchemaManager's migrations do not create the
// graph tables.
func NewSQLGraphStore(conn *storage.ConnectionManager) *SQLGraphStore {
	return &SQLGraphStore{conn: conn}
}

// AutoMigrate creates the graph_entities and graph_relations tables.
func (s *SQLGraphStore) AutoMigrate() error {
	return s.conn.GetConnection().AutoMigrate(&entityRow{}, &relationRow{})
}

func propertiesToString(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	out := ""
	for k, v := range props {
		out += k + "=" + v + ";"
	}
	return out
}

func (s *SQLGraphStore) SaveEntity(ctx context.Context, e *memcore.Entity) error {
	row := entityRow{
		ID:           e.ID,
		Name:         e.Name,
		Type:         string(e.Type),
		Properties:   propertiesToString(e.Properties),
		Mentions:     e.Mentions,
		CreatedAt:    e.CreatedAt,
		LastAccessed: e.LastAccessed,
	}
	if err := s.conn.GetConnection().WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save entity %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLGraphStore) SaveRelation(ctx context.Context, r *memcore.Relation) error {
	db := s.conn.GetConnection().WithContext(ctx)
	var existing relationRow
	err := db.Where("source = ? AND target = ? AND type = ?", r.Source, r.Target, r.Type).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		row := relationRow{Source: r.Source, Target: r.Target, Type: r.Type, Weight: r.Weight, Context: r.Context, CreatedAt: r.CreatedAt}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("create relation %s: %w", r.Key(), err)
		}
	case err != nil:
		return fmt.Errorf("load relation %s: %w", r.Key(), err)
	default:
		existing.Weight = r.Weight
		existing.Context = r.Context
		if err := db.Save(&existing).Error; err != nil {
			return fmt.Errorf("update relation %s: %w", r.Key(), err)
		}
	}
	return nil
}

func (s *SQLGraphStore) LoadAll(ctx context.Context) ([]*memcore.Entity, []*memcore.Relation, error) {
	var entityRows []entityRow
	if err := s.conn.GetConnection().WithContext(ctx).Find(&entityRows).Error; err != nil {
		return nil, nil, fmt.Errorf("load entities: %w", err)
	}
	var relationRows []relationRow
	if err := s.conn.GetConnection().WithContext(ctx).Find(&relationRows).Error; err != nil {
		return nil, nil, fmt.Errorf("load relations: %w", err)
	}

	entities := make([]*memcore.Entity, 0, len(entityRows))
	for _, row := range entityRows {
		entities = append(entities, &memcore.Entity{
			ID:           row.ID,
			Name:         row.Name,
			Type:         memcore.EntityType(row.Type),
			Mentions:     row.Mentions,
			CreatedAt:    row.CreatedAt,
			LastAccessed: row.LastAccessed,
		})
	}
	relations := make([]*memcore.Relation, 0, len(relationRows))
	for _, row := range relationRows {
		relations = append(relations, &memcore.Relation{
			Source:    row.Source,
			Target:    row.Target,
			Type:      row.Type,
			Weight:    row.Weight,
			Context:   row.Context,
			CreatedAt: row.CreatedAt,
		})
	}
	return entities, relations, nil
}

func (s *SQLGraphStore) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.conn.GetConnection().WithContext(ctx).Where("id IN ?", ids).Delete(&entityRow{}).Error; err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	return nil
}

func (s *SQLGraphStore) DeleteRelations(ctx context.Context, keys []string) error {
	for _, key := range keys {
		parts := splitKey(key)
		if len(parts) != 3 {
			continue
		}
		err := s.conn.GetConnection().WithContext(ctx).
			Where("source = ? AND type = ? AND target = ?", parts[0], parts[1], parts[2]).
			Delete(&relationRow{}).Error
		if err != nil {
			return fmt.Errorf("delete relation %s: %w", key, err)
		}
	}
	return nil
}

func splitKey(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}
