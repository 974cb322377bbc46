package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	arrowmem "github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/google/uuid"
	"github.com/lancedb/lancedb-go/pkg/contracts"
	"github.com/lancedb/lancedb-go/pkg/lancedb"
	"go.uber.org/zap"

	"github.com/memorycore/memorycore/internal/domain/memcore"
)

const memoriesTable = "memories"

// LanceDBStore implements memcore.VectorStore over LanceDB, with a
// schema carrying the long-term Memory field set: content, type,
// importance, repetitions, access_count, last_accessed, preserved,
// decayed_importance alongside the embedding vector.
type LanceDBStore struct {
	conn      contracts.IConnection
	table     contracts.ITable
	schema    *arrow.Schema
	dimension int
	logger    *zap.Logger
}

// NewLanceDBStore opens (or creates) the LanceDB table at storePath, sized
// for dimension-wide embeddings.
func NewLanceDBStore(storePath string, dimension int, logger *zap.Logger) (*LanceDBStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := expandPath(storePath)
	if err != nil {
		return nil, fmt.Errorf("expand store path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	ctx := context.Background()
	conn, err := lancedb.Connect(ctx, absPath, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to LanceDB at %s: %w", absPath, err)
	}

	fields := []arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "content", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "type", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "vector", Type: arrow.FixedSizeListOf(int32(dimension), arrow.PrimitiveTypes.Float32), Nullable: false},
		{Name: "importance", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "repetitions", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "access_count", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "preserved", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
		{Name: "decayed_importance", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "created_at", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "last_accessed", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}
	arrowSchema := arrow.NewSchema(fields, nil)

	table, err := openOrCreateMemoriesTable(ctx, conn, arrowSchema, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open/create memories table: %w", err)
	}

	logger.Info("lancedb store initialized", zap.String("path", absPath), zap.Int("dimension", dimension))

	return &LanceDBStore{conn: conn, table: table, schema: arrowSchema, dimension: dimension, logger: logger}, nil
}

func openOrCreateMemoriesTable(ctx context.Context, conn contracts.IConnection, arrowSchema *arrow.Schema, logger *zap.Logger) (contracts.ITable, error) {
	table, err := conn.OpenTable(ctx, memoriesTable)
	if err == nil {
		logger.Info("opened existing lancedb table", zap.String("table", memoriesTable))
		return table, nil
	}

	logger.Info("creating new lancedb table", zap.String("table", memoriesTable))
	schema, err := lancedb.NewSchema(arrowSchema)
	if err != nil {
		return nil, fmt.Errorf("build lancedb schema: %w", err)
	}
	return conn.CreateTable(ctx, memoriesTable, schema)
}

// Upsert stores or replaces a memory, deleting any existing row by id
// first since LanceDB has no native upsert on this path.
func (s *LanceDBStore) Upsert(ctx context.Context, m *memcore.Memory) error {
	_ = s.table.Delete(ctx, fmt.Sprintf("id = '%s'", m.ID.String()))

	record, err := s.memoryToRecord(m)
	if err != nil {
		return fmt.Errorf("build arrow record: %w", err)
	}
	defer record.Release()

	if err := s.table.Add(ctx, record, nil); err != nil {
		return fmt.Errorf("lancedb insert: %w", err)
	}
	return nil
}

// Query performs embedding-similarity search with a score floor.
func (s *LanceDBStore) Query(ctx context.Context, embedding []float32, k int, filter *memcore.SearchFilter) ([]*memcore.Memory, error) {
	filterExpr := buildMemoryFilterExpr(filter)

	var results []map[string]interface{}
	var err error
	if filterExpr != "" {
		results, err = s.table.VectorSearchWithFilter(ctx, "vector", embedding, k, filterExpr)
	} else {
		results, err = s.table.VectorSearch(ctx, "vector", embedding, k)
	}
	if err != nil {
		return nil, fmt.Errorf("lancedb vector search: %w", err)
	}

	out := make([]*memcore.Memory, 0, len(results))
	for _, row := range results {
		m := rowToMemory(row)
		if m == nil {
			continue
		}
		if filter != nil {
			if filter.MinScore > 0 && m.Score < filter.MinScore {
				continue
			}
			if filter.TimeRange != nil && (m.CreatedAt.Before(filter.TimeRange.Start) || m.CreatedAt.After(filter.TimeRange.End)) {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// GetAll streams every stored memory for maintenance passes.
func (s *LanceDBStore) GetAll(ctx context.Context) ([]*memcore.Memory, error) {
	results, err := s.table.SelectWithFilter(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("lancedb scan: %w", err)
	}
	out := make([]*memcore.Memory, 0, len(results))
	for _, row := range results {
		if m := rowToMemory(row); m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// Delete removes the given ids. Missing ids are ignored by LanceDB's
// predicate delete.
func (s *LanceDBStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.table.Delete(ctx, fmt.Sprintf("id = '%s'", id)); err != nil {
			return fmt.Errorf("lancedb delete %s: %w", id, err)
		}
	}
	return nil
}

// UpdateMetadata reads each id back, applies patch, and re-upserts without
// touching the embedding, since LanceDB exposes no in-place column patch.
func (s *LanceDBStore) UpdateMetadata(ctx context.Context, ids []string, patch func(*memcore.Memory)) (int, error) {
	count := 0
	for _, id := range ids {
		rows, err := s.table.SelectWithFilter(ctx, fmt.Sprintf("id = '%s'", id))
		if err != nil {
			return count, fmt.Errorf("lancedb select %s: %w", id, err)
		}
		if len(rows) == 0 {
			continue
		}
		m := rowToMemory(rows[0])
		if m == nil {
			continue
		}
		patch(m)
		if err := s.Upsert(ctx, m); err != nil {
			return count, fmt.Errorf("lancedb re-upsert %s: %w", id, err)
		}
		count++
	}
	return count, nil
}

// Close releases LanceDB resources.
func (s *LanceDBStore) Close() error {
	if s.table != nil {
		s.table.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *LanceDBStore) memoryToRecord(m *memcore.Memory) (arrow.Record, error) {
	pool := arrowmem.NewGoAllocator()

	idB := array.NewStringBuilder(pool)
	idB.Append(m.ID.String())
	idArr := idB.NewArray()
	defer idArr.Release()

	contentB := array.NewStringBuilder(pool)
	contentB.Append(m.Content)
	contentArr := contentB.NewArray()
	defer contentArr.Release()

	typeB := array.NewStringBuilder(pool)
	typeB.Append(string(m.Type))
	typeArr := typeB.NewArray()
	defer typeArr.Release()

	vectorArr, err := buildVectorArray(pool, m.Embedding, s.dimension)
	if err != nil {
		return nil, err
	}
	defer vectorArr.Release()

	importanceB := array.NewFloat64Builder(pool)
	importanceB.Append(m.Importance)
	importanceArr := importanceB.NewArray()
	defer importanceArr.Release()

	repsB := array.NewInt64Builder(pool)
	repsB.Append(int64(m.Repetitions))
	repsArr := repsB.NewArray()
	defer repsArr.Release()

	accessB := array.NewInt64Builder(pool)
	accessB.Append(int64(m.AccessCount))
	accessArr := accessB.NewArray()
	defer accessArr.Release()

	preservedB := array.NewBooleanBuilder(pool)
	preservedB.Append(m.Preserved)
	preservedArr := preservedB.NewArray()
	defer preservedArr.Release()

	decayedB := array.NewFloat64Builder(pool)
	if m.DecayedImportance != nil {
		decayedB.Append(*m.DecayedImportance)
	} else {
		decayedB.AppendNull()
	}
	decayedArr := decayedB.NewArray()
	defer decayedArr.Release()

	createdB := array.NewInt64Builder(pool)
	createdB.Append(m.CreatedAt.Unix())
	createdArr := createdB.NewArray()
	defer createdArr.Release()

	lastAccessB := array.NewInt64Builder(pool)
	lastAccessB.Append(m.LastAccessed.Unix())
	lastAccessArr := lastAccessB.NewArray()
	defer lastAccessArr.Release()

	cols := []arrow.Array{idArr, contentArr, typeArr, vectorArr, importanceArr, repsArr, accessArr, preservedArr, decayedArr, createdArr, lastAccessArr}
	return array.NewRecord(s.schema, cols, 1), nil
}

func buildVectorArray(pool arrowmem.Allocator, vec []float32, dim int) (arrow.Array, error) {
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}
	floatB := array.NewFloat32Builder(pool)
	floatB.AppendValues(vec, nil)
	floatArr := floatB.NewArray()
	defer floatArr.Release()

	listType := arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)
	listData := array.NewData(listType, 1, []*arrowmem.Buffer{nil}, []arrow.ArrayData{floatArr.Data()}, 0, 0)
	return array.NewFixedSizeListData(listData), nil
}

func buildMemoryFilterExpr(filter *memcore.SearchFilter) string {
	if filter == nil || filter.Type == "" {
		return ""
	}
	return fmt.Sprintf("type = '%s'", filter.Type)
}

func rowToMemory(row map[string]interface{}) *memcore.Memory {
	m := &memcore.Memory{}

	if v, ok := row["id"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			m.ID = id
		}
	}
	if v, ok := row["content"].(string); ok {
		m.Content = v
	}
	if v, ok := row["type"].(string); ok {
		m.Type = memcore.MemoryType(v)
	}
	if v, ok := toFloat64(row["importance"]); ok {
		m.Importance = v
	}
	if v, ok := toInt64(row["repetitions"]); ok {
		m.Repetitions = int(v)
	}
	if v, ok := toInt64(row["access_count"]); ok {
		m.AccessCount = int(v)
	}
	if v, ok := row["preserved"].(bool); ok {
		m.Preserved = v
	}
	if v, ok := toFloat64(row["decayed_importance"]); ok {
		m.DecayedImportance = &v
	}
	if v, ok := toInt64(row["created_at"]); ok {
		m.CreatedAt = time.Unix(v, 0).UTC()
	}
	if v, ok := toInt64(row["last_accessed"]); ok {
		m.LastAccessed = time.Unix(v, 0).UTC()
	}
	if v, ok := toFloat32(row["_distance"]); ok {
		m.Score = 1.0 / (1.0 + v)
	}
	return m
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func toFloat32(v interface{}) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	}
	return 0, false
}

func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
