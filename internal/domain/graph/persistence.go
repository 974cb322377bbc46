package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/memorycore/memorycore/internal/domain/memcore"
)

// GraphDocument is the JSON persistence shape: entities, relations,
// co-occurrence (keys joined by "|"), and entity mentions. Adjacency is
// never serialized — it is always rebuilt from entities and relations on
// Load.
type GraphDocument struct {
	Entities       []*memcore.Entity   `json:"entities"`
	Relations      []*memcore.Relation `json:"relations"`
	Cooccurrence   map[string]int      `json:"cooccurrence"`
	EntityMentions map[string]int      `json:"entity_mentions"`
}

// Save writes the graph as indented JSON to path, using a write-then-
// rename so a crash mid-write never leaves a truncated document.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	doc := g.toDocumentLocked()
	g.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write graph temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename graph temp file: %w", err)
	}
	return nil
}

func (g *Graph) toDocumentLocked() GraphDocument {
	doc := GraphDocument{
		Entities:       make([]*memcore.Entity, 0, len(g.entities)),
		Relations:      make([]*memcore.Relation, 0, len(g.relations)),
		Cooccurrence:   make(map[string]int, len(g.cooccurrence)),
		EntityMentions: make(map[string]int, len(g.entities)),
	}
	for _, e := range g.entities {
		cp := *e
		doc.Entities = append(doc.Entities, &cp)
		doc.EntityMentions[e.ID] = e.Mentions
	}
	for _, r := range g.relations {
		cp := *r
		doc.Relations = append(doc.Relations, &cp)
	}
	for k, v := range g.cooccurrence {
		doc.Cooccurrence[k] = v
	}
	return doc
}

// Load builds a new Graph from the document read from path. Every index
// (adjacency, name index, relation index) is rebuilt from the
// entities/relations pair and co-occurrence counts are copied from the
// document; missing fields in the document are tolerated (treated as
// empty).
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load-failed: read graph document: %w", err)
	}

	var doc GraphDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		reason := err.Error()
		if len(reason) > 200 {
			reason = reason[:200]
		}
		return nil, fmt.Errorf("load-failed: malformed graph document: %s", reason)
	}

	g := FromSnapshot(doc.Entities, doc.Relations)
	for k, v := range doc.Cooccurrence {
		g.cooccurrence[k] = v
	}
	return g, nil
}

// FromSnapshot rebuilds a Graph from a flat entities/relations pair, the
// shape both the JSON document and SQLGraphStore.LoadAll hand back. A
// relation whose endpoint is missing from entities is dropped rather than
// rejecting the whole snapshot.
func FromSnapshot(entities []*memcore.Entity, relations []*memcore.Relation) *Graph {
	g := New()
	for _, e := range entities {
		if e == nil {
			continue
		}
		g.entities[e.ID] = e
		g.nameIndex[normalize(e.Name)] = e.ID
		if _, ok := g.adjacency[e.ID]; !ok {
			g.adjacency[e.ID] = make(map[string]struct{})
		}
	}
	for _, r := range relations {
		if r == nil {
			continue
		}
		if _, ok := g.entities[r.Source]; !ok {
			continue
		}
		if _, ok := g.entities[r.Target]; !ok {
			continue
		}
		key := r.Key()
		g.relations[key] = r
		g.adjacency[r.Source][r.Target] = struct{}{}
		g.adjacency[r.Target][r.Source] = struct{}{}
		g.relationIndex[r.Source] = append(g.relationIndex[r.Source], key)
		g.relationIndex[r.Target] = append(g.relationIndex[r.Target], key)
	}
	return g
}
