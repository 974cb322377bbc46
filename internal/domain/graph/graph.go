// Package graph implements the knowledge graph: entities, relations,
// TF-IDF relation weighting, and BFS traversal, with merge-on-dedup
// entity upserts and periodic TF-IDF reweighting of relation strength.
package graph

import (
	"container/list"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memorycore/memorycore/internal/domain/memcore"
)

// stopwords is the fixed rejection set for concept-typed entities: English
// and Korean articles, pronouns, and auxiliaries that are never useful
// graph nodes on their own.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "it": {}, "this": {}, "that": {},
	"he": {}, "she": {}, "they": {}, "we": {}, "i": {}, "you": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"그": {}, "그것": {}, "이것": {}, "저것": {}, "나": {}, "너": {}, "우리": {},
	"이다": {}, "있다": {}, "하다": {},
}

// Graph is the in-memory knowledge graph. Adjacency, the name index and the
// relation index are derived, never persisted directly: Load rebuilds them
// from the entities/relations pair. Co-occurrence counts are saved in the
// document and restored from it on Load.
type Graph struct {
	mu sync.RWMutex

	entities  map[string]*memcore.Entity
	relations map[string]*memcore.Relation // keyed by Relation.Key()

	adjacency     map[string]map[string]struct{} // undirected view
	nameIndex     map[string]string              // normalized name -> entity id
	relationIndex map[string][]string             // entity id -> relation keys

	cooccurrence map[string]int // sorted "a|b" pair -> count
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		entities:      make(map[string]*memcore.Entity),
		relations:     make(map[string]*memcore.Relation),
		adjacency:     make(map[string]map[string]struct{}),
		nameIndex:     make(map[string]string),
		relationIndex: make(map[string][]string),
		cooccurrence:  make(map[string]int),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func idFor(name string) string {
	return strings.ReplaceAll(normalize(name), " ", "_")
}

// AddEntity inserts or merges an entity by normalized name and returns its
// effective id. concept-typed entities whose normalized name is a stopword
// are rejected with an empty id.
func (g *Graph) AddEntity(name string, typ memcore.EntityType, properties map[string]string) string {
	norm := normalize(name)
	if typ == memcore.EntityConcept {
		if _, stop := stopwords[norm]; stop {
			return ""
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if existingID, ok := g.nameIndex[norm]; ok {
		e := g.entities[existingID]
		e.Mentions++
		if e.Type == memcore.EntityConcept && typ != memcore.EntityConcept {
			e.Type = typ
		}
		if properties != nil {
			if e.Properties == nil {
				e.Properties = make(map[string]string)
			}
			for k, v := range properties {
				e.Properties[k] = v
			}
		}
		e.LastAccessed = now
		return existingID
	}

	id := idFor(name)
	e := &memcore.Entity{
		ID:           id,
		Name:         name,
		Type:         typ,
		Properties:   properties,
		Mentions:     1,
		CreatedAt:    now,
		LastAccessed: now,
	}
	g.entities[id] = e
	g.nameIndex[norm] = id
	if _, ok := g.adjacency[id]; !ok {
		g.adjacency[id] = make(map[string]struct{})
	}
	return id
}

// AddRelation requires both endpoints to already exist. On an existing
// edge it bumps co-occurrence, both endpoints' mention counts, and applies
// a naive +0.1 weight estimate (capped at 1.0) pending the next
// RecalculateWeights pass; on a new edge it records adjacency and the
// relation index.
func (g *Graph) AddRelation(source, target, relType string, weight float64, context string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[source]; !ok {
		return false
	}
	if _, ok := g.entities[target]; !ok {
		return false
	}

	rel := &memcore.Relation{Source: source, Target: target, Type: relType}
	key := rel.Key()

	if existing, ok := g.relations[key]; ok {
		pair := sortedPairKey(source, target)
		g.cooccurrence[pair]++
		g.entities[source].Mentions++
		g.entities[target].Mentions++
		existing.Weight = math.Min(existing.Weight+0.1, 1.0)
		if context != "" {
			existing.Context = context
		}
		return true
	}

	rel.Weight = weight
	rel.Context = context
	rel.CreatedAt = time.Now()
	g.relations[key] = rel

	g.adjacency[source][target] = struct{}{}
	g.adjacency[target][source] = struct{}{}
	g.relationIndex[source] = append(g.relationIndex[source], key)
	g.relationIndex[target] = append(g.relationIndex[target], key)

	pair := sortedPairKey(source, target)
	g.cooccurrence[pair]++

	return true
}

func sortedPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Entity returns the entity with the given id, if present.
func (g *Graph) Entity(id string) (*memcore.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	return e, ok
}

// EntityByName resolves a name via the name index.
func (g *Graph) EntityByName(name string) (*memcore.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.nameIndex[normalize(name)]
	if !ok {
		return nil, false
	}
	return g.entities[id], true
}

// GetNeighbors performs BFS over the undirected adjacency up to depth
// hops, excluding the start node.
func (g *Graph) GetNeighbors(id string, depth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bfsNeighbors(id, depth)
}

func (g *Graph) bfsNeighbors(id string, depth int) []string {
	if depth <= 0 {
		return nil
	}
	visited := map[string]int{id: 0}
	queue := list.New()
	queue.PushBack(id)

	var result []string
	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(string)
		level := visited[front]
		if level >= depth {
			continue
		}
		for neighbor := range g.adjacency[front] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = level + 1
			result = append(result, neighbor)
			queue.PushBack(neighbor)
		}
	}
	return result
}

// FindPath returns the shortest node sequence from source to target
// inclusive of endpoints, via BFS over the undirected adjacency, or an
// empty slice if disconnected or beyond maxDepth.
func (g *Graph) FindPath(source, target string, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if source == target {
		if _, ok := g.entities[source]; ok {
			return []string{source}
		}
		return nil
	}

	type node struct {
		id   string
		path []string
	}
	visited := map[string]bool{source: true}
	queue := list.New()
	queue.PushBack(node{id: source, path: []string{source}})

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(node)
		if len(front.path)-1 >= maxDepth {
			continue
		}
		neighbors := make([]string, 0, len(g.adjacency[front.id]))
		for n := range g.adjacency[front.id] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			nextPath := append(append([]string{}, front.path...), n)
			if n == target {
				return nextPath
			}
			visited[n] = true
			queue.PushBack(node{id: n, path: nextPath})
		}
	}
	return nil
}

// RecalculateWeights runs a two-pass TF/IDF formula: a per-entity
// co-occurrence tally is built in one pass, then every relation's weight
// is recomputed as clamp(0.7*TF*IDF + 0.3*baseline, 0, 1). Returns the
// total relation count and how many weights moved by > 0.001.
func (g *Graph) RecalculateWeights() (total, changed int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entityCooccur := make(map[string]int)
	for pair, count := range g.cooccurrence {
		parts := strings.SplitN(pair, "|", 2)
		if len(parts) != 2 {
			continue
		}
		entityCooccur[parts[0]] += count
		entityCooccur[parts[1]] += count
	}

	totalEntities := float64(len(g.entities))
	if totalEntities == 0 {
		totalEntities = 1
	}

	for _, rel := range g.relations {
		total++
		srcEntity, ok := g.entities[rel.Source]
		sourceMentions := 1.0
		if ok && srcEntity.Mentions > 0 {
			sourceMentions = float64(srcEntity.Mentions)
		}

		pairCount := float64(g.cooccurrence[sortedPairKey(rel.Source, rel.Target)])
		tf := pairCount / math.Max(sourceMentions, 1)
		idf := math.Log(totalEntities / (1 + float64(entityCooccur[rel.Source])))
		baseline := rel.Weight

		newWeight := clamp01(0.7*tf*idf + 0.3*baseline)
		if math.Abs(newWeight-rel.Weight) > 0.001 {
			changed++
		}
		rel.Weight = newWeight
	}
	return total, changed
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Snapshot returns a shallow copy of the entity and relation maps so
// concurrent readers (GraphRAG's BFS) never block ingestion writers for
// the duration of a traversal.
func (g *Graph) Snapshot() (entities map[string]*memcore.Entity, relations map[string]*memcore.Relation) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entities = make(map[string]*memcore.Entity, len(g.entities))
	for k, v := range g.entities {
		cp := *v
		entities[k] = &cp
	}
	relations = make(map[string]*memcore.Relation, len(g.relations))
	for k, v := range g.relations {
		cp := *v
		relations[k] = &cp
	}
	return entities, relations
}

// RelationsOf returns the relations incident to id, deduplicated by key.
func (g *Graph) RelationsOf(id string) []*memcore.Relation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := g.relationIndex[id]
	out := make([]*memcore.Relation, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if r, ok := g.relations[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

// EntityCount returns the number of entities currently in the graph.
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

// DeleteEntities removes the given entity ids along with every relation
// that touches them, maintaining the invariant that every relation's
// endpoints exist.
func (g *Graph) DeleteEntities(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for key, rel := range g.relations {
		if _, gone := idSet[rel.Source]; gone {
			g.removeRelationLocked(key, rel)
			continue
		}
		if _, gone := idSet[rel.Target]; gone {
			g.removeRelationLocked(key, rel)
		}
	}
	for _, id := range ids {
		delete(g.entities, id)
		delete(g.adjacency, id)
		delete(g.relationIndex, id)
		for norm, nid := range g.nameIndex {
			if nid == id {
				delete(g.nameIndex, norm)
			}
		}
	}
}

// StaleEntities returns the ids of entities eligible for maintenance
// cleanup: fewer than minMentions mentions and older than maxAge.
func (g *Graph) StaleEntities(minMentions int, maxAge time.Duration, now time.Time) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for id, e := range g.entities {
		if e.Mentions < minMentions && now.Sub(e.CreatedAt) > maxAge {
			ids = append(ids, id)
		}
	}
	return ids
}

// PruneRelationsBelow removes every relation whose weight is under min,
// and removes any relation whose endpoint no longer exists (orphans).
func (g *Graph) PruneRelationsBelow(min float64) (removed int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, rel := range g.relations {
		_, srcOK := g.entities[rel.Source]
		_, dstOK := g.entities[rel.Target]
		if rel.Weight < min || !srcOK || !dstOK {
			g.removeRelationLocked(key, rel)
			removed++
		}
	}
	return removed
}

func (g *Graph) removeRelationLocked(key string, rel *memcore.Relation) {
	delete(g.relations, key)
	delete(g.adjacency[rel.Source], rel.Target)
	delete(g.adjacency[rel.Target], rel.Source)
	g.relationIndex[rel.Source] = removeKey(g.relationIndex[rel.Source], key)
	g.relationIndex[rel.Target] = removeKey(g.relationIndex[rel.Target], key)
}

func removeKey(keys []string, target string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != target {
			out = append(out, k)
		}
	}
	return out
}
