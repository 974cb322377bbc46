package graph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/memorycore/memorycore/internal/domain/memcore"
)

func TestAddEntity_MergesOnNormalizedName(t *testing.T) {
	g := New()

	id1 := g.AddEntity("Alice", memcore.EntityPerson, nil)
	if id1 == "" {
		t.Fatalf("expected entity to be created")
	}
	id2 := g.AddEntity("alice", memcore.EntityConcept, nil)
	if id2 != id1 {
		t.Fatalf("expected merge onto the same id, got %q and %q", id1, id2)
	}

	if g.EntityCount() != 1 {
		t.Fatalf("expected exactly one entity, got %d", g.EntityCount())
	}
	e, ok := g.Entity(id1)
	if !ok {
		t.Fatalf("entity %q not found", id1)
	}
	if e.Type != memcore.EntityPerson {
		t.Fatalf("expected merged entity to keep the person type, got %v", e.Type)
	}
	if e.Mentions != 2 {
		t.Fatalf("expected mentions=2 after merge, got %d", e.Mentions)
	}
}

func TestAddEntity_RejectsStopwordConcepts(t *testing.T) {
	g := New()
	id := g.AddEntity("the", memcore.EntityConcept, nil)
	if id != "" {
		t.Fatalf("expected stopword concept to be rejected, got id %q", id)
	}
	if g.EntityCount() != 0 {
		t.Fatalf("expected no entity to be created")
	}
}

func TestAddRelation_RepeatedAddIncrementsCooccurrenceAndMentions(t *testing.T) {
	g := New()
	a := g.AddEntity("A", memcore.EntityPerson, nil)
	b := g.AddEntity("B", memcore.EntityPerson, nil)

	for i := 0; i < 3; i++ {
		if ok := g.AddRelation(a, b, "knows", 0.5, ""); !ok {
			t.Fatalf("AddRelation call %d failed", i)
		}
	}

	pair := sortedPairKey(a, b)
	if g.cooccurrence[pair] != 3 {
		t.Fatalf("expected cooccurrence count 3, got %d", g.cooccurrence[pair])
	}

	entA, _ := g.Entity(a)
	entB, _ := g.Entity(b)
	if entA.Mentions < 3 {
		t.Fatalf("expected source mentions >= 3, got %d", entA.Mentions)
	}
	if entB.Mentions < 3 {
		t.Fatalf("expected target mentions >= 3, got %d", entB.Mentions)
	}

	total, _ := g.RecalculateWeights()
	if total != 1 {
		t.Fatalf("expected exactly one relation, got %d", total)
	}
	rel, ok := g.relations[memcore.Relation{Source: a, Target: b, Type: "knows"}.Key()]
	if !ok {
		t.Fatalf("expected relation to exist")
	}
	if rel.Weight > 1.0 {
		t.Fatalf("expected weight <= 1.0 after recalculation, got %v", rel.Weight)
	}
}

func TestAddRelation_RequiresBothEndpointsToExist(t *testing.T) {
	g := New()
	a := g.AddEntity("A", memcore.EntityPerson, nil)
	if ok := g.AddRelation(a, "missing", "knows", 0.5, ""); ok {
		t.Fatalf("expected AddRelation to fail when target is missing")
	}
}

func TestGetNeighborsAndFindPath(t *testing.T) {
	g := New()
	a := g.AddEntity("A", memcore.EntityPerson, nil)
	b := g.AddEntity("B", memcore.EntityPerson, nil)
	c := g.AddEntity("C", memcore.EntityPerson, nil)
	g.AddRelation(a, b, "knows", 0.5, "")
	g.AddRelation(b, c, "knows", 0.5, "")

	neighbors := g.GetNeighbors(a, 2)
	found := map[string]bool{}
	for _, n := range neighbors {
		found[n] = true
	}
	if !found[b] || !found[c] {
		t.Fatalf("expected both B and C reachable within depth 2, got %v", neighbors)
	}

	path := g.FindPath(a, c, 5)
	if len(path) != 3 || path[0] != a || path[2] != c {
		t.Fatalf("expected path A->B->C, got %v", path)
	}

	if p := g.FindPath(a, c, 1); p != nil {
		t.Fatalf("expected no path within depth 1, got %v", p)
	}
}

func TestPruneRelationsBelow(t *testing.T) {
	g := New()
	a := g.AddEntity("A", memcore.EntityPerson, nil)
	b := g.AddEntity("B", memcore.EntityPerson, nil)
	g.AddRelation(a, b, "knows", 0.01, "")

	removed := g.PruneRelationsBelow(0.1)
	if removed != 1 {
		t.Fatalf("expected 1 relation removed, got %d", removed)
	}
	if len(g.RelationsOf(a)) != 0 {
		t.Fatalf("expected no relations remaining on A")
	}
}

func TestDeleteEntities_RemovesIncidentRelations(t *testing.T) {
	g := New()
	a := g.AddEntity("A", memcore.EntityPerson, nil)
	b := g.AddEntity("B", memcore.EntityPerson, nil)
	g.AddRelation(a, b, "knows", 0.5, "")

	g.DeleteEntities([]string{b})

	if _, ok := g.Entity(b); ok {
		t.Fatalf("expected B to be deleted")
	}
	if len(g.RelationsOf(a)) != 0 {
		t.Fatalf("expected relation touching the deleted entity to be removed")
	}
	if _, ok := g.EntityByName("B"); ok {
		t.Fatalf("expected name index entry for B to be removed")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New()
	a := g.AddEntity("Alice", memcore.EntityPerson, map[string]string{"role": "engineer"})
	b := g.AddEntity("Bob", memcore.EntityPerson, nil)
	g.AddRelation(a, b, "knows", 0.5, "met at work")
	g.AddRelation(a, b, "knows", 0.5, "met at work")

	path := filepath.Join(t.TempDir(), "graph.json")
	if err := g.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.EntityCount() != g.EntityCount() {
		t.Fatalf("expected %d entities after reload, got %d", g.EntityCount(), loaded.EntityCount())
	}
	la, ok := loaded.Entity(a)
	if !ok || la.Name != "Alice" || la.Properties["role"] != "engineer" {
		t.Fatalf("expected Alice entity to round-trip with properties, got %+v", la)
	}
	if len(loaded.RelationsOf(a)) != 1 {
		t.Fatalf("expected exactly one relation after reload, got %d", len(loaded.RelationsOf(a)))
	}

	pair := sortedPairKey(a, b)
	if loaded.cooccurrence[pair] != g.cooccurrence[pair] {
		t.Fatalf("expected cooccurrence to round-trip: want %d got %d", g.cooccurrence[pair], loaded.cooccurrence[pair])
	}
}

func TestLoad_MalformedDocumentReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed bad file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected malformed document to return an error")
	}
}

func TestLoad_SkipsOrphanRelations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphan.json")
	doc := GraphDocument{
		Entities: []*memcore.Entity{
			{ID: "a", Name: "A", Type: memcore.EntityPerson, Mentions: 1},
		},
		Relations: []*memcore.Relation{
			{Source: "a", Target: "ghost", Type: "knows", Weight: 0.5},
		},
		Cooccurrence: map[string]int{"a|ghost": 1},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.RelationsOf("a")) != 0 {
		t.Fatalf("expected orphan relation (missing target) to be dropped on load")
	}
}
