package memcore

import "testing"

func TestRelationKeyIdentity(t *testing.T) {
	a := Relation{Source: "alice", Type: "knows", Target: "bob"}
	b := Relation{Source: "alice", Type: "knows", Target: "bob"}
	c := Relation{Source: "alice", Type: "knows", Target: "carol"}

	if a.Key() != b.Key() {
		t.Error("expected identical relations to produce the same key")
	}
	if a.Key() == c.Key() {
		t.Error("expected relations with different targets to produce different keys")
	}
}
