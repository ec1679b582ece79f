package storage

import "testing"

func TestIdentityDigest(t *testing.T) {
	a := IdentityDigest("entity-a")
	b := IdentityDigest("entity-b")

	if a == b {
		t.Fatal("distinct identities produced the same digest")
	}
	if a != IdentityDigest("entity-a") {
		t.Fatal("digest is not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == "entity-a" || b == "entity-b" {
		t.Fatal("digest must not echo the raw identity")
	}
}
