package catalog

import (
	"testing"

	"finqa-api/internal/domain/entity"
)

func TestFingerprint(t *testing.T) {
	a := New([]entity.CatalogEntry{{CanonicalID: "db.a"}, {CanonicalID: "db.b"}})
	b := New([]entity.CatalogEntry{{CanonicalID: "db.b"}, {CanonicalID: "db.a"}})
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("reordered catalog should change fingerprint")
	}
	if a.Fingerprint() != New(a.Entries()).Fingerprint() {
		t.Fatal("fingerprint should be stable for the same entries")
	}

	described := New([]entity.CatalogEntry{{CanonicalID: "db.a", Description: "x"}, {CanonicalID: "db.b"}})
	if described.Fingerprint() == a.Fingerprint() {
		t.Fatal("representation change should change fingerprint")
	}
}
