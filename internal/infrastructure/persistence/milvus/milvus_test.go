package milvus

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"finqa-api/internal/config"
)

func TestNewIndexSpec(t *testing.T) {
	cases := map[string]entity.IndexType{
		"":         entity.Flat,
		"flat":     entity.Flat,
		"IVF_FLAT": entity.IvfFlat,
		"hnsw":     entity.HNSW,
	}
	for in, want := range cases {
		spec, err := newIndexSpec(&config.MilvusConfig{IndexType: in})
		if err != nil {
			t.Fatalf("newIndexSpec(%q): %v", in, err)
		}
		if spec.index.IndexType() != want {
			t.Errorf("newIndexSpec(%q) = %s, want %s", in, spec.index.IndexType(), want)
		}
		if spec.index.Params()["metric_type"] != string(entity.L2) {
			t.Errorf("newIndexSpec(%q) metric = %v", in, spec.index.Params())
		}
	}
	if _, err := newIndexSpec(&config.MilvusConfig{IndexType: "DISKANN"}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestHitsFromResults(t *testing.T) {
	results := []client.SearchResult{{
		ResultCount: 3,
		IDs:         entity.NewColumnInt64(FieldPosition, []int64{7, 2, 4}),
		Scores:      []float32{1, 0, 1},
	}}
	hits, err := hitsFromResults(results)
	if err != nil {
		t.Fatalf("hitsFromResults: %v", err)
	}
	if len(hits) != 3 || hits[0].Position != 2 || hits[1].Position != 4 || hits[2].Position != 7 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score != 1 || hits[1].Score != 0.5 {
		t.Fatalf("scores = %+v", hits)
	}

	bad := []client.SearchResult{{ResultCount: 1, IDs: entity.NewColumnVarChar(FieldPosition, []string{"x"}), Scores: []float32{0}}}
	if _, err := hitsFromResults(bad); err == nil {
		t.Fatal("expected error for varchar ids")
	}
}

func TestCatalogSchemaDim(t *testing.T) {
	s := CatalogSchema("c", 1024, "0123abcd")
	dim, err := vectorDim(s)
	if err != nil || dim != 1024 {
		t.Fatalf("dim = %d, %v", dim, err)
	}
	if !s.Fields[0].PrimaryKey || s.Fields[0].Name != FieldPosition {
		t.Fatalf("schema = %+v", s.Fields[0])
	}
}

func TestFingerprintFromDescription(t *testing.T) {
	if got := fingerprintFromDescription(CatalogSchema("c", 8, "0123abcd").Description); got != "0123abcd" {
		t.Fatalf("fingerprint = %q", got)
	}
	if got := fingerprintFromDescription("Catalog table representations for similarity retrieval"); got != "" {
		t.Fatalf("legacy description fingerprint = %q", got)
	}
}
