package retrieval

import (
	"context"
	"math/rand"
	"testing"

	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
)

func TestFlatIndexSearchUnbuiltIsNotReady(t *testing.T) {
	ix := NewFlatIndex()
	_, err := ix.Search(context.Background(), []float32{1, 2}, 3)
	if !apperrors.IsCode(err, apperrors.CodeIndexNotReady) {
		t.Fatalf("expected IndexNotReady, got %v", err)
	}

	if err := ix.Build(context.Background(), nil); err != nil {
		t.Fatalf("build empty: %v", err)
	}
	_, err = ix.Search(context.Background(), []float32{1, 2}, 3)
	if !apperrors.IsCode(err, apperrors.CodeIndexNotReady) {
		t.Fatalf("expected IndexNotReady after empty build, got %v", err)
	}
}

func TestFlatIndexRejectsMixedDimensions(t *testing.T) {
	ix := NewFlatIndex()
	err := ix.Build(context.Background(), [][]float32{{1, 2}, {1, 2, 3}})
	if !apperrors.IsCode(err, apperrors.CodeInvalidParam) {
		t.Fatalf("expected dimension error, got %v", err)
	}
	if ix.Size() != 0 {
		t.Fatalf("failed build must not replace the index")
	}
}

func TestFlatIndexOrdersByDistanceThenPosition(t *testing.T) {
	ix := NewFlatIndex()
	vectors := [][]float32{
		{3, 0}, // d=9
		{1, 0}, // d=1
		{0, 1}, // d=1
		{0, 0}, // d=0
		{2, 0}, // d=4
	}
	if err := ix.Build(context.Background(), vectors); err != nil {
		t.Fatalf("build: %v", err)
	}

	hits, err := ix.Search(context.Background(), []float32{0, 0}, 4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []entity.RetrievalHit{
		{Position: 3, Score: 1},
		{Position: 1, Score: 0.5},
		{Position: 2, Score: 0.5},
		{Position: 4, Score: 0.2},
	}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d", len(hits), len(want))
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hit %d = %+v, want %+v", i, hits[i], want[i])
		}
	}
}

func TestFlatIndexKLargerThanSize(t *testing.T) {
	ix := NewFlatIndex()
	_ = ix.Build(context.Background(), [][]float32{{1}, {2}})
	hits, err := ix.Search(context.Background(), []float32{0}, 25)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
}

func TestFlatIndexQueryDimensionMismatch(t *testing.T) {
	ix := NewFlatIndex()
	_ = ix.Build(context.Background(), [][]float32{{1, 2}})
	if _, err := ix.Search(context.Background(), []float32{1}, 1); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestScoreBoundsAndIdenticalVector(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, 50)
	for i := range vectors {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()*20 - 10
		}
		vectors[i] = v
	}
	ix := NewFlatIndex()
	if err := ix.Build(context.Background(), vectors); err != nil {
		t.Fatalf("build: %v", err)
	}

	for i, v := range vectors {
		hits, err := ix.Search(context.Background(), v, len(vectors))
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if hits[0].Position != i || hits[0].Score != 1 {
			t.Fatalf("identical vector %d: top hit %+v", i, hits[0])
		}
		for _, h := range hits {
			if h.Score <= 0 || h.Score > 1 {
				t.Fatalf("score out of (0,1]: %v", h.Score)
			}
		}
	}
}

func TestThresholdFilteringIsSubsequenceOfTopK(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vectors := make([][]float32, 40)
	for i := range vectors {
		vectors[i] = []float32{rng.Float32(), rng.Float32(), rng.Float32()}
	}
	ix := NewFlatIndex()
	_ = ix.Build(context.Background(), vectors)

	query := []float32{0.5, 0.5, 0.5}
	for _, k := range []int{1, 5, 25, 40} {
		top, err := ix.Search(context.Background(), query, k)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, threshold := range []float64{0, 0.5, 0.7, 0.9, 1.1} {
			filtered := FilterByThreshold(top, threshold)
			j := 0
			for _, h := range filtered {
				for j < len(top) && top[j] != h {
					j++
				}
				if j == len(top) {
					t.Fatalf("k=%d threshold=%v: %+v not a subsequence of top-k", k, threshold, filtered)
				}
				if h.Score < threshold {
					t.Fatalf("hit below threshold survived: %+v", h)
				}
				j++
			}
			for i := 1; i < len(filtered); i++ {
				if filtered[i].Score > filtered[i-1].Score {
					t.Fatalf("filtered hits not in descending score order")
				}
			}
		}
	}
}
