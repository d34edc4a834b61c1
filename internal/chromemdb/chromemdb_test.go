package chromemdb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cryptolaw-rag/internal/models"
)

func sampleDocs() []models.ChunkEmbedding {
	return []models.ChunkEmbedding{
		{ChunkID: 1, Content: "stablecoins", Embedding: []float32{1, 0, 0}},
		{ChunkID: 2, Content: "financial promotions", Embedding: []float32{0, 1, 0}},
		{ChunkID: 3, Content: "VASP registration", Embedding: []float32{0, 0, 2}},
	}
}

func TestSearchBeforeBuild(t *testing.T) {
	m, err := NewVectorDBManager(t.TempDir(), "test", false, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Search(context.Background(), []float32{1, 0, 0}, 2); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}
	if err := m.Load(context.Background()); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex from Load, got %v", err)
	}
}

func TestRebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir(), "test", false, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Rebuild(ctx, "v1", sampleDocs()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if m.Version() != "v1" || m.Count() != 3 {
		t.Fatalf("unexpected state version=%q count=%d", m.Version(), m.Count())
	}

	got, err := m.Search(ctx, []float32{0.1, 0, 5}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Content != "VASP registration" || got[0].Rank != 1 || got[0].ID != "chunk-3" {
		t.Fatalf("unexpected top result: %+v", got[0])
	}
	if got[1].Content != "stablecoins" || got[1].Rank != 2 {
		t.Fatalf("unexpected second result: %+v", got[1])
	}

	all, err := m.Search(ctx, []float32{1, 1, 1}, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("k above count should clamp, got %d results", len(all))
	}
}

func TestRebuildEmptyCorpus(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir(), "test", false, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Rebuild(ctx, "empty", nil); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	got, err := m.Search(ctx, []float32{1, 0}, 4)
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestRebuildReplacesAndPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := strings.Repeat("k", 32)

	m, err := NewVectorDBManager(dir, "test", false, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Rebuild(ctx, "v1", sampleDocs()); err != nil {
		t.Fatalf("Rebuild v1: %v", err)
	}
	if err := m.Rebuild(ctx, "v2", sampleDocs()[:1]); err != nil {
		t.Fatalf("Rebuild v2: %v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("rebuild should overwrite, count=%d", m.Count())
	}

	reopened, err := NewVectorDBManager(dir, "test", false, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reopened.Version() != "v2" || reopened.Count() != 1 {
		t.Fatalf("reloaded index mismatch: version=%q count=%d", reopened.Version(), reopened.Count())
	}
	got, err := reopened.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil || len(got) != 1 || got[0].Content != "stablecoins" {
		t.Fatalf("unexpected search after load: %+v %v", got, err)
	}
}

func TestNewVectorDBManagerValidation(t *testing.T) {
	if _, err := NewVectorDBManager(t.TempDir(), "test", false, "short"); err == nil {
		t.Fatal("expected error for a short encryption key")
	}
	if _, err := NewVectorDBManager(t.TempDir(), "", false, ""); err == nil {
		t.Fatal("expected error for empty collection name")
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	if v[0] < 0.599 || v[0] > 0.601 || v[1] < 0.799 || v[1] > 0.801 {
		t.Fatalf("unexpected normalized vector %v", v)
	}
	zero := normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector should stay zero, got %v", zero)
	}
}
