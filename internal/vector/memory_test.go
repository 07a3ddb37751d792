package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kaiwa/internal/models"
)

func testChunk(id, docID string, page, ordinal int, content string, vec []float32) *models.Chunk {
	return &models.Chunk{
		ID:         id,
		DocumentID: docID,
		Page:       page,
		Ordinal:    ordinal,
		Content:    content,
		Embedding:  vec,
	}
}

func seedIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	idx, err := NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	chunks := []*models.Chunk{
		testChunk("c1", "docA", 1, 0, "alpha", []float32{1, 0}),
		testChunk("c2", "docA", 2, 1, "beta", []float32{0.6, 0.8}),
		testChunk("c3", "docB", 1, 0, "gamma", []float32{0, 1}),
	}
	if _, err := idx.Insert(context.Background(), chunks); err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestMemoryIndex_InsertReturnsIDs(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ids, err := idx.Insert(context.Background(), []*models.Chunk{
		testChunk("c1", "docA", 1, 0, "alpha", []float32{1, 0}),
		testChunk("c2", "docA", 1, 1, "beta", []float32{0, 1}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("ids=%v", ids)
	}
}

func TestMemoryIndex_InsertDimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_, err := idx.Insert(context.Background(), []*models.Chunk{
		testChunk("c1", "docA", 1, 0, "alpha", []float32{1, 0, 0}),
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if n, _ := idx.Size(context.Background()); n != 0 {
		t.Errorf("nothing should be inserted, size=%d", n)
	}
}

func TestMemoryIndex_SearchOrdering(t *testing.T) {
	idx := seedIndex(t)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("best match should be c1, got %s", results[0].ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results should be sorted by descending score")
	}
	if results[1].ChunkID != "c2" {
		t.Errorf("second match should be c2, got %s", results[1].ChunkID)
	}
}

func TestMemoryIndex_SearchScope(t *testing.T) {
	idx := seedIndex(t)
	// Query closest to docA's c1, but scope restricts to docB.
	results, err := idx.Search(context.Background(), []float32{1, 0}, 5, NewScope([]string{"docB"}))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.DocumentID != "docB" {
			t.Errorf("scoped search returned chunk from %s", r.DocumentID)
		}
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result from docB, got %d", len(results))
	}
}

func TestMemoryIndex_SearchEmptyScope(t *testing.T) {
	idx := seedIndex(t)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 5, NewScope([]string{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("explicit empty scope must match nothing, got %d results", len(results))
	}
}

func TestMemoryIndex_DeleteDocument(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()
	if err := idx.DeleteDocument(ctx, "docA"); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.Size(ctx); n != 1 {
		t.Errorf("size=%d after delete, want 1", n)
	}
	ids, err := idx.ChunkIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ids["c1"]; ok {
		t.Error("c1 should be gone")
	}
	if ids["c3"] != "docB" {
		t.Error("docB chunks should survive")
	}
	// Idempotent.
	if err := idx.DeleteDocument(ctx, "docA"); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	idx := seedIndex(t)
	path := filepath.Join(t.TempDir(), "index.bin")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	fresh, _ := NewMemoryIndex(2)
	if err := fresh.Load(path); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if n, _ := fresh.Size(ctx); n != 3 {
		t.Fatalf("size=%d after load, want 3", n)
	}
	results, err := fresh.Search(ctx, []float32{0, 1}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.ChunkID != "c3" || r.DocumentID != "docB" || r.Page != 1 || r.Content != "gamma" {
		t.Errorf("provenance lost on reload: %+v", r)
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.bin")); err != nil {
		t.Errorf("missing file should not be an error, got %v", err)
	}
}

func TestMemoryIndex_LoadDimensionMismatch(t *testing.T) {
	idx := seedIndex(t)
	path := filepath.Join(t.TempDir(), "index.bin")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewMemoryIndex(3)
	if err := other.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestScope(t *testing.T) {
	if NewScope(nil) != nil {
		t.Error("nil ids should give nil scope")
	}
	empty := NewScope([]string{})
	if empty == nil {
		t.Error("empty ids should give non-nil empty scope")
	}
	if empty.Allows("anything") {
		t.Error("empty scope allows nothing")
	}
	var unscoped Scope
	if !unscoped.Allows("anything") {
		t.Error("nil scope allows everything")
	}
	s := NewScope([]string{"a"})
	if !s.Allows("a") || s.Allows("b") {
		t.Error("scope membership broken")
	}
}
