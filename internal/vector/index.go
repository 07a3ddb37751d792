// Package vector provides chunk storage with scoped similarity search.
package vector

import (
	"context"

	"github.com/hyperjump/kaiwa/internal/models"
)

// Scope is the set of document IDs a search is restricted to. A nil Scope means
// unscoped; a non-nil empty Scope matches nothing. The distinction matters: an
// explicitly empty scope must not fall back to searching everything.
type Scope map[string]struct{}

// NewScope builds a Scope from ids. A nil slice yields a nil (unscoped) Scope;
// an empty non-nil slice yields an empty Scope that matches nothing.
func NewScope(ids []string) Scope {
	if ids == nil {
		return nil
	}
	s := make(Scope, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Allows reports whether docID passes the scope filter.
func (s Scope) Allows(docID string) bool {
	if s == nil {
		return true
	}
	_, ok := s[docID]
	return ok
}

// Result is a single similarity search hit with provenance.
type Result struct {
	ChunkID    string
	DocumentID string
	Page       int
	Content    string
	Score      float64 // inner product over normalized vectors (cosine similarity)
}

// Index stores embedded chunks and serves scoped similarity search.
//
// Scoping is a hard filter applied before ranking: a scoped search never
// returns a chunk from an excluded document, regardless of its score.
// DeleteDocument is atomic from the caller's perspective and idempotent.
type Index interface {
	// Insert adds chunks with their embeddings and returns the chunk IDs used.
	Insert(ctx context.Context, chunks []*models.Chunk) ([]string, error)
	// DeleteDocument removes every chunk belonging to docID.
	DeleteDocument(ctx context.Context, docID string) error
	// Search returns the k nearest chunks restricted to scope.
	Search(ctx context.Context, query []float32, k int, scope Scope) ([]*Result, error)
	// ChunkIDs returns a chunk ID -> document ID map of the whole index,
	// used by the reconciliation pass.
	ChunkIDs(ctx context.Context) (map[string]string, error)
	// Size returns the number of chunks in the index.
	Size(ctx context.Context) (int, error)
	// Save persists the index to path (no-op for durable backends).
	Save(path string) error
	// Load restores the index from path (no-op for durable backends).
	Load(path string) error
	Close() error
}
