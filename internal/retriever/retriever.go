// Package retriever serves scoped similarity search over ingested documents.
package retriever

import (
	"context"
	"fmt"

	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/store"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// Retriever embeds a query and returns the most similar chunks, optionally
// restricted to a set of documents.
type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	store    store.Store
	topK     int
}

// New creates a retriever. topK is the default result count when the caller
// passes k <= 0.
func New(embedder embedding.Embedder, index vector.Index, st store.Store, topK int) *Retriever {
	if topK <= 0 {
		topK = 7
	}
	return &Retriever{embedder: embedder, index: index, store: st, topK: topK}
}

// Retrieve returns the top chunks for query. scope follows upload semantics:
// nil means all documents, an empty non-nil slice matches nothing. An
// explicitly empty scope short-circuits before the query is embedded.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, scope []string) ([]*models.RetrievalResult, error) {
	if scope != nil && len(scope) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = r.topK
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, queryVec, k, vector.NewScope(scope))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	docIDs := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.DocumentID]; ok {
			continue
		}
		seen[h.DocumentID] = struct{}{}
		docIDs = append(docIDs, h.DocumentID)
	}
	names, err := r.store.DisplayNames(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document names: %w", err)
	}

	results := make([]*models.RetrievalResult, len(hits))
	for i, h := range hits {
		results[i] = &models.RetrievalResult{
			ChunkID:     h.ChunkID,
			DocumentID:  h.DocumentID,
			Page:        h.Page,
			Content:     h.Content,
			Score:       h.Score,
			DisplayName: names[h.DocumentID],
		}
	}
	return results, nil
}
