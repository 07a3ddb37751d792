// Package ingest coordinates document processing and keeps the vector index
// and the metadata store consistent.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/chunker"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/files"
	"github.com/hyperjump/kaiwa/internal/loader"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/store"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// Manager runs the ingestion pipeline (load, chunk, embed, index) and owns the
// consistency protocol between the vector index and the metadata store.
//
// The ordering rule: chunks are inserted into the index first, and the chunk
// list is committed to the store second. A crash in between leaves orphaned
// index chunks, which Reconcile removes at startup using the store as ground
// truth. The reverse order would leave documents claiming chunks that cannot
// be searched, which no later pass could detect.
type Manager struct {
	files    files.Storage
	loader   *loader.Loader
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	index    vector.Index
	store    store.Store
	logger   *zap.Logger // optional; when set, logs ingest events

	// mu serializes index/store mutations so concurrent ingests and deletes
	// of the same document cannot interleave their two-step writes.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for ingest events (document processed, reconcile results, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an ingestion manager with the given dependencies.
func NewManager(
	fileStore files.Storage,
	ld *loader.Loader,
	ck *chunker.Chunker,
	embedder embedding.Embedder,
	index vector.Index,
	st store.Store,
	opts ...Option,
) *Manager {
	m := &Manager{
		files:    fileStore,
		loader:   ld,
		chunker:  ck,
		embedder: embedder,
		index:    index,
		store:    st,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ingest processes a stored upload end to end. The document record is created
// (or reset, on re-upload of the same name) before processing starts, so a
// failure at any later stage leaves a visible failed record rather than
// nothing. Returns the processed document.
func (m *Manager) Ingest(ctx context.Context, docID, handle, filename string) (*models.Document, error) {
	format := loader.NormalizeFormat(filepath.Ext(filename))
	if !loader.Supported(format) {
		return nil, fmt.Errorf("%w: %q", loader.ErrUnsupportedFormat, filename)
	}

	doc, err := m.prepareRecord(ctx, docID, handle, filename, format)
	if err != nil {
		return nil, err
	}

	content, err := m.files.Read(handle)
	if err != nil {
		m.markFailed(ctx, docID)
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	pages, err := m.loader.Load(content, format)
	if err != nil {
		m.markFailed(ctx, docID)
		return nil, fmt.Errorf("failed to load %s: %w", filename, err)
	}

	chunks := m.chunker.Split(docID, pages)
	if len(chunks) == 0 {
		m.markFailed(ctx, docID)
		return nil, fmt.Errorf("document %s produced no chunks", filename)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embeddings, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Nothing was indexed: the failure is clean.
		m.markFailed(ctx, docID)
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chunkIDs, err := m.index.Insert(ctx, chunks)
	if err != nil {
		m.markFailed(ctx, docID)
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}

	if err := m.store.SetChunkIDs(ctx, docID, chunkIDs, models.StatusProcessed); err != nil {
		// Roll back the index insert so no orphans survive a failed commit.
		if delErr := m.index.DeleteDocument(ctx, docID); delErr != nil && m.logger != nil {
			m.logger.Warn("failed to roll back index insert", zap.String("doc_id", docID), zap.Error(delErr))
		}
		m.markFailed(ctx, docID)
		return nil, fmt.Errorf("failed to commit chunk list: %w", err)
	}

	doc.ChunkIDs = chunkIDs
	doc.Status = models.StatusProcessed
	if m.logger != nil {
		m.logger.Info("document processed",
			zap.String("doc_id", docID),
			zap.String("filename", filename),
			zap.Int("pages", len(pages)),
			zap.Int("chunks", len(chunkIDs)))
	}
	return doc, nil
}

// prepareRecord creates the document record, or resets it when the same name
// is uploaded again: the old chunks are removed from the index and the record
// goes back to pending with an empty chunk list before reprocessing.
func (m *Manager) prepareRecord(ctx context.Context, docID, handle, filename, format string) (*models.Document, error) {
	existing, err := m.store.GetDocument(ctx, docID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}

	if existing == nil {
		doc := &models.Document{
			ID:            docID,
			Filename:      filename,
			Format:        format,
			StorageHandle: handle,
			Status:        models.StatusPending,
		}
		if err := m.store.CreateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to create document record: %w", err)
		}
		return doc, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.index.DeleteDocument(ctx, docID); err != nil {
		return nil, fmt.Errorf("failed to remove previous chunks: %w", err)
	}
	if err := m.store.SetChunkIDs(ctx, docID, nil, models.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to reset document record: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("replacing document", zap.String("doc_id", docID), zap.String("filename", filename))
	}
	existing.ChunkIDs = nil
	existing.Status = models.StatusPending
	existing.StorageHandle = handle
	return existing, nil
}

// Remove deletes a document: metadata record first, then index chunks, then
// the stored upload. Once the record is gone the chunks are unreferenced, and
// index deletion is idempotent, so a crash between the two steps is repaired
// by re-running Remove or by the startup reconciliation.
func (m *Manager) Remove(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}
	if err := m.index.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete index chunks: %w", err)
	}
	if doc.StorageHandle != "" {
		if err := m.files.Delete(doc.StorageHandle); err != nil && m.logger != nil {
			m.logger.Warn("failed to delete stored upload", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	if m.logger != nil {
		m.logger.Info("document removed", zap.String("doc_id", docID), zap.String("filename", doc.Filename))
	}
	return nil
}

// ReconcileReport summarizes what a reconciliation pass repaired.
type ReconcileReport struct {
	OrphanChunksRemoved int // index chunks with no document record
	DocumentsFailed     int // processed documents missing chunks in the index
}

// Reconcile repairs divergence between the index and the store after an
// unclean shutdown. The store is ground truth: index chunks belonging to no
// known document are removed, and processed documents missing chunks from the
// index are marked failed so they surface for re-ingestion.
func (m *Manager) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	indexed, err := m.index.ChunkIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list index chunks: %w", err)
	}
	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	known := make(map[string]*models.Document, len(docs))
	for _, d := range docs {
		known[d.ID] = d
	}

	report := &ReconcileReport{}

	// Index chunks whose document the store never committed.
	orphanDocs := make(map[string]int)
	for _, docID := range indexed {
		if _, ok := known[docID]; !ok {
			orphanDocs[docID]++
		}
	}
	for docID, n := range orphanDocs {
		if err := m.index.DeleteDocument(ctx, docID); err != nil {
			return report, fmt.Errorf("failed to remove orphan chunks for %s: %w", docID, err)
		}
		report.OrphanChunksRemoved += n
		if m.logger != nil {
			m.logger.Warn("removed orphaned index chunks",
				zap.String("doc_id", docID), zap.Int("chunks", n))
		}
	}

	// Processed documents whose committed chunks are missing from the index.
	for _, d := range docs {
		if d.Status != models.StatusProcessed {
			continue
		}
		missing := false
		for _, chunkID := range d.ChunkIDs {
			if _, ok := indexed[chunkID]; !ok {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}
		if err := m.store.UpdateStatus(ctx, d.ID, models.StatusFailed); err != nil {
			return report, fmt.Errorf("failed to mark %s failed: %w", d.ID, err)
		}
		report.DocumentsFailed++
		if m.logger != nil {
			m.logger.Warn("document missing index chunks, marked failed",
				zap.String("doc_id", d.ID), zap.String("filename", d.Filename))
		}
	}

	return report, nil
}

// markFailed records a processing failure. Best effort: the original error
// matters more than a failed status write.
func (m *Manager) markFailed(ctx context.Context, docID string) {
	if err := m.store.UpdateStatus(ctx, docID, models.StatusFailed); err != nil && m.logger != nil {
		m.logger.Warn("failed to mark document failed", zap.String("doc_id", docID), zap.Error(err))
	}
}
