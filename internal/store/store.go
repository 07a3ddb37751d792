// Package store defines metadata persistence for documents.
package store

import (
	"context"
	"errors"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Store persists document records. The metadata store is the ground truth for
// reconciliation: a chunk the store does not know about is an orphan.
type Store interface {
	// CreateDocument inserts a new document record.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocument returns a document by ID, or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// ListDocuments returns all documents, newest first.
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	// UpdateStatus sets the processing status of a document.
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus) error
	// SetChunkIDs commits the document's chunk list and status in one write.
	SetChunkIDs(ctx context.Context, id string, chunkIDs []string, status models.DocumentStatus) error
	// DeleteDocument removes a document record, or ErrNotFound.
	DeleteDocument(ctx context.Context, id string) error
	// DisplayNames resolves document IDs to filenames. Unknown IDs are omitted.
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
	// CountDocuments returns the total number of document records.
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
