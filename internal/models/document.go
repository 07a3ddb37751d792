// Package models defines core data structures for documents, chunks, retrieval results, and chat.
package models

import "time"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	// StatusPending means the document is uploaded but not yet indexed.
	StatusPending DocumentStatus = "pending"
	// StatusProcessed means chunks are embedded, indexed, and committed to metadata.
	StatusProcessed DocumentStatus = "processed"
	// StatusFailed means ingestion failed; no chunks for this document are indexed.
	StatusFailed DocumentStatus = "failed"
)

// Document is the metadata record for an uploaded document. It references its
// chunks by ID; chunk content and embeddings live only in the vector index.
type Document struct {
	ID            string         `json:"id" db:"id"`
	Filename      string         `json:"filename" db:"filename"`
	Format        string         `json:"format" db:"format"` // extension without dot: pdf, docx, txt, md
	StorageHandle string         `json:"storage_handle,omitempty" db:"storage_handle"`
	Status        DocumentStatus `json:"status" db:"status"`
	ChunkIDs      []string       `json:"chunk_ids,omitempty" db:"chunk_ids"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Page is a page of extracted text. Number is 1-based. Formats without native
// pagination (txt, md, docx) get synthetic page numbers from the loader.
type Page struct {
	Number int
	Text   string
}

// Chunk is the atomic unit of retrieval: a page-attributed span of document text
// with its embedding. Chunks exist only inside the vector index.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Page       int       `json:"page"`
	Ordinal    int       `json:"ordinal"` // position within the document
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
}
