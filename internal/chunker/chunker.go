// Package chunker splits page-attributed text into overlapping retrievable chunks.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// Chunker splits pages into overlapping character windows. A chunk never spans
// a page break; a non-empty page shorter than the target size still becomes one
// chunk. The split is a pure function of its inputs, which is required for
// reproducible re-indexing.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a chunker with the given size and overlap (in characters).
func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Split chunks the given pages for docID. Ordinals are assigned across the whole
// document in page order. Whitespace is normalized before windowing so identical
// logical content always chunks identically.
func (c *Chunker) Split(docID string, pages []models.Page) []*models.Chunk {
	chunks := make([]*models.Chunk, 0)
	ordinal := 0
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	for _, page := range pages {
		text := utils.CollapseWhitespace(page.Text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		for start := 0; start < len(runes); start += step {
			end := start + c.chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			content := string(runes[start:end])
			chunks = append(chunks, &models.Chunk{
				ID:         ChunkID(docID, page.Number, ordinal, content),
				DocumentID: docID,
				Page:       page.Number,
				Ordinal:    ordinal,
				Content:    content,
			})
			ordinal++
			if end >= len(runes) {
				break
			}
		}
	}
	return chunks
}

// ChunkID derives a stable chunk identifier from the chunk's provenance and
// content. Same document, page, ordinal, and text always yield the same ID, so
// re-ingesting an unchanged document is idempotent.
func ChunkID(docID string, page, ordinal int, content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", docID, page, ordinal, content)))
	return hex.EncodeToString(sum[:])
}
