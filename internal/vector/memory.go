package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kaiwa/internal/models"
)

// entry is one indexed chunk with its vector and provenance.
type entry struct {
	id      string
	docID   string
	page    int
	ordinal int
	content string
	vector  []float32
}

// MemoryIndex is an in-memory vector index using brute-force inner product
// search, with binary persistence. Reads take a shared lock so searches run
// concurrently; mutations take the exclusive lock.
type MemoryIndex struct {
	dimensions int
	entries    []entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Insert appends chunks with their embeddings and returns the chunk IDs used.
func (m *MemoryIndex) Insert(ctx context.Context, chunks []*models.Chunk) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) != m.dimensions {
			return nil, fmt.Errorf("chunk %s: vector dimension mismatch: got %d, expected %d", ch.ID, len(ch.Embedding), m.dimensions)
		}
	}
	for i, ch := range chunks {
		vec := make([]float32, m.dimensions)
		copy(vec, ch.Embedding)
		m.entries = append(m.entries, entry{
			id:      ch.ID,
			docID:   ch.DocumentID,
			page:    ch.Page,
			ordinal: ch.Ordinal,
			content: ch.Content,
			vector:  vec,
		})
		ids[i] = ch.ID
	}
	return ids, nil
}

// DeleteDocument removes every chunk belonging to docID. Idempotent: deleting a
// document with no indexed chunks is a no-op.
func (m *MemoryIndex) DeleteDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.docID != docID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// Search returns the top-k chunks by inner product (cosine similarity for
// normalized vectors), restricted to scope. The scope filter is applied before
// ranking; a non-nil empty scope returns no results.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, scope Scope) ([]*Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	if scope != nil && len(scope) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	scored := make([]*Result, 0, len(m.entries))
	for i := range m.entries {
		e := &m.entries[i]
		if !scope.Allows(e.docID) {
			continue
		}
		var dot float64
		for j := 0; j < m.dimensions; j++ {
			dot += float64(query[j] * e.vector[j])
		}
		scored = append(scored, &Result{
			ChunkID:    e.id,
			DocumentID: e.docID,
			Page:       e.page,
			Content:    e.content,
			Score:      dot,
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// ChunkIDs returns a chunk ID -> document ID map of the index contents.
func (m *MemoryIndex) ChunkIDs(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for _, e := range m.entries {
		out[e.id] = e.docID
	}
	return out, nil
}

// Size returns the number of chunks in the index.
func (m *MemoryIndex) Size(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Save persists the index to path. Directory is created if needed.
// Format: dimensions (4), n (4), then per entry: id, docID, content as
// length-prefixed strings, page (4), ordinal (4), vector (dimensions*4 bytes).
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, e := range m.entries {
		for _, s := range []string{e.id, e.docID, e.content} {
			if err := writeString(f, s); err != nil {
				return err
			}
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(e.page)); err != nil {
			return fmt.Errorf("write page: %w", err)
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(e.ordinal)); err != nil {
			return fmt.Errorf("write ordinal: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(e.vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	entries := make([]entry, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var e entry
		if e.id, err = readString(f); err != nil {
			return err
		}
		if e.docID, err = readString(f); err != nil {
			return err
		}
		if e.content, err = readString(f); err != nil {
			return err
		}
		var page, ordinal uint32
		if err := binary.Read(f, binary.LittleEndian, &page); err != nil {
			return fmt.Errorf("read page: %w", err)
		}
		if err := binary.Read(f, binary.LittleEndian, &ordinal); err != nil {
			return fmt.Errorf("read ordinal: %w", err)
		}
		e.page = int(page)
		e.ordinal = int(ordinal)
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		e.vector = bytesToFloat32Slice(buf)
		entries = append(entries, e)
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

func writeString(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return fmt.Errorf("write string len: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("read string len: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
