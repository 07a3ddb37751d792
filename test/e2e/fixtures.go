// Package e2e exercises the full pipeline: ingestion, retrieval, and
// streamed answering, with a deterministic embedder and a scripted model.
package e2e

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/chunker"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/fileid"
	"github.com/hyperjump/kaiwa/internal/files"
	"github.com/hyperjump/kaiwa/internal/ingest"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/loader"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/retriever"
	"github.com/hyperjump/kaiwa/internal/store"
	"github.com/hyperjump/kaiwa/internal/vector"
)

const (
	testDims      = 16
	testChunkSize = 2000
	testOverlap   = 200
	testPageChars = 2000
)

// env wires the full pipeline against temp storage.
type env struct {
	files     *files.DiskStorage
	store     store.Store
	index     *vector.MemoryIndex
	embedder  embedding.Embedder
	manager   *ingest.Manager
	retriever *retriever.Retriever
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithStore(t, nil)
}

func newEnvWithStore(t *testing.T, st store.Store) *env {
	t.Helper()
	dir := t.TempDir()
	fs, err := files.NewDiskStorage(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	if st == nil {
		sq, err := store.NewSQLiteStore(filepath.Join(dir, "meta.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = sq.Close() })
		st = sq
	}
	idx, err := vector.NewMemoryIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(testDims)
	mgr := ingest.NewManager(
		fs,
		loader.New(testPageChars),
		chunker.New(testChunkSize, testOverlap),
		emb,
		idx,
		st,
	)
	return &env{
		files:     fs,
		store:     st,
		index:     idx,
		embedder:  emb,
		manager:   mgr,
		retriever: retriever.New(emb, idx, st, 7),
	}
}

// pipeline builds an answer pipeline over the env with the given model stub.
func (e *env) pipeline(client llm.Client) *chat.Pipeline {
	return chat.NewPipeline(e.retriever, client, &config.LLMConfig{
		MaxContextTokens: 4096,
		HistoryTurns:     10,
	})
}

// upload stores and ingests a document, returning its ID.
func (e *env) upload(t *testing.T, filename string, content []byte) string {
	t.Helper()
	handle, err := e.files.Store(filename, content)
	if err != nil {
		t.Fatal(err)
	}
	docID := fileid.ForFilename(filename)
	if _, err := e.manager.Ingest(context.Background(), docID, handle, filename); err != nil {
		t.Fatalf("ingest %s: %v", filename, err)
	}
	return docID
}

// textOfChars builds deterministic prose of exactly n characters, ending on a
// word boundary so pseudo-pagination cuts cleanly.
func textOfChars(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		b.WriteString(fmt.Sprintf("sentence %d about the quarterly engineering report. ", i))
	}
	s := b.String()[:n]
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		s = s[:i+1] + strings.Repeat("x", n-i-1)
	}
	return s
}

// minimalDocx builds a smallest-possible DOCX archive with the given
// paragraphs.
func minimalDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ct, err := zw.Create("[Content_Types].xml")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = ct.Write([]byte(`<?xml version="1.0"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`))

	doc, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	var body strings.Builder
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)
	_, _ = doc.Write([]byte(body.String()))

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// scriptedModel replays a fixed token stream.
type scriptedModel struct {
	tokens []string
	system string
}

func (s *scriptedModel) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string) error) error {
	s.system = system
	for _, tok := range s.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

// drain collects all events until the channel closes.
func drain(t *testing.T, events <-chan models.Event) []models.Event {
	t.Helper()
	var out []models.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}
