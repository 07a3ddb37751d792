package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/files"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/store"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// stubIngestor records calls and returns canned documents.
type stubIngestor struct {
	ingested []string
	removed  []string
	err      error
}

func (s *stubIngestor) Ingest(ctx context.Context, docID, handle, filename string) (*models.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.ingested = append(s.ingested, filename)
	return &models.Document{ID: docID, Filename: filename, Status: models.StatusProcessed, ChunkIDs: []string{"c1", "c2"}}, nil
}

func (s *stubIngestor) Remove(ctx context.Context, docID string) error {
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, docID)
	return nil
}

// stubAsker replays a fixed event sequence and records the request.
type stubAsker struct {
	events   []models.Event
	question string
	scope    []string
}

func (s *stubAsker) Ask(ctx context.Context, question string, history []models.ChatMessage, scope []string) <-chan models.Event {
	s.question = question
	s.scope = scope
	ch := make(chan models.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func newTestServer(t *testing.T, asker Asker, ing Ingestor) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	fs, err := files.NewDiskStorage(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return NewServer(asker, ing, st, fs, idx, cfg, zap.NewNop()), st
}

func multipartBody(t *testing.T, names map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range names {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	ing := &stubIngestor{}
	srv, _ := newTestServer(t, &stubAsker{}, ing)

	body, ctype := multipartBody(t, map[string]string{"notes.txt": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Documents []uploadResult `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Documents) != 1 {
		t.Fatalf("got %d documents", len(resp.Documents))
	}
	d := resp.Documents[0]
	if d.Status != "processed" || d.Chunks != 2 || d.ID == "" {
		t.Errorf("result=%+v", d)
	}
	if len(ing.ingested) != 1 {
		t.Errorf("ingested=%v", ing.ingested)
	}
}

func TestHandleUpload_PerFileContainment(t *testing.T) {
	ing := &stubIngestor{}
	srv, _ := newTestServer(t, &stubAsker{}, ing)

	body, ctype := multipartBody(t, map[string]string{
		"good.txt":   "fine",
		"bad.exe":    "nope",
		"another.md": "also fine",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp struct {
		Documents []uploadResult `json:"documents"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	rejected := 0
	processed := 0
	for _, d := range resp.Documents {
		switch d.Status {
		case "rejected":
			rejected++
			if d.Filename != "bad.exe" {
				t.Errorf("rejected %s", d.Filename)
			}
		case "processed":
			processed++
		}
	}
	if rejected != 1 || processed != 2 {
		t.Errorf("rejected=%d processed=%d", rejected, processed)
	}
}

func TestHandleUpload_NoFiles(t *testing.T) {
	srv, _ := newTestServer(t, &stubAsker{}, &stubIngestor{})
	body, ctype := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status=%d", rec.Code)
	}
}

func TestHandleListDocuments(t *testing.T) {
	srv, st := newTestServer(t, &stubAsker{}, &stubIngestor{})
	_ = st.CreateDocument(context.Background(), &models.Document{
		ID: "d1", Filename: "a.txt", Format: "txt", StorageHandle: "a.txt", Status: models.StatusProcessed,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].ID != "d1" {
		t.Errorf("documents=%+v", resp.Documents)
	}
}

func TestHandleDeleteDocument(t *testing.T) {
	ing := &stubIngestor{}
	srv, _ := newTestServer(t, &stubAsker{}, ing)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/d1", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if len(ing.removed) != 1 || ing.removed[0] != "d1" {
		t.Errorf("removed=%v", ing.removed)
	}
}

func TestHandleDeleteDocument_NotFound(t *testing.T) {
	ing := &stubIngestor{err: store.ErrNotFound}
	srv, _ := newTestServer(t, &stubAsker{}, ing)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/nope", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status=%d", rec.Code)
	}
}

func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestHandleAsk(t *testing.T) {
	asker := &stubAsker{events: []models.Event{
		{Type: models.EventToken, Token: "Hello"},
		{Type: models.EventToken, Token: " there"},
		{Type: models.EventCitations, Citations: []models.Citation{
			{DocumentID: "d1", DisplayName: "a.txt", Page: 2, Snippet: "snip"},
		}},
	}}
	srv, _ := newTestServer(t, asker, &stubIngestor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask",
		strings.NewReader(`{"question":"what?","scope":["d1"]}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type=%s", ct)
	}
	frames := parseSSE(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[0]["token"] != "Hello" || frames[1]["token"] != " there" {
		t.Errorf("token frames: %v", frames[:2])
	}
	last := frames[2]
	if last["done"] != true {
		t.Errorf("terminal frame: %v", last)
	}
	if asker.question != "what?" {
		t.Errorf("question=%q", asker.question)
	}
	if len(asker.scope) != 1 || asker.scope[0] != "d1" {
		t.Errorf("scope=%v", asker.scope)
	}
}

func TestHandleAsk_ScopeOmittedVsEmpty(t *testing.T) {
	asker := &stubAsker{events: []models.Event{{Type: models.EventCitations}}}
	srv, _ := newTestServer(t, asker, &stubIngestor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if asker.scope != nil {
		t.Errorf("omitted scope should be nil, got %v", asker.scope)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"q","scope":[]}`))
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if asker.scope == nil || len(asker.scope) != 0 {
		t.Errorf("explicit empty scope should be non-nil empty, got %v", asker.scope)
	}
}

func TestHandleAsk_Errors(t *testing.T) {
	asker := &stubAsker{events: []models.Event{
		{Type: models.EventToken, Token: "part"},
		{Type: models.EventError, Err: errors.New("provider down"), Partial: true},
	}}
	srv, _ := newTestServer(t, asker, &stubIngestor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"q"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	frames := parseSSE(t, rec.Body.String())
	last := frames[len(frames)-1]
	if last["error"] != "provider down" || last["partial"] != true {
		t.Errorf("error frame: %v", last)
	}

	// Missing question.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status=%d", rec.Code)
	}
}

func TestHandleHealthAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, &stubAsker{}, &stubIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if _, ok := resp["documents"]; !ok {
		t.Error("missing documents count")
	}
	if _, ok := resp["config"]; !ok {
		t.Error("missing config info")
	}
}
