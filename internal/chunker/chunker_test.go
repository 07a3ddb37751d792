package chunker

import (
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/models"
)

func TestSplit_ShortPageOneChunk(t *testing.T) {
	c := New(100, 10)
	chunks := c.Split("doc1", []models.Page{{Number: 1, Text: "short text"}})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[0].Ordinal != 0 {
		t.Errorf("page=%d ordinal=%d", chunks[0].Page, chunks[0].Ordinal)
	}
	if chunks[0].Content != "short text" {
		t.Errorf("content=%q", chunks[0].Content)
	}
}

func TestSplit_LongPageOverlappingChunks(t *testing.T) {
	c := New(10, 2)
	text := strings.Repeat("abcdefghij", 3) // 30 chars
	chunks := c.Split("d", []models.Page{{Number: 2, Text: text}})
	if len(chunks) < 3 {
		t.Fatalf("expected >=3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Page != 2 {
			t.Errorf("chunk %d page=%d, want 2", i, ch.Page)
		}
		if ch.Ordinal != i {
			t.Errorf("chunk %d ordinal=%d", i, ch.Ordinal)
		}
		if len([]rune(ch.Content)) > 10 {
			t.Errorf("chunk %d too long: %d", i, len(ch.Content))
		}
	}
	// Consecutive chunks overlap by 2 characters.
	first := []rune(chunks[0].Content)
	second := []rune(chunks[1].Content)
	if string(first[len(first)-2:]) != string(second[:2]) {
		t.Errorf("no overlap between %q and %q", chunks[0].Content, chunks[1].Content)
	}
}

func TestSplit_NeverSpansPages(t *testing.T) {
	c := New(50, 10)
	pages := []models.Page{
		{Number: 1, Text: strings.Repeat("a", 120)},
		{Number: 2, Text: strings.Repeat("b", 30)},
		{Number: 3, Text: strings.Repeat("c", 70)},
	}
	chunks := c.Split("doc", pages)
	for _, ch := range chunks {
		for _, r := range ch.Content {
			want := rune('a' + ch.Page - 1)
			if r != want {
				t.Fatalf("chunk on page %d contains %q", ch.Page, r)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c := New(20, 5)
	pages := []models.Page{
		{Number: 1, Text: "the quick brown fox jumps over the lazy dog"},
		{Number: 2, Text: "pack my box with five dozen liquor jugs"},
	}
	a := c.Split("doc", pages)
	b := c.Split("doc", pages)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Content != b[i].Content || a[i].Page != b[i].Page {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_EmptyPageSkipped(t *testing.T) {
	c := New(10, 2)
	chunks := c.Split("d", []models.Page{
		{Number: 1, Text: "   \n\t "},
		{Number: 2, Text: "content"},
	})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Page != 2 {
		t.Errorf("page=%d", chunks[0].Page)
	}
}

// Three 2000-character pages with chunk size 2000 and overlap 200 come out as
// exactly one chunk per page, and the count is stable across runs.
func TestSplit_PageSizedChunks(t *testing.T) {
	c := New(2000, 200)
	pages := make([]models.Page, 3)
	for i := range pages {
		pages[i] = models.Page{Number: i + 1, Text: strings.Repeat(string(rune('a'+i)), 2000)}
	}
	chunks := c.Split("doc", pages)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	again := c.Split("doc", pages)
	if len(again) != len(chunks) {
		t.Errorf("chunk count changed between runs: %d vs %d", len(chunks), len(again))
	}
}

func TestChunkID_Stable(t *testing.T) {
	a := ChunkID("doc", 1, 0, "text")
	b := ChunkID("doc", 1, 0, "text")
	if a != b {
		t.Error("same inputs should yield same ID")
	}
	if ChunkID("doc", 1, 1, "text") == a {
		t.Error("different ordinal should yield different ID")
	}
	if ChunkID("doc", 2, 0, "text") == a {
		t.Error("different page should yield different ID")
	}
}
