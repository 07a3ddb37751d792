// Package loader provides page-attributed text extraction from document files.
package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ErrUnsupportedFormat is returned for extensions outside the supported set.
// Terminal for the document: status becomes failed, never retried automatically.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrCorruptFile is returned when a format-specific parser cannot decode the
// content. Terminal for the document, same as ErrUnsupportedFormat.
var ErrCorruptFile = errors.New("corrupt document file")

// Loader extracts ordered (page, text) sequences from document bytes.
// Formats without native pagination (txt, md, docx) are pseudo-paginated into
// pages of plainPageChars characters; 0 yields a single page 1.
type Loader struct {
	plainPageChars int
}

// New returns a Loader with the given pseudo-page length for unpaginated formats.
func New(plainPageChars int) *Loader {
	return &Loader{plainPageChars: plainPageChars}
}

// Load extracts pages from content. format is a file extension with or without
// the leading dot, case-insensitive.
func (l *Loader) Load(content []byte, format string) ([]models.Page, error) {
	switch NormalizeFormat(format) {
	case "pdf":
		return loadPDF(content)
	case "docx":
		text, err := loadDOCX(content)
		if err != nil {
			return nil, err
		}
		return paginate(text, l.plainPageChars), nil
	case "txt", "md":
		text, err := loadPlain(content)
		if err != nil {
			return nil, err
		}
		return paginate(text, l.plainPageChars), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// NormalizeFormat lowercases format and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(format, "."))
}

// Supported reports whether format is in the loader's format set.
func Supported(format string) bool {
	switch NormalizeFormat(format) {
	case "pdf", "docx", "txt", "md":
		return true
	}
	return false
}

// paginate splits text into synthetic pages of at most pageChars runes, breaking
// at the last whitespace before the limit when possible. pageChars <= 0 yields a
// single page 1. Deterministic: same text and pageChars always produce the same
// page sequence.
func paginate(text string, pageChars int) []models.Page {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if pageChars <= 0 {
		return []models.Page{{Number: 1, Text: text}}
	}
	runes := []rune(text)
	pages := make([]models.Page, 0, len(runes)/pageChars+1)
	num := 1
	for start := 0; start < len(runes); {
		end := start + pageChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Prefer a whitespace boundary so words do not straddle pages.
			cut := end
			for cut > start && !isSpace(runes[cut-1]) {
				cut--
			}
			if cut > start {
				end = cut
			}
		}
		pageText := strings.TrimSpace(string(runes[start:end]))
		if pageText != "" {
			pages = append(pages, models.Page{Number: num, Text: pageText})
			num++
		}
		start = end
	}
	return pages
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
