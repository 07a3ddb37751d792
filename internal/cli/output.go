// Package cli provides output formatting for the Kaiwa command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates an output format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "text", "":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteCitations writes the sources of an answer.
func WriteCitations(w io.Writer, citations []models.Citation, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(citations)
	}
	if len(citations) == 0 {
		fmt.Fprintln(w, "\n(no sources)")
		return nil
	}
	fmt.Fprintf(w, "\n\nSources:\n")
	for i, c := range citations {
		fmt.Fprintf(w, "  [%d] %s, page %d\n", i+1, c.DisplayName, c.Page)
		if c.Snippet != "" {
			fmt.Fprintf(w, "      %s\n", utils.Truncate(c.Snippet, 120))
		}
	}
	return nil
}

// WriteDocuments writes a document listing.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "no documents")
		return nil
	}
	fmt.Fprintf(w, "%-18s %-11s %7s  %s\n", "ID", "STATUS", "CHUNKS", "FILENAME")
	for _, d := range docs {
		fmt.Fprintf(w, "%-18s %-11s %7d  %s\n", d.ID, d.Status, len(d.ChunkIDs), d.Filename)
	}
	return nil
}

// WriteUploadResults writes per-file upload outcomes.
func WriteUploadResults(w io.Writer, results []UploadResult, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%-30s %s: %s\n", r.Filename, r.Status, r.Error)
			continue
		}
		fmt.Fprintf(w, "%-30s %s (%d chunks, id %s)\n", r.Filename, r.Status, r.Chunks, r.ID)
	}
	return nil
}

// UploadResult mirrors the per-file outcome of the upload endpoint.
type UploadResult struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks,omitempty"`
	Error    string `json:"error,omitempty"`
}
