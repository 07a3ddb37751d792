// Package chat assembles prompts and streams grounded answers with citations.
package chat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

const answerSystemPrompt = `You are an assistant for question-answering tasks. Use the retrieved context below to answer the question. If you don't know the answer, just say that you don't know. Keep the answer concise.

Each context block is tagged with a source marker like [S1]. When your answer relies on a block, include its marker inline, e.g. "The deadline is in March [S2]."

Context:
%s`

// noContextNotice is prepended when retrieval found nothing, so the model
// answers from the question alone and does not fabricate sources.
const noContextNotice = "No relevant context was found in the indexed documents."

const snippetLen = 200

// citationMarker matches source markers like [S1] in a generated answer.
var citationMarker = regexp.MustCompile(`\[S(\d+)\]`)

// tokenCounter counts prompt tokens using the cl100k_base encoding, falling
// back to a bytes/4 estimate when the encoding data is unavailable (offline).
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &tokenCounter{}
	}
	return &tokenCounter{enc: enc}
}

func (t *tokenCounter) Count(s string) int {
	if t.enc != nil {
		return len(t.enc.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

// BuildContext renders retrieval results into tagged context blocks, keeping
// results in rank order and stopping at the token budget. It returns the
// rendered context and the results that made it in; citation markers index
// into that slice ([S1] is used[0]).
func BuildContext(counter *tokenCounter, results []*models.RetrievalResult, budget int) (string, []*models.RetrievalResult) {
	if len(results) == 0 {
		return "", nil
	}
	var b strings.Builder
	var used []*models.RetrievalResult
	total := 0
	for _, r := range results {
		block := fmt.Sprintf("[S%d] %s (page %d)\n%s\n\n", len(used)+1, r.DisplayName, r.Page, r.Content)
		cost := counter.Count(block)
		if budget > 0 && total+cost > budget && len(used) > 0 {
			break
		}
		b.WriteString(block)
		total += cost
		used = append(used, r)
		if budget > 0 && total >= budget {
			break
		}
	}
	return strings.TrimSuffix(b.String(), "\n"), used
}

// SystemPrompt renders the system prompt around the context blocks.
func SystemPrompt(contextBlocks string) string {
	if contextBlocks == "" {
		contextBlocks = noContextNotice
	}
	return fmt.Sprintf(answerSystemPrompt, contextBlocks)
}

// ExtractCitations finds source markers in the answer and resolves them
// against the context blocks the prompt carried. Unknown markers are ignored.
// Citations are deduplicated by document and page, in first-mention order.
func ExtractCitations(answer string, used []*models.RetrievalResult) []models.Citation {
	matches := citationMarker.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}
	var citations []models.Citation
	seen := make(map[string]struct{})
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(used) {
			continue
		}
		r := used[n-1]
		key := fmt.Sprintf("%s:%d", r.DocumentID, r.Page)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, models.Citation{
			DocumentID:  r.DocumentID,
			DisplayName: r.DisplayName,
			Page:        r.Page,
			Snippet:     utils.Truncate(r.Content, snippetLen),
		})
	}
	return citations
}
