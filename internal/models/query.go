package models

// RetrievalResult is a single retrieval hit with provenance. Ephemeral, produced
// per query, never persisted.
type RetrievalResult struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	Page        int     `json:"page"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
	DisplayName string  `json:"display_name"` // denormalized document filename for citation rendering
}

// Citation is a (document, page) grounding reference attached to a generated answer.
type Citation struct {
	DocumentID  string `json:"document_id"`
	DisplayName string `json:"display_name"`
	Page        int    `json:"page"`
	Snippet     string `json:"snippet"`
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
