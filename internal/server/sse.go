package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
)

// askRequest is the /api/v1/ask body. Scope semantics follow JSON shape: an
// omitted scope decodes to nil (search everything), an explicit [] decodes to
// an empty non-nil slice (match nothing).
type askRequest struct {
	Question string               `json:"question"`
	History  []models.ChatMessage `json:"history,omitempty"`
	Scope    []string             `json:"scope,omitempty"`
}

type tokenFrame struct {
	Token string `json:"token"`
}

type doneFrame struct {
	Done      bool              `json:"done"`
	Citations []models.Citation `json:"citations"`
}

type errorFrame struct {
	Error   string `json:"error"`
	Partial bool   `json:"partial"`
}

// handleAsk streams the answer as server-sent events: one data frame per
// token, then a single terminal frame carrying citations or an error.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Correlates the request line with any mid-stream failure below.
	askID := uuid.New().String()
	s.logger.Debug("ask request",
		zap.String("ask_id", askID),
		zap.Int("history", len(req.History)),
		zap.Bool("scoped", req.Scope != nil))

	for ev := range s.asker.Ask(r.Context(), req.Question, req.History, req.Scope) {
		switch ev.Type {
		case models.EventToken:
			writeSSE(w, flusher, tokenFrame{Token: ev.Token})
		case models.EventCitations:
			citations := ev.Citations
			if citations == nil {
				citations = []models.Citation{}
			}
			writeSSE(w, flusher, doneFrame{Done: true, Citations: citations})
		case models.EventError:
			s.logger.Error("answer stream failed", zap.String("ask_id", askID), zap.Error(ev.Err))
			writeSSE(w, flusher, errorFrame{Error: ev.Err.Error(), Partial: ev.Partial})
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
