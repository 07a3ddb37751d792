package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/fileid"
	"github.com/hyperjump/kaiwa/internal/files"
	"github.com/hyperjump/kaiwa/internal/loader"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/store"
)

const maxUploadBytes = 64 << 20

// uploadResult reports the outcome for one file of a multipart upload.
// Failures are contained per file: one bad document never blocks the batch.
type uploadResult struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	var headers []*multipart.FileHeader
	for _, hs := range r.MultipartForm.File {
		headers = append(headers, hs...)
	}
	if len(headers) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files in request")
		return
	}

	results := make([]uploadResult, 0, len(headers))
	failures := 0
	for _, h := range headers {
		res := s.ingestOne(r, h)
		if res.Error != "" {
			failures++
		}
		results = append(results, res)
	}

	status := http.StatusCreated
	if failures == len(results) {
		status = http.StatusUnprocessableEntity
	} else if failures > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, map[string]any{"documents": results})
}

func (s *Server) ingestOne(r *http.Request, h *multipart.FileHeader) uploadResult {
	res := uploadResult{Filename: h.Filename}

	if !loader.Supported(filepath.Ext(h.Filename)) {
		res.Status = "rejected"
		res.Error = "unsupported format"
		return res
	}

	f, err := h.Open()
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}
	content, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}

	handle, err := s.files.Store(h.Filename, content)
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}

	docID := fileid.ForFilename(h.Filename)
	res.ID = docID
	doc, err := s.ingestor.Ingest(r.Context(), docID, handle, h.Filename)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("filename", h.Filename), zap.Error(err))
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}
	res.Status = string(doc.Status)
	res.Chunks = len(doc.ChunkIDs)
	return res
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.ingestor.Remove(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.index.Size(ctx)
	if err != nil {
		s.logger.Error("status: index size failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"documents": docCount,
		"chunks":    chunkCount,
		"config": map[string]any{
			"vector_backend":       s.config.Vector.Backend,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_size":           s.config.Chunking.ChunkSize,
			"chunk_overlap":        s.config.Chunking.ChunkOverlap,
			"llm_provider":         s.config.LLM.Provider,
			"llm_model":            s.config.LLM.Model,
		},
	}
	diskBytes, err := files.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.VectorIndexPath,
		s.config.Storage.UploadsDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
