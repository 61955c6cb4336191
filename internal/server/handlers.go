package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/qa"
	"github.com/hyperjump/kotaeru/internal/storage"
	"go.uber.org/zap"
)

type queryRequest struct {
	Question string            `json:"question"`
	Mode     string            `json:"mode,omitempty"`
	Verbose  bool              `json:"verbose,omitempty"`
	Filter   map[string]string `json:"filter,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("query request", zap.String("question", req.Question), zap.String("mode", req.Mode))
	result, err := s.engine.Query(r.Context(), req.Question, qa.QueryOptions{
		Mode:    models.Mode(req.Mode),
		Verbose: req.Verbose,
		Filter:  req.Filter,
	})
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

type indexPathRequest struct {
	Path string `json:"path"`
	Glob string `json:"glob,omitempty"`
}

func (s *Server) handleIndexPath(w http.ResponseWriter, r *http.Request) {
	var req indexPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "path not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("index request", zap.String("path", abs), zap.String("glob", req.Glob))
	if info.IsDir() {
		result, err := s.engine.IndexDirectory(r.Context(), abs, req.Glob)
		if err != nil {
			s.logger.Error("indexing failed", zap.Error(err))
			s.respondError(w, statusFor(err), err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, result)
		return
	}
	chunks, skipped, err := s.engine.IndexFile(r.Context(), abs)
	if err != nil {
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	docs, skippedCount := 1, 0
	if skipped {
		docs, skippedCount = 0, 1
	}
	s.respondJSON(w, http.StatusOK, map[string]int{
		"documents": docs,
		"chunks":    chunks,
		"skipped":   skippedCount,
	})
}

type documentRequest struct {
	ID         string            `json:"id,omitempty"`
	SourcePath string            `json:"source_path,omitempty"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	doc := &models.Document{
		ID:         req.ID,
		SourcePath: req.SourcePath,
		Text:       req.Text,
		Metadata:   req.Metadata,
	}
	s.logger.Debug("index document request", zap.String("id", doc.ID))
	chunks, err := s.engine.IndexDocument(r.Context(), doc)
	if err != nil {
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     doc.ID,
		"chunks": chunks,
		"status": "indexed",
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.engine.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("clear index request")
	if err := s.engine.Clear(r.Context()); err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents": stats.Documents,
		"chunks":    stats.Chunks,
		"vectors":   stats.Vectors,
		"config": map[string]interface{}{
			"mode":                 s.config.Mode,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_size":           s.config.Chunking.Size,
			"chunk_overlap":        s.config.Chunking.Overlap,
			"vector_backend":       s.config.Vector.Backend,
			"database_path":        s.config.Storage.DatabasePath,
			"keyword_index_path":   s.config.Storage.KeywordIndexPath,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.KeywordIndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors to HTTP status codes. Configuration
// problems are the caller's fault; everything else is a server-side failure.
func statusFor(err error) int {
	if errors.Is(err, models.ErrConfiguration) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
