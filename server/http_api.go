package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quarry-ai/quarry/chunker"
	"github.com/quarry-ai/quarry/pipeline"
	"github.com/quarry-ai/quarry/progress"
	"github.com/quarry-ai/quarry/qa"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("writing response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

// uploadDocument is one document of an upload request.
type uploadDocument struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// uploadRequest is the POST /upload (and /initialize) body.
type uploadRequest struct {
	Documents      []uploadDocument `json:"documents"`
	Collection     string           `json:"collection_name"`
	Strategy       string           `json:"chunking_strategy"`
	EnableMetadata *bool            `json:"enable_metadata"`
	ForceRecreate  bool             `json:"force_recreate"`
}

func (s *Server) buildJob(req uploadRequest, uploadID string) (pipeline.Job, error) {
	if len(req.Documents) == 0 {
		return pipeline.Job{}, fmt.Errorf("at least one document is required")
	}
	var docs = make([]chunker.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		if d.Content == "" {
			return pipeline.Job{}, fmt.Errorf("document %d has no content", i)
		}
		if d.Source == "" {
			d.Source = fmt.Sprintf("document-%d", i)
		}
		docs = append(docs, chunker.Document{Source: d.Source, Text: d.Content, Attrs: d.Metadata})
	}

	var collection = req.Collection
	if collection == "" {
		collection = s.args.DefaultCollection
	}
	var enableMetadata = s.args.EnableMetadataDefault
	if req.EnableMetadata != nil {
		enableMetadata = *req.EnableMetadata
	}
	return pipeline.Job{
		UploadID:       uploadID,
		Documents:      docs,
		Collection:     collection,
		Strategy:       req.Strategy,
		EnableMetadata: enableMetadata,
		ForceRecreate:  req.ForceRecreate,
	}, nil
}

// handleUpload acknowledges immediately and ingests in the background.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, errors.New("server is shutting down"))
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	var uploadID = uuid.NewString()
	var job, err = s.buildJob(req, uploadID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.args.Tracker.Create(uploadID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.spawn(job)

	log.WithFields(log.Fields{
		"uploadId":  uploadID,
		"documents": len(job.Documents),
		"collection": job.Collection,
	}).Info("upload accepted")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"upload_id":     uploadID,
		"status":        progress.StatusReceived,
		"message":       fmt.Sprintf("accepted %d documents for ingestion", len(job.Documents)),
		"timestamp":     time.Now().UTC(),
		"websocket_url": "/ws/" + uploadID,
	})
}

// initializeRequest either ingests documents synchronously or binds to
// an existing collection.
type initializeRequest struct {
	uploadRequest
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	var collection = req.Collection
	if collection == "" {
		collection = s.args.DefaultCollection
	}

	// Without documents, bind to the existing collection.
	if len(req.Documents) == 0 {
		if err := s.args.QA.InitFromCollection(r.Context(), collection); err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"initialized": true,
			"collection":  collection,
		})
		return
	}

	var uploadID = uuid.NewString()
	var job, err = s.buildJob(req.uploadRequest, uploadID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.args.Tracker.Create(uploadID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := s.args.QA.InitFromDocuments(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized": true,
		"upload_id":   uploadID,
		"result":      result,
	})
}

// validateQuestion checks one qa.Request. A zero k means "use the
// strategy default"; anything else must fall in [1, 20].
func validateQuestion(req qa.Request) error {
	if req.Question == "" {
		return errors.New("question is required")
	}
	if req.K < 0 || req.K > 20 {
		return fmt.Errorf("k must be between 1 and 20, got %d", req.K)
	}
	return nil
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req qa.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := validateQuestion(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var resp, err = s.args.QA.Answer(r.Context(), req)
	if err != nil {
		s.writeQAError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req qa.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := validateQuestion(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var sources, err = s.args.QA.SearchDocuments(r.Context(), req)
	if err != nil {
		s.writeQAError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": sources,
		"count":   len(sources),
	})
}

type batchRequest struct {
	Questions []qa.Request `json:"questions"`
}

func (s *Server) handleBatchQuestions(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one question is required"))
		return
	}
	for i, q := range req.Questions {
		if err := validateQuestion(q); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("question %d: %w", i, err))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": s.args.QA.BatchAnswer(r.Context(), req.Questions),
	})
}

func (s *Server) writeQAError(w http.ResponseWriter, err error) {
	if errors.Is(err, qa.ErrServiceUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"detail":     err.Error(),
			"suggestion": "POST /initialize to bind a collection, or upload documents first",
		})
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var health = s.args.Store.Health(r.Context())

	var status = "healthy"
	var code = http.StatusOK
	if !health.OK {
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        apiVersion,
		"environment":    s.args.Environment,
		"timestamp":      time.Now().UTC(),
		"vector_store":   health,
		"active_uploads": s.args.Tracker.Active(),
		"qa_initialized": s.args.QA.Initialized(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var names, err = s.args.Store.Collections(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	var collections = make(map[string]any, len(names))
	for _, name := range names {
		if stats, err := s.args.Store.Stats(r.Context(), name); err == nil {
			collections[name] = stats
		} else {
			collections[name] = map[string]string{"error": err.Error()}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collections":    collections,
		"active_uploads": s.args.Tracker.Active(),
		"rate_limit":     s.args.Limiter.Stats(),
	})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.args.Limiter.Stats())
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	var name = r.PathValue("name")
	if err := s.args.Store.Delete(r.Context(), name); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
}
