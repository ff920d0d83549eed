package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/scanqa/chat"
	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/knowledge"
	"github.com/fabfab/scanqa/pipeline"
)

const retryAfterSeconds = "5"

// Pipeline is the document pipeline the server fronts.
type Pipeline interface {
	Initialize(ctx context.Context) error
	Ask(ctx context.Context, question string) (chat.Answer, error)
	Clear(ctx context.Context) error
	State() pipeline.State
	Stats() pipeline.Stats
	DocumentID() string
	SourceName() string
	Provenance(ctx context.Context) (knowledge.Summary, bool, error)
}

// Server exposes HTTP handlers for one scanned document.
type Server struct {
	pipeline Pipeline
	logger   *log.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer   string        `json:"answer"`
	Refused  bool          `json:"refused"`
	Pages    []int         `json:"pages"`
	Evidence []evidenceRef `json:"evidence"`
}

type evidenceRef struct {
	ChunkID string `json:"chunkId"`
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}

type statusResponse struct {
	DocumentID         string     `json:"documentId"`
	Source             string     `json:"source"`
	State              string     `json:"state"`
	Pages              int        `json:"pages"`
	LowConfidencePages int        `json:"lowConfidencePages"`
	Chunks             int        `json:"chunks"`
	IngestedAt         *time.Time `json:"ingestedAt,omitempty"`
	Provenance         *provenance `json:"provenance,omitempty"`
}

// provenance is what the graph holds for the document, which can lag the
// index when a graph sync failed.
type provenance struct {
	Pages              int `json:"pages"`
	LowConfidencePages int `json:"lowConfidencePages"`
	Chunks             int `json:"chunks"`
}

// New constructs a Server over p.
func New(p Pipeline, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{pipeline: p, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/clear", s.handleClear)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	stats := s.pipeline.Stats()
	resp := statusResponse{
		DocumentID:         s.pipeline.DocumentID(),
		Source:             s.pipeline.SourceName(),
		State:              s.pipeline.State().String(),
		Pages:              stats.Pages,
		LowConfidencePages: stats.LowConfidencePages,
		Chunks:             stats.Chunks,
	}
	if !stats.IngestedAt.IsZero() {
		resp.IngestedAt = &stats.IngestedAt
	}

	summary, ok, err := s.pipeline.Provenance(r.Context())
	switch {
	case err != nil:
		s.logger.Printf("status provenance: %v", err)
	case ok:
		resp.Provenance = &provenance{
			Pages:              summary.Pages,
			LowConfidencePages: summary.LowConfidencePages,
			Chunks:             summary.Chunks,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := s.pipeline.Initialize(r.Context()); err != nil {
		s.writeDomainError(w, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ingestion complete"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	answer, err := s.pipeline.Ask(r.Context(), req.Question)
	if err != nil {
		s.writeDomainError(w, fmt.Errorf("ask failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, transformAnswer(answer))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	if err := s.pipeline.Clear(r.Context()); err != nil {
		s.writeDomainError(w, fmt.Errorf("clear failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "document cleared"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

// writeDomainError maps pipeline errors onto status codes. Transient
// conditions get 503 with Retry-After.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrInvalidInput), errors.Is(err, document.ErrInvalidFilter):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, document.ErrIngestionInProgress):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, document.ErrNotReady), document.IsRetryable(err):
		w.Header().Set("Retry-After", retryAfterSeconds)
		s.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, document.ErrIngestion):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, document.ErrGeneration):
		s.writeError(w, http.StatusBadGateway, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func transformAnswer(answer chat.Answer) askResponse {
	resp := askResponse{
		Answer:   answer.Text,
		Refused:  answer.Refused,
		Pages:    answer.Pages(),
		Evidence: make([]evidenceRef, len(answer.Evidence)),
	}
	for i, c := range answer.Evidence {
		snippet := strings.TrimSpace(c.Text)
		if runes := []rune(snippet); len(runes) > 200 {
			snippet = string(runes[:200]) + "..."
		}
		resp.Evidence[i] = evidenceRef{ChunkID: c.ID, Page: c.PageNumber, Snippet: snippet}
	}
	return resp
}

var _ Pipeline = (*pipeline.Controller)(nil)
