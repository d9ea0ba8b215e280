// Package api exposes a read-only HTTP view of the document store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/finsights/internal/config"
	"github.com/dharsanguruparan/finsights/internal/model"
)

const maxListLimit = 500

// Store is the read side of the document store.
type Store interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Document, error)
}

// Server exposes HTTP endpoints for document visibility.
type Server struct {
	cfg     *config.Config
	store   Store
	logger  *slog.Logger
	handler http.Handler
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, store: store, logger: logger}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/documents", s.handleDocuments)
		mux.HandleFunc("/documents/", s.handleDocumentRoute)
		s.handler = corsMiddleware(s.loggingMiddleware(mux))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	status := model.Status(q.Get("status"))
	if status == "" {
		status = model.StatusParsed
	}
	if !status.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}
	docs, err := s.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("list documents", "status", status, "error", err)
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	s.respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.Split(path, "/")
	if parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleDocument(w, r, id)
		return
	}
	if parts[1] != "text" {
		http.NotFound(w, r)
		return
	}
	s.handleDocumentText(w, r, id)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, ok := s.load(w, r, id)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDocumentText(w http.ResponseWriter, r *http.Request, id string) {
	doc, ok := s.load(w, r, id)
	if !ok {
		return
	}
	if doc.Status != model.StatusParsed || doc.TextFileName == nil {
		http.Error(w, "document not parsed", http.StatusAccepted)
		return
	}
	f, err := os.Open(filepath.Join(s.cfg.TextDir, filepath.Base(*doc.TextFileName)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "transcript file missing", http.StatusNotFound)
			return
		}
		s.logger.Error("open transcript", "documentId", id, "error", err)
		http.Error(w, "failed to read transcript", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	modified := time.Time{}
	if doc.TextFileCreatedAt != nil {
		modified = *doc.TextFileCreatedAt
	}
	http.ServeContent(w, r, *doc.TextFileName, modified, f)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request, id string) (*model.Document, bool) {
	doc, err := s.store.Get(r.Context(), id)
	if err == nil {
		return doc, true
	}
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return nil, false
	}
	s.logger.Error("load document", "documentId", id, "error", err)
	http.Error(w, "failed to load document", http.StatusInternalServerError)
	return nil, false
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
