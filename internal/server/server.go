// Package server is the HTTP surface of the chat proxy: the chat page, the
// upload/remove/reset endpoints, and the SSE chat stream.
package server

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lmstream/chatd/internal/config"
	"github.com/lmstream/chatd/internal/history"
	"github.com/lmstream/chatd/internal/monitoring"
	"github.com/lmstream/chatd/internal/session"
)

//go:embed static
var staticFS embed.FS

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg     *config.Config
	sess    *session.Session
	hist    *history.Store
	metrics *monitoring.Metrics
}

// New creates the server. metrics may be nil when monitoring is disabled.
func New(cfg *config.Config, sess *session.Session, hist *history.Store, metrics *monitoring.Metrics) *Server {
	return &Server{cfg: cfg, sess: sess, hist: hist, metrics: metrics}
}

// Router assembles the route table with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.panicRecovery)
	r.Use(s.requestLogging)

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})

	r.Post("/chat", s.handleChat)
	r.Post("/upload", s.handleUpload)
	r.Post("/remove_file", s.handleRemoveFile)
	r.Post("/reset", s.handleReset)
	r.Get("/healthz", s.handleHealth)

	if s.metrics != nil && s.cfg.Monitoring.Metrics {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
