package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/judge"
	"github.com/dgallion1/drawcheck/internal/pipeline"
	"github.com/dgallion1/drawcheck/internal/store"
)

// Server is the HTTP API server for drawcheck.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        *store.Store
	analyzer     *analysis.Analyzer
	judge        *judge.Guarded
	validate     *validator.Validate
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. j may be nil when no
// vision judge is configured.
func NewServer(orch *pipeline.Orchestrator, st *store.Store, an *analysis.Analyzer, j *judge.Guarded, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		store:        st,
		analyzer:     an,
		judge:        j,
		validate:     validator.New(),
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Get("/api/documents", s.handleListDocuments)
		r.Post("/api/documents", s.handleCreateDocument)
		r.Get("/api/documents/{docID}", s.handleGetDocument)
		r.Post("/api/documents/{docID}/revisions", s.handleAddRevision)
		r.Get("/api/documents/{docID}/result", s.handleResult)

		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Post("/api/decisions", s.handleAddDecision)
		r.Post("/api/verdict", s.handleSetVerdict)

		r.Get("/api/revisions/{revID}/register", s.handleRegister)
		r.Get("/api/revisions/{revID}/register.html", s.handleRegisterHTML)
		r.Get("/api/revisions/{revID}/pages/{page}.png", s.handlePage)
		r.Get("/api/revisions/{revID}/history", s.handleHistory)

		r.Get("/api/stats/judge", s.handleJudgeStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
