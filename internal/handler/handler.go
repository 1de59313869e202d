// Package handler exposes assessments, reports and the tutor chat over HTTP.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/brightpath/assessor/internal/assessment"
	"github.com/brightpath/assessor/internal/chat"
	"github.com/brightpath/assessor/internal/model"
	"github.com/brightpath/assessor/internal/store"
)

// Config holds HTTP-level settings.
type Config struct {
	BasePath string
	// AdminTokenHash is the bcrypt hash of the admin bearer token. Admin
	// routes are disabled when empty.
	AdminTokenHash []byte
	// ChatTimeout bounds one upstream chat round trip.
	ChatTimeout time.Duration
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store       *store.Store
	assessments *assessment.Controller
	bot         *chat.Client
	config      Config
}

// New creates a new Handler.
func New(s *store.Store, c *assessment.Controller, bot *chat.Client, cfg Config) *Handler {
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 60 * time.Second
	}
	return &Handler{store: s, assessments: c, bot: bot, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(learnerMiddleware)

	r.Post("/assessments", h.handleStart)
	r.Route("/assessments/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/question", h.handleQuestion)
		r.Post("/answers", h.handleAnswer)
		r.Post("/timeout", h.handleTimeout)
		r.Post("/abandon", h.handleAbandon)
		r.Get("/report", h.handleReport)
		r.Get("/report.html", h.handleReportPage)
	})
	r.Get("/learners/{learnerID}/assessments", h.handleLearnerHistory)
	r.Post("/chat", h.handleChat)
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/questions", h.handleListQuestions)
		r.Post("/questions", h.handleUploadQuestions)
	})
}

// BasePathMiddleware makes the configured base path available to handlers.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORS allows browser callers from origins; an empty list allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language", LearnerHeader, "X-Client-Info", "Apikey"},
		ExposedHeaders: []string{"Location", "Content-Language", "Retry-After"},
		MaxAge:         300,
	})
}

// path prefixes p with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return jsonBody(w, r, 1<<20, v)
}

func jsonBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		return model.NewValidationError("bad_request", "decode request body: %v", err)
	}
	return nil
}
