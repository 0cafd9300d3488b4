package http

import (
	"context"
	"embed"
	"net/http"
	"time"

	"keyword-extractor/internal/middleware"
	"keyword-extractor/internal/session"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

//go:embed static/index.html
var static embed.FS

type Router struct {
	chi.Router
}

func NewRouter() *Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(session.Middleware)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	return &Router{r}
}

// RegisterPageRoutes serves the single page.
func (r *Router) RegisterPageRoutes() {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		page, err := static.ReadFile("static/index.html")
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "page unavailable")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(page)
	})
}

// RegisterKeywordRoutes registers the keyword extraction routes
func (r *Router) RegisterKeywordRoutes(h *KeywordHandler, limiter middleware.Limiter) {
	h.RegisterRoutes(r, middleware.RateLimit(limiter))
}

// RegisterHealthRoutes registers health check routes. ready may be nil.
func (r *Router) RegisterHealthRoutes(ready func(ctx context.Context) error) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":    "unavailable",
					"error":     err.Error(),
					"timestamp": time.Now().Format(time.RFC3339),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ready",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}
