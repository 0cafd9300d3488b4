package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"keyword-extractor/internal/services/keywords"
	"keyword-extractor/internal/session"
	"keyword-extractor/internal/view"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxTextBytes bounds the request body, not the text the endpoint accepts.
const maxTextBytes = 1 << 20

// ExtractRequest is the body of the extract endpoint.
type ExtractRequest struct {
	Text string `json:"text"`
}

// KeywordHandler exposes the keywords modal to the page.
type KeywordHandler struct {
	service  *keywords.KeywordService
	sessions *session.Registry
	// Background chains outlive the request that started them.
	baseCtx context.Context
}

// NewKeywordHandler creates a new KeywordHandler. baseCtx bounds every
// extraction chain and is cancelled on shutdown.
func NewKeywordHandler(baseCtx context.Context, service *keywords.KeywordService, sessions *session.Registry) *KeywordHandler {
	return &KeywordHandler{
		service:  service,
		sessions: sessions,
		baseCtx:  baseCtx,
	}
}

// RegisterRoutes registers the keyword routes. extractLimit guards the only
// route that reaches the completion endpoint.
func (h *KeywordHandler) RegisterRoutes(r chi.Router, extractLimit func(http.Handler) http.Handler) {
	r.Route("/api/v1/keywords", func(r chi.Router) {
		r.With(extractLimit).Post("/extract", h.Extract)
		r.Post("/close", h.Close)
		r.Get("/state", h.State)
	})
}

// Extract starts an extraction for the caller's session and answers with the
// loading snapshot.
func (h *KeywordHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "text is required")
		return
	}

	p := h.presentation(r)
	gen, snap := h.service.Submit(h.baseCtx, p, req.Text)

	zerolog.Ctx(r.Context()).Debug().Uint64("generation", gen).Msg("Extraction submitted")
	writeJSON(w, http.StatusAccepted, snap)
}

// Close dismisses the modal.
func (h *KeywordHandler) Close(w http.ResponseWriter, r *http.Request) {
	p := h.presentation(r)
	p.Close()
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// State returns the current snapshot for polling.
func (h *KeywordHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presentation(r).Snapshot())
}

func (h *KeywordHandler) presentation(r *http.Request) *view.Presentation {
	return h.sessions.Get(session.FromContext(r.Context()))
}
