package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"keyword-extractor/internal/view"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CookieName carries the browser session id.
const CookieName = "kx_session"

type contextKey struct{}

type entry struct {
	presentation *view.Presentation
	lastSeen     time.Time
}

// Registry maps session ids to their presentation state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	policy   view.ClosePolicy
	idleTTL  time.Duration
	now      func() time.Time
}

func NewRegistry(policy view.ClosePolicy, idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		policy:   policy,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Get returns the presentation for id, creating it on first use.
func (r *Registry) Get(id string) *view.Presentation {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		e = &entry{presentation: view.NewPresentation(r.policy)}
		r.sessions[id] = e
	}
	e.lastSeen = r.now()
	return e.presentation
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
// Sessions with a chain still loading are kept.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) && !e.presentation.Snapshot().Loading {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Dur("idle_ttl", r.idleTTL).Msg("Session janitor started")

	for {
		select {
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Int("active", r.Len()).Msg("Evicted idle sessions")
			}
		case <-ctx.Done():
			log.Info().Msg("Session janitor stopped")
			return nil
		}
	}
}

// Middleware makes sure every request carries a session id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(CookieName); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				id = c.Value
			}
		}

		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
	})
}

// FromContext returns the session id set by Middleware.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
