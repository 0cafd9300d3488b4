package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"keyword-extractor/internal/middleware"
	"keyword-extractor/internal/services/keywords"
	"keyword-extractor/internal/services/llm"
	"keyword-extractor/internal/session"
	"keyword-extractor/internal/view"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedClient struct {
	gate chan struct{}
	text string

	mu    sync.Mutex
	calls int
}

func (c *gatedClient) Complete(ctx context.Context, req llm.ExtractionRequest) (*llm.Completion, error) {
	select {
	case <-c.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &llm.Completion{Choices: []llm.Choice{{Text: c.text}}, StatusCode: http.StatusOK}, nil
}

type testServer struct {
	router *Router
	client *gatedClient
	cookie *http.Cookie
}

func newTestServer(t *testing.T, limiter middleware.Limiter, policy view.ClosePolicy) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := &gatedClient{gate: make(chan struct{}), text: " Go, Chi, Zerolog "}
	svc := keywords.NewKeywordService(client, keywords.Options{Model: "gpt-3.5-turbo", MaxRetries: 1})
	registry := session.NewRegistry(policy, time.Minute)

	router := NewRouter()
	router.RegisterPageRoutes()
	router.RegisterKeywordRoutes(NewKeywordHandler(ctx, svc, registry), limiter)
	router.RegisterHealthRoutes(nil)

	return &testServer{router: router, client: client}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			s.cookie = c
		}
	}
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) view.Snapshot {
	t.Helper()

	var snap view.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestPageServed(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 10), view.RetainOnClose)

	rec := s.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/v1/keywords/extract")
}

func TestExtractFlow(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 10), view.RetainOnClose)

	initial := decodeSnapshot(t, s.do(t, http.MethodGet, "/api/v1/keywords/state", ""))
	assert.Equal(t, view.Snapshot{State: view.StateIdle}, initial)
	require.NotNil(t, s.cookie)

	rec := s.do(t, http.MethodPost, "/api/v1/keywords/extract", `{"text":"Go services with chi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	loading := decodeSnapshot(t, rec)
	assert.True(t, loading.Loading)
	assert.True(t, loading.IsOpen)
	assert.Equal(t, view.StateLoading, loading.State)

	close(s.client.gate)
	require.Eventually(t, func() bool {
		return decodeSnapshot(t, s.do(t, http.MethodGet, "/api/v1/keywords/state", "")).State == view.StateResultReady
	}, time.Second, 5*time.Millisecond)

	ready := decodeSnapshot(t, s.do(t, http.MethodGet, "/api/v1/keywords/state", ""))
	assert.Equal(t, "Go, Chi, Zerolog", ready.Keywords)
	assert.True(t, ready.IsOpen)
	assert.False(t, ready.Loading)

	closed := decodeSnapshot(t, s.do(t, http.MethodPost, "/api/v1/keywords/close", ""))
	assert.False(t, closed.IsOpen)
	assert.Equal(t, view.StateIdle, closed.State)
	assert.Equal(t, "Go, Chi, Zerolog", closed.Keywords)
}

func TestExtractAnswersLoadingWhenCompletionIsInstant(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(600, 50), view.RetainOnClose)
	close(s.client.gate)

	for i := 0; i < 20; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/keywords/extract", `{"text":"quick"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		snap := decodeSnapshot(t, rec)
		assert.Equal(t, view.Snapshot{State: view.StateLoading, Loading: true, IsOpen: true}, snap)
	}
}

func TestCloseClearPolicy(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 10), view.ClearOnClose)
	close(s.client.gate)

	s.do(t, http.MethodPost, "/api/v1/keywords/extract", `{"text":"anything"}`)
	require.Eventually(t, func() bool {
		return decodeSnapshot(t, s.do(t, http.MethodGet, "/api/v1/keywords/state", "")).State == view.StateResultReady
	}, time.Second, 5*time.Millisecond)

	closed := decodeSnapshot(t, s.do(t, http.MethodPost, "/api/v1/keywords/close", ""))
	assert.Empty(t, closed.Keywords)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 10), view.RetainOnClose)

	s.do(t, http.MethodPost, "/api/v1/keywords/extract", `{"text":"mine"}`)

	other := &testServer{router: s.router}
	snap := decodeSnapshot(t, other.do(t, http.MethodGet, "/api/v1/keywords/state", ""))
	assert.Equal(t, view.StateIdle, snap.State)
	assert.False(t, snap.IsOpen)
}

func TestExtractValidation(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 10), view.RetainOnClose)

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed", body: `{"text":`, code: ErrCodeBadRequest},
		{name: "empty", body: `{"text":""}`, code: ErrCodeValidation},
		{name: "blank", body: `{"text":"   "}`, code: ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/keywords/extract", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	snap := decodeSnapshot(t, s.do(t, http.MethodGet, "/api/v1/keywords/state", ""))
	assert.Equal(t, view.StateIdle, snap.State, "rejected input never enters loading")
}

func TestExtractRateLimited(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 1), view.RetainOnClose)

	first := s.do(t, http.MethodPost, "/api/v1/keywords/extract", `{"text":"one"}`)
	assert.Equal(t, http.StatusAccepted, first.Code)

	second := s.do(t, http.MethodPost, "/api/v1/keywords/extract", `{"text":"two"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// State polling is not limited.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/keywords/state", "").Code)
	}
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, middleware.NewSimpleRateLimiter(60, 10), view.RetainOnClose)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "").Code)

	failing := NewRouter()
	failing.RegisterHealthRoutes(func(context.Context) error { return errors.New("redis down") })
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
