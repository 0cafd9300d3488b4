package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"keyword-extractor/internal/cache"

	"github.com/rs/zerolog/log"
)

// Limiter decides whether a client may make another request. When it may not,
// retryAfter tells the client how long to wait.
type Limiter interface {
	Allow(ctx context.Context, clientIP string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimit rejects requests over the limiter's budget with 429 and a
// Retry-After header. Limiter errors let the request through.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)

			allowed, retryAfter, err := limiter.Allow(r.Context(), clientIP)
			if err != nil {
				log.Warn().Err(err).Str("client_ip", clientIP).Msg("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				log.Warn().
					Str("client_ip", clientIP).
					Str("url", r.URL.String()).
					Dur("retry_after", retryAfter).
					Msg("Rate limit exceeded")

				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.WriteHeader(http.StatusTooManyRequests)

				errorResponse := map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "RATE_LIMIT",
						"message": "Rate limit exceeded. Please try again later.",
					},
				}

				if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
					log.Error().Err(err).Msg("Failed to encode rate limit response")
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client address without its port.
func getClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// Take the first IP in the chain
		if first, _, found := strings.Cut(forwardedFor, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwardedFor)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// SimpleRateLimiter is an in-memory token bucket per client. It is used when
// no Redis is configured and only limits a single instance.
type SimpleRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	burstSize         int
	clients           map[string]*clientLimit
	now               func() time.Time
}

type clientLimit struct {
	tokens     float64
	lastRefill time.Time
}

func NewSimpleRateLimiter(requestsPerMinute, burstSize int) *SimpleRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burstSize <= 0 {
		burstSize = 1
	}

	return &SimpleRateLimiter{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		clients:           make(map[string]*clientLimit),
		now:               time.Now,
	}
}

func (rl *SimpleRateLimiter) Allow(_ context.Context, clientIP string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	client, exists := rl.clients[clientIP]
	if !exists {
		client = &clientLimit{
			tokens:     float64(rl.burstSize),
			lastRefill: now,
		}
		rl.clients[clientIP] = client
	}

	perSecond := float64(rl.requestsPerMinute) / 60
	elapsed := now.Sub(client.lastRefill).Seconds()
	if elapsed > 0 {
		client.tokens = math.Min(client.tokens+elapsed*perSecond, float64(rl.burstSize))
		client.lastRefill = now
	}

	if client.tokens >= 1 {
		client.tokens--
		return true, 0, nil
	}

	wait := time.Duration((1 - client.tokens) / perSecond * float64(time.Second))
	return false, wait, nil
}

// RedisRateLimiter counts requests per client in fixed one-minute windows
// shared by every instance pointing at the same Redis.
type RedisRateLimiter struct {
	cache             *cache.RedisCache
	requestsPerMinute int
	now               func() time.Time
}

func NewRedisRateLimiter(c *cache.RedisCache, requestsPerMinute int) *RedisRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RedisRateLimiter{
		cache:             c,
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, clientIP string) (bool, time.Duration, error) {
	key := cache.RateLimitKey(clientIP, rl.now())

	count, remaining, err := rl.cache.IncrWindow(ctx, key, cache.RateLimitWindow)
	if err != nil {
		return false, 0, err
	}

	if count > int64(rl.requestsPerMinute) {
		return false, remaining, nil
	}
	return true, 0, nil
}
