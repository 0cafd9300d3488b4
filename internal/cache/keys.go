package cache

import (
	"fmt"
	"time"
)

const (
	RateLimitWindow = time.Minute
)

// RateLimitKey generates the Redis key counting requests of a client within
// the window that contains at.
func RateLimitKey(clientIP string, at time.Time) string {
	return fmt.Sprintf("kx:ratelimit:ip:%s:%d", clientIP, at.Unix()/int64(RateLimitWindow/time.Second))
}
