package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/kiln-ai/kiln-go/internal/config"
)

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the time window for rate limiting.
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request. Nil defaults to
	// IP-based limiting.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit creates a rate limiting middleware using the httprate library's
// sliding window counter.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"Too many requests. Please try again later."}`))
		}),
	)
}

// APIRateLimit returns the limiter for general API endpoints. The server is
// local-first, so the ceiling is generous and mostly guards against runaway
// clients. Tunable via KILN_API_RATE_LIMIT (requests per minute).
func APIRateLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: config.ParseInt("KILN_API_RATE_LIMIT", 600),
		WindowSize:   time.Minute,
	})
}

// RunRateLimit returns a tighter limiter for endpoints that trigger model
// inference or provider jobs. Tunable via KILN_RUN_RATE_LIMIT.
func RunRateLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: config.ParseInt("KILN_RUN_RATE_LIMIT", 60),
		WindowSize:   time.Minute,
	})
}
