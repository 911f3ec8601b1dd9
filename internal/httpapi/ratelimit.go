package httpapi

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/courtsidehq/authd/internal/rate"
)

// WithRateLimit applies a per-IP fixed-window limit to one route. The
// limiter failing (Redis down) fails open: availability over strictness.
// Lockout is a separate, per-account mechanism; this one never reads
// account state.
func WithRateLimit(next http.Handler, limiter rate.Limiter, limit int, window time.Duration) http.Handler {
	if limiter == nil || limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r) + "|" + r.URL.Path
		res, err := limiter.Allow(r.Context(), key, limit, window)
		if err != nil {
			log.Printf(`{"level":"warn","msg":"rate_limit_error","path":"%s","err":"%v"}`, r.URL.Path, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if res.RetryAfter > 0 {
			resetAt := time.Now().Add(res.RetryAfter).Unix()
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
		}

		if !res.Allowed {
			if res.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			}
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", 1401)
			return
		}
		next.ServeHTTP(w, r)
	})
}
