package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"maintline/internal/config"
)

// actorLimiter hands out one token bucket per authenticated user.
type actorLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*rate.Limiter
}

func newActorLimiter(cfg config.ToolsConfig) *actorLimiter {
	if cfg.RatePerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &actorLimiter{
		limit:    rate.Every(time.Minute / time.Duration(cfg.RatePerMinute)),
		burst:    burst,
		limiters: map[int64]*rate.Limiter{},
	}
}

func (l *actorLimiter) allow(userID int64) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// newRateLimitMiddleware throttles tool calls under prefix. It runs after
// authentication so the principal is known.
func newRateLimitMiddleware(prefix string, cfg config.ToolsConfig) func(http.Handler) http.Handler {
	limiter := newActorLimiter(cfg)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, prefix) {
				next.ServeHTTP(w, req)
				return
			}
			p, ok := principalFromContext(req.Context())
			if ok && !limiter.allow(p.User.ID) {
				w.Header().Set("Retry-After", "1")
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "Too many tool calls; slow down", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
