package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// DefaultRatePerSec and DefaultRateBurst apply to write requests per client IP.
	DefaultRatePerSec = 1.0
	DefaultRateBurst  = 60

	// Reads get twice the write budget; log streams and terraform apply/destroy get a fifth.
	readMultiplier = 2
	heavyDivisor   = 5

	maxTrackedClients = 10000
	clientIdleTTL     = 10 * time.Minute
)

type rateLimitTier int

const (
	tierHeavy rateLimitTier = iota
	tierRead
	tierStandard
)

func (t rateLimitTier) String() string {
	switch t {
	case tierHeavy:
		return "heavy"
	case tierRead:
		return "read"
	default:
		return "standard"
	}
}

// RateLimiter holds a token bucket per client IP and tier. Idle clients are evicted.
type RateLimiter struct {
	perSec   float64
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter returns a limiter allowing perSec requests per second with the given burst for
// write requests. Non-positive values use the defaults.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	if perSec <= 0 {
		perSec = DefaultRatePerSec
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return &RateLimiter{
		perSec:   perSec,
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTTL),
	}
}

func (l *RateLimiter) config(t rateLimitTier) (rate.Limit, int) {
	switch t {
	case tierRead:
		return rate.Limit(l.perSec * readMultiplier), l.burst * readMultiplier
	case tierHeavy:
		burst := l.burst / heavyDivisor
		if burst < 1 {
			burst = 1
		}
		return rate.Limit(l.perSec / heavyDivisor), burst
	default:
		return rate.Limit(l.perSec), l.burst
	}
}

// limiter returns the bucket for ip and tier. Concurrent first requests from one client may each
// create a bucket; the last one stored wins, which at worst grants one extra burst.
func (l *RateLimiter) limiter(ip string, t rateLimitTier) *rate.Limiter {
	key := t.String() + "|" + ip
	if lim, ok := l.limiters.Get(key); ok {
		return lim
	}
	limit, burst := l.config(t)
	lim := rate.NewLimiter(limit, burst)
	l.limiters.Add(key, lim)
	return lim
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func tierForRequest(r *http.Request) rateLimitTier {
	path := strings.ToLower(r.URL.Path)
	if strings.HasSuffix(path, "/stream") ||
		(strings.HasPrefix(path, infrastructurePrefix) && (strings.HasSuffix(path, "/apply") || strings.HasSuffix(path, "/destroy"))) {
		return tierHeavy
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return tierRead
	}
	return tierStandard
}

// Middleware rejects requests over budget with 429 RATE_LIMIT_EXCEEDED and a Retry-After header.
// /health and /metrics are never limited.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		tier := tierForRequest(r)
		lim := l.limiter(getClientIP(r), tier)
		_, burst := l.config(tier)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))

		res := lim.Reserve()
		if delay := res.Delay(); !res.OK() || delay > 0 {
			res.Cancel()
			retryAfter := int(delay.Seconds()) + 1
			if !res.OK() || retryAfter > 60 {
				retryAfter = 60
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests; retry later")
			return
		}
		remaining := int(lim.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	})
}
