package middleware

import (
	"net/http"
	"strings"
)

const (
	// DefaultStandardMaxBodyBytes is the default max request body for API requests (512KB).
	DefaultStandardMaxBodyBytes = 512 * 1024
	// DefaultInfrastructureMaxBodyBytes is the default max body under /api/infrastructure (5MB);
	// plan variables and backend config can be large.
	DefaultInfrastructureMaxBodyBytes = 5 * 1024 * 1024

	infrastructurePrefix = "/api/infrastructure/"
)

// MaxBodySize returns middleware that limits request body size: infraMax for requests under
// /api/infrastructure/, standardMax otherwise. Non-positive limits fall back to the defaults.
func MaxBodySize(standardMax, infraMax int64) func(http.Handler) http.Handler {
	if standardMax <= 0 {
		standardMax = DefaultStandardMaxBodyBytes
	}
	if infraMax <= 0 {
		infraMax = DefaultInfrastructureMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			limit := standardMax
			if strings.HasPrefix(r.URL.Path, infrastructurePrefix) {
				limit = infraMax
			}
			if r.ContentLength > limit {
				writeError(w, r, http.StatusRequestEntityTooLarge, "VALIDATION_FAILED", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
