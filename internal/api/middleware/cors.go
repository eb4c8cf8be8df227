package middleware

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"
)

// CORS builds the rs/cors handler for the configured origins. A wildcard origin is allowed but
// logged once at startup, and disables credentials.
func CORS(allowedOrigins []string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	credentials := true
	for _, origin := range allowedOrigins {
		if origin == "*" {
			log.Warn("CORS wildcard origin configured",
				"origin", origin,
				"risk", "any origin can call the portal API",
			)
			credentials = false
		}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ResponseRequestIDHeader, "traceparent"},
		ExposedHeaders:   []string{ResponseRequestIDHeader, TraceIDHeader, "Retry-After"},
		AllowCredentials: credentials,
		MaxAge:           300,
	})
	return c.Handler
}
