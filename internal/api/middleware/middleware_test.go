package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
)

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(ResponseRequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.Header.Set(ResponseRequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(ResponseRequestIDHeader))
}

func TestStructuredLog_WritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	prev := requestLogOut
	requestLogOut = &buf
	t.Cleanup(func() { requestLogOut = prev })

	router := mux.NewRouter()
	router.Use(RequestID, StructuredLog)
	router.HandleFunc("/api/environments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/environments/123", nil)
	req.Header.Set(ResponseRequestIDHeader, "req-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	var entry logger.LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, http.StatusNotFound, entry.Status)
	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, "/api/environments/123", entry.Path)
	assert.Equal(t, "Not Found", entry.Error)
}

func TestRecover_ReturnsInternalError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequestID(Recover(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.Header.Set(ResponseRequestIDHeader, "req-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.Equal(t, "req-9", body["request_id"])
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(1024, 4096)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		path string
		size int
		want int
	}{
		{"standard within limit", "/api/services", 512, http.StatusOK},
		{"standard over limit", "/api/services", 2048, http.StatusRequestEntityTooLarge},
		{"infrastructure within larger limit", "/api/infrastructure/workspaces/ws-1/plan", 2048, http.StatusOK},
		{"infrastructure over limit", "/api/infrastructure/workspaces/ws-1/plan", 8192, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader(make([]byte, tt.size)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	// Chunked bodies have no Content-Length and are caught while reading.
	req := httptest.NewRequest(http.MethodPost, "/api/services", io.NopCloser(strings.NewReader(strings.Repeat("x", 2048))))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_BurstThen429(t *testing.T) {
	l := NewRateLimiter(0.001, 3)
	h := l.Middleware(http.HandlerFunc(ok))

	post := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/environments", nil)
		req.RemoteAddr = ip + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	for i := 0; i < 3; i++ {
		rec := post("192.168.1.2")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := post("192.168.1.2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, post("192.168.1.3").Code, "other clients are independent")
}

func TestRateLimit_TiersAndExemptions(t *testing.T) {
	l := NewRateLimiter(0.001, 10)
	h := l.Middleware(http.HandlerFunc(ok))

	get := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	get.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))

	apply := httptest.NewRequest(http.MethodPost, "/api/infrastructure/workspaces/ws-1/apply", nil)
	apply.Header.Set("X-Real-IP", "10.0.0.2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, apply)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	for i := 0; i < 50; i++ {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestTierForRequest(t *testing.T) {
	tests := []struct {
		method, path string
		want         rateLimitTier
	}{
		{http.MethodGet, "/api/services", tierRead},
		{http.MethodPost, "/api/services", tierStandard},
		{http.MethodDelete, "/api/environments/1", tierStandard},
		{http.MethodGet, "/api/logs/default/api/stream", tierHeavy},
		{http.MethodPost, "/api/infrastructure/workspaces/a/destroy", tierHeavy},
		{http.MethodPost, "/api/infrastructure/workspaces/a/plan", tierStandard},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tierForRequest(httptest.NewRequest(tt.method, tt.path, nil)), tt.method+" "+tt.path)
	}
}

func TestSecureHeaders(t *testing.T) {
	h := SecureHeaders(http.HandlerFunc(ok))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/secrets/api", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"}, slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodOptions, "/api/services", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	h := Tracing(http.HandlerFunc(ok))
	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", rec.Header().Get(TraceIDHeader))
}
