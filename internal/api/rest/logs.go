package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/akmukhi/developer-self-service/internal/service"
)

// LogQueryFromRequest reads namespace, pod, container, lines and previous from the query string.
// The websocket stream shares it.
func LogQueryFromRequest(r *http.Request) (service.LogQuery, error) {
	q := r.URL.Query()
	lq := service.LogQuery{
		Namespace: q.Get("namespace"),
		Pod:       q.Get("pod"),
		Container: q.Get("container"),
		Previous:  q.Get("previous") == "true" || q.Get("previous") == "1",
	}
	lines, err := positiveInt(q.Get("lines"), "lines")
	if err != nil {
		return lq, err
	}
	lq.TailLines = int64(lines)
	return lq, nil
}

// positiveInt parses an optional positive integer query parameter. Empty yields 0.
func positiveInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", service.ErrValidation, name, raw)
	}
	return n, nil
}

// GetLogs handles GET /api/logs/{service_id}?lines=100&namespace=&since_minutes=
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		notConfigured(w, r, "log retrieval")
		return
	}
	id := mux.Vars(r)["service_id"]
	lq, err := LogQueryFromRequest(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	minutes, err := positiveInt(r.URL.Query().Get("since_minutes"), "since_minutes")
	if err != nil {
		RespondError(w, r, err)
		return
	}

	if minutes > 0 {
		logs, err := h.logs.Since(r.Context(), id, lq.Namespace, minutes)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		respond(w, r, http.StatusOK, logs)
		return
	}
	logs, err := h.logs.ServiceLogs(r.Context(), id, lq)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, logs)
}

// SearchLogs handles GET /api/logs/{service_id}/search?q=&case_sensitive=&max_results=
func (h *Handler) SearchLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		notConfigured(w, r, "log retrieval")
		return
	}
	lq, err := LogQueryFromRequest(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	maxResults, err := positiveInt(r.URL.Query().Get("max_results"), "max_results")
	if err != nil {
		RespondError(w, r, err)
		return
	}
	cs := r.URL.Query().Get("case_sensitive")
	sq := service.SearchQuery{
		LogQuery:      lq,
		Term:          r.URL.Query().Get("q"),
		CaseSensitive: cs == "true" || cs == "1",
		MaxResults:    maxResults,
	}
	result, err := h.logs.Search(r.Context(), mux.Vars(r)["service_id"], sq)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, result)
}

// GetLogStats handles GET /api/logs/{service_id}/stats
func (h *Handler) GetLogStats(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		notConfigured(w, r, "log retrieval")
		return
	}
	lq, err := LogQueryFromRequest(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	stats, err := h.logs.Stats(r.Context(), mux.Vars(r)["service_id"], lq)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, stats)
}
