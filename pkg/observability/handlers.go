package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/edgemesh/core/pkg/anomaly"
	"github.com/edgemesh/core/pkg/cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// status reports the aggregate health of every registered component, with
// the HTTP status code matching the severity (200/500/503).
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	report := h.deps.Health.Status(r.Context())
	writeJSON(w, report.Overall.HTTPStatus(), report)
}

func (h *handlers) breakers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Breakers == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Breakers.All())
}

func (h *handlers) rateLimit(w http.ResponseWriter, r *http.Request) {
	if h.deps.RateLimiter == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.RateLimiter.Stats())
}

func (h *handlers) replicaStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replicas == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Replicas.Status())
}

func (h *handlers) cacheMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Cache.Metrics())
}

func (h *handlers) lbMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Balancer == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": h.deps.Balancer.Statuses(),
		"hints":     h.deps.Balancer.Hints(),
	})
}

// lbHealth is the spec-named per-region, per-endpoint health snapshot plus
// the capacity manager's scale hints.
func (h *handlers) lbHealth(w http.ResponseWriter, r *http.Request) {
	h.lbMetrics(w, r)
}

func (h *handlers) alerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		writeJSON(w, http.StatusOK, []anomaly.Alert{})
		return
	}

	severity := anomaly.Severity(r.URL.Query().Get("severity"))
	alerts := h.deps.Alerts.Recent(0, severity)

	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		if since, err := time.Parse(time.RFC3339, sinceParam); err == nil {
			filtered := alerts[:0]
			for _, a := range alerts {
				if a.DetectedAt.After(since) {
					filtered = append(filtered, a)
				}
			}
			alerts = filtered
		}
	}

	writeJSON(w, http.StatusOK, alerts)
}

func (h *handlers) correlationChain(w http.ResponseWriter, r *http.Request) {
	if h.deps.Correlation == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "correlation tracking not enabled"})
		return
	}
	id := chi.URLParam(r, "id")
	chain := h.deps.Correlation.Chain(id)
	if len(chain) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown correlation id"})
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *handlers) trace(w http.ResponseWriter, r *http.Request) {
	if h.deps.Correlation == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "correlation tracking not enabled"})
		return
	}
	traceID := chi.URLParam(r, "traceID")
	spans := h.deps.Correlation.ForTrace(traceID)
	if len(spans) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown trace id"})
		return
	}
	writeJSON(w, http.StatusOK, spans)
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Telemetry == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if name := r.URL.Query().Get("operation"); name != "" {
		snap, ok := h.deps.Telemetry.Profiles().Snapshot(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no samples recorded for operation"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Telemetry.Profiles().All())
}

// resetBreaker force-closes a named breaker. Gated by the admin bearer
// token.
func (h *handlers) resetBreaker(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if h.deps.Breakers == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "breaker registry not enabled"})
		return
	}
	name := chi.URLParam(r, "breaker")
	if !h.deps.Breakers.Reset(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown breaker: " + name})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "breaker": name})
}

// flushCache clears every cache tier. Gated by the admin bearer token.
func (h *handlers) flushCache(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if h.deps.Cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "cache not enabled"})
		return
	}
	n, err := h.deps.Cache.Invalidate(r.Context(), cache.ScopeGlobal, "", nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tiers_flushed": n})
}

func (h *handlers) authorized(r *http.Request) bool {
	if h.deps.AdminToken == "" {
		return false
	}
	return r.Header.Get("Authorization") == "Bearer "+h.deps.AdminToken
}
