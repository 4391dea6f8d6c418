// Package health implements the /health, /ready and /live endpoints
// (SPEC_FULL.md §12), following internal/api/health/handler.go's teacher
// shape with the postgres/clickhouse/redis checks replaced by the two
// upstream dependencies this system actually has: the LLM provider and
// the search provider.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/psychohistory/psychohistory/internal/llm"
	"github.com/psychohistory/psychohistory/internal/search"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// Pinger is satisfied by a dependency that can cheaply verify reachability
// without performing real work (e.g. a mock provider, or a lightweight
// ping endpoint on a real one). Concrete providers that have no cheap
// liveness check simply report healthy unconditionally.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves liveness, readiness, and service-info responses.
type Handler struct {
	log            *logger.Logger
	llmProvider    llm.Provider
	searchProvider search.Provider
	startTime      time.Time
	serviceName    string
	version        string
}

// New creates a health handler. llmProvider/searchProvider are used for
// readiness pings if they implement Pinger; otherwise readiness reports
// them healthy unconditionally (most providers, including the mocks, have
// no connection to verify).
func New(log *logger.Logger, llmProvider llm.Provider, searchProvider search.Provider, serviceName, version string) *Handler {
	return &Handler{
		log:            log,
		llmProvider:    llmProvider,
		searchProvider: searchProvider,
		startTime:      time.Now(),
		serviceName:    serviceName,
		version:        version,
	}
}

// HealthStatus is the JSON body for both /health and /ready.
type HealthStatus struct {
	Status    string                     `json:"status"` // healthy|degraded|unhealthy
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks,omitempty"`
}

// ComponentHealth is the per-dependency readiness result.
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness answers "is the process up", independent of upstream
// dependency health.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// HandleReadiness pings every Pinger-capable upstream dependency and
// reports degraded (still 200, per spec's operational tolerance for a
// single slow dependency) or unhealthy (503) accordingly.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]ComponentHealth)
	healthy, total := 0, 0

	if p, ok := h.llmProvider.(Pinger); ok {
		total++
		checks["llm"] = h.ping(ctx, p)
		if checks["llm"].Status == "healthy" {
			healthy++
		}
	}
	if p, ok := h.searchProvider.(Pinger); ok {
		total++
		checks["search"] = h.ping(ctx, p)
		if checks["search"].Status == "healthy" {
			healthy++
		}
	}

	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    humanize.Time(h.startTime),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
	}

	code := http.StatusOK
	switch {
	case total > 0 && healthy == 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < total:
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// HandleHealth is an alias for HandleReadiness, matching the teacher's
// combined /health endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.HandleReadiness(w, r)
}

func (h *Handler) ping(ctx context.Context, p Pinger) ComponentHealth {
	start := time.Now()
	err := p.Ping(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Warnw("dependency health check failed", "error", err, "elapsed", elapsed)
		return ComponentHealth{Status: "unhealthy", ResponseTime: elapsed.String(), Error: err.Error()}
	}
	return ComponentHealth{Status: "healthy", ResponseTime: elapsed.String()}
}
