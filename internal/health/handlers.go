package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/zsiec/nanoplay/pkg/version"
)

// Response is the body of /health.
type Response struct {
	Service   string            `json:"service"`
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

// ReadyResponse is the body of /ready. Failing lists the checks that are
// not ok, worst first.
type ReadyResponse struct {
	Status    Status    `json:"status"`
	Failing   []string  `json:"failing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves /health, /ready and /live.
type Handler struct {
	manager *Manager
	started time.Time
	timeout time.Duration
}

// NewHandler creates the handlers for manager.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager, started: time.Now(), timeout: 10 * time.Second}
}

// HandleHealth runs every check now. Degraded answers 200, down 503.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	overall := h.manager.GetOverallStatus()
	h.write(w, statusCode(overall), Response{
		Service:   version.Service,
		Status:    overall,
		Timestamp: time.Now(),
		Version:   version.Version,
		Uptime:    h.Uptime().String(),
		Checks:    checks,
	})
}

// HandleReady answers from the last periodic run without probing.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	results := h.manager.GetResults()
	var failing []*Check
	for _, c := range results {
		if c.Status != StatusOK {
			failing = append(failing, c)
		}
	}
	sort.Slice(failing, func(i, j int) bool {
		if a, b := failing[i].Status.rank(), failing[j].Status.rank(); a != b {
			return a > b
		}
		return failing[i].Name < failing[j].Name
	})

	resp := ReadyResponse{Status: h.manager.GetOverallStatus(), Timestamp: time.Now()}
	for _, c := range failing {
		resp.Failing = append(resp.Failing, c.Name)
	}
	h.write(w, statusCode(resp.Status), resp)
}

// HandleLive answers 200 while the process serves requests.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": h.Uptime().String(),
	})
}

// Uptime is the time since the handler was created, to the second.
func (h *Handler) Uptime() time.Duration {
	return time.Since(h.started).Round(time.Second)
}

func statusCode(s Status) int {
	if s == StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *Handler) write(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
