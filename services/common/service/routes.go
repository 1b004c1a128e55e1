package service

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/R3E-Network/storefront/internal/httputil"
)

// =============================================================================
// Standard Response Types
// =============================================================================

// ProcessStats is a snapshot of the serving process.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

// HealthResponse is the response of the health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Storage   map[string]string `json:"storage"`
	Uptime    string            `json:"uptime,omitempty"`
	Process   *ProcessStats     `json:"process,omitempty"`
}

// InfoResponse is the response of the info endpoint.
type InfoResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Timestamp  string         `json:"timestamp"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// CurrentProcessStats reads memory and CPU usage of this process. Missing
// values are left zero.
func CurrentProcessStats() *ProcessStats {
	stats := &ProcessStats{Goroutines: runtime.NumGoroutine()}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}

// =============================================================================
// Standard Handlers
// =============================================================================

// HealthHandler reports dependency health and process stats. It answers
// 503 when a dependency is down.
func HealthHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.HealthStatus(r.Context())
		details := s.HealthDetails()

		resp := HealthResponse{
			Status:    status,
			Service:   s.Name(),
			Version:   s.Version(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Process:   CurrentProcessStats(),
		}
		if deps, ok := details["dependencies"].(map[string]string); ok {
			resp.Storage = deps
		}
		if uptime, ok := details["uptime"].(string); ok {
			resp.Uptime = uptime
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, resp)
	}
}

// InfoHandler returns the service statistics.
func InfoHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, InfoResponse{
			Status:     "active",
			Service:    s.Name(),
			Version:    s.Version(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Statistics: s.Stats(),
		})
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterStandardRoutes registers /healthz and /info on router.
func (b *BaseService) RegisterStandardRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", HealthHandler(b)).Methods(http.MethodGet)
	router.HandleFunc("/info", InfoHandler(b)).Methods(http.MethodGet)
}
