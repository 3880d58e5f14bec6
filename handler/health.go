package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/mstgnz/coursepay/infra/response"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db          *sql.DB
	environment string
	checks      []serviceCheck
	startTime   time.Time
}

type serviceCheck struct {
	name     string
	critical bool
	check    func(ctx context.Context) error
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Timestamp   time.Time                 `json:"timestamp"`
	Uptime      string                    `json:"uptime"`
	Environment string                    `json:"environment"`
	Database    *DatabaseHealth           `json:"database"`
	System      *SystemHealth             `json:"system"`
	Services    map[string]*ServiceHealth `json:"services"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Status       string `json:"status"`
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"response_time"`
	OpenConns    int    `json:"open_connections"`
	InUseConns   int    `json:"in_use_connections"`
	IdleConns    int    `json:"idle_connections"`
	WaitCount    int64  `json:"wait_count"`
	Error        string `json:"error,omitempty"`
}

// SystemHealth represents process resource usage
type SystemHealth struct {
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
	GoRoutines int    `json:"goroutines"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status   string `json:"status"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler. db is nil with the memory
// storage driver.
func NewHealthHandler(db *sql.DB, environment string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		environment: environment,
		startTime:   time.Now(),
	}
}

// AddCheck registers a dependency probe. A failing critical check makes the
// service unhealthy; any other failure only degrades it.
func (h *HealthHandler) AddCheck(name string, critical bool, check func(ctx context.Context) error) {
	h.checks = append(h.checks, serviceCheck{name: name, critical: critical, check: check})
}

// CheckHealth performs health checks
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:     "1.0.0",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Environment: h.environment,
		Database:    h.checkDatabaseHealth(ctx),
		System:      checkSystemHealth(),
		Services:    h.checkServicesHealth(ctx),
	}
	health.Status = determineOverallStatus(health)

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

func (h *HealthHandler) checkDatabaseHealth(ctx context.Context) *DatabaseHealth {
	if h.db == nil {
		return &DatabaseHealth{Status: "not_configured"}
	}

	dbHealth := &DatabaseHealth{Status: "unknown"}
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		dbHealth.Status = "unhealthy"
		dbHealth.Error = err.Error()
		dbHealth.ResponseTime = time.Since(start).String()
		return dbHealth
	}
	elapsed := time.Since(start)

	stats := h.db.Stats()
	dbHealth.Connected = true
	dbHealth.ResponseTime = elapsed.String()
	dbHealth.OpenConns = stats.OpenConnections
	dbHealth.InUseConns = stats.InUse
	dbHealth.IdleConns = stats.Idle
	dbHealth.WaitCount = stats.WaitCount

	switch {
	case elapsed > time.Second, stats.WaitCount > 100:
		dbHealth.Status = "degraded"
	default:
		dbHealth.Status = "healthy"
	}
	return dbHealth
}

func (h *HealthHandler) checkServicesHealth(ctx context.Context) map[string]*ServiceHealth {
	services := make(map[string]*ServiceHealth, len(h.checks))
	for _, c := range h.checks {
		s := &ServiceHealth{Status: "healthy", Healthy: true, Critical: c.critical}
		if err := c.check(ctx); err != nil {
			s.Status = "unhealthy"
			s.Healthy = false
			s.Error = err.Error()
		}
		services[c.name] = s
	}
	return services
}

func checkSystemHealth() *SystemHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return &SystemHealth{
		Alloc:      formatBytes(memStats.Alloc),
		Sys:        formatBytes(memStats.Sys),
		GCRuns:     memStats.NumGC,
		GoRoutines: runtime.NumGoroutine(),
	}
}

func determineOverallStatus(health *HealthStatus) string {
	if health.Database != nil && health.Database.Status == "unhealthy" {
		return "unhealthy"
	}

	status := "healthy"
	for _, s := range health.Services {
		if s.Healthy {
			continue
		}
		if s.Critical {
			return "unhealthy"
		}
		status = "degraded"
	}

	if health.Database != nil && health.Database.Status == "degraded" {
		status = "degraded"
	}
	return status
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
