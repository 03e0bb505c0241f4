package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is reported by /api/status
const Version = "1.0.0"

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// DashboardHandler serves health and host metrics
type DashboardHandler struct {
	checks            map[string]HealthCheck
	startedAt         time.Time
	diskPath          string
	watchdogThreshold float64
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(checks map[string]HealthCheck, diskPath string, watchdogThreshold float64) *DashboardHandler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &DashboardHandler{
		checks:            checks,
		startedAt:         time.Now(),
		diskPath:          diskPath,
		watchdogThreshold: watchdogThreshold,
	}
}

// GET /
func (h *DashboardHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Code: http.StatusOK, Message: "chatwoot-relay is running"})
}

// ============================================================================
// System Status
// ============================================================================

type DependencyStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type SystemStatusResponse struct {
	Online       bool               `json:"online"`
	Uptime       string             `json:"uptime"`
	Version      string             `json:"version"`
	Goroutines   int                `json:"goroutines"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// GetStatus pings every dependency; any failure turns the response into a 503
// GET /api/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	online := true
	deps := make([]DependencyStatus, 0, len(names))
	for _, name := range names {
		dep := DependencyStatus{Name: name, OK: true}
		if err := h.checks[name](ctx); err != nil {
			dep.OK = false
			dep.Error = err.Error()
			online = false
			slog.Warn("Dependency check failed", "dependency", name, "error", err)
		}
		deps = append(deps, dep)
	}

	response := SystemStatusResponse{
		Online:       online,
		Uptime:       formatDuration(time.Since(h.startedAt)),
		Version:      Version,
		Goroutines:   runtime.NumGoroutine(),
		Dependencies: deps,
	}

	if !online {
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Code:    http.StatusServiceUnavailable,
			Message: "Degraded",
			Data:    response,
		})
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(response))
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents host health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current host metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	var cpuPercent float64
	if cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = bytesToGB(memStat.Used)
		ramTotalGB = bytesToGB(memStat.Total)
		ramPercent = memStat.UsedPercent
	}

	var diskUsedGB, diskTotalGB, diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		diskUsedGB = bytesToGB(diskStat.Used)
		diskTotalGB = bytesToGB(diskStat.Total)
		diskPercent = diskStat.UsedPercent
	}

	response := SystemMetricsResponse{
		CPUPercent:        roundTo2Decimals(cpuPercent),
		RAMUsedGB:         roundTo2Decimals(ramUsedGB),
		RAMTotalGB:        roundTo2Decimals(ramTotalGB),
		RAMPercent:        roundTo2Decimals(ramPercent),
		DiskUsedGB:        roundTo2Decimals(diskUsedGB),
		DiskTotalGB:       roundTo2Decimals(diskTotalGB),
		DiskPercent:       roundTo2Decimals(diskPercent),
		GoroutinesCount:   runtime.NumGoroutine(),
		WatchdogActive:    diskPercent >= h.watchdogThreshold,
		WatchdogThreshold: h.watchdogThreshold,
		DiskWarningLevel:  diskWarningLevel(diskPercent, h.watchdogThreshold),
	}

	slog.Debug("System metrics retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
	)

	writeJSON(w, http.StatusOK, NewSuccessResponse(response))
}

// ============================================================================
// Helpers
// ============================================================================

// diskWarningLevel is "warning" from the watchdog threshold and "critical" 10 points above it
func diskWarningLevel(percent, threshold float64) string {
	switch {
	case percent < threshold:
		return "safe"
	case percent < threshold+10:
		return "warning"
	default:
		return "critical"
	}
}

func bytesToGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
