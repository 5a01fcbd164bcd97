package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/work"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Databases map[string]string `json:"databases"`
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Databases: make(map[string]string)}
	for _, db := range s.container.Databases() {
		if err := db.HealthCheck(ctx); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Health check failed")
			resp.Databases[db.Name()] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Databases[db.Name()] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

type workStatusResponse struct {
	Pending     int               `json:"pending"`
	Running     []string          `json:"running"`
	Completions []work.Completion `json:"completions"`
}

// GET /api/work/status
func (s *Server) handleWorkStatus(w http.ResponseWriter, r *http.Request) {
	running := s.container.WorkProcessor.Running()
	if running == nil {
		running = []string{}
	}
	completions := s.container.WorkCompletion.All()
	if completions == nil {
		completions = []work.Completion{}
	}

	s.writeJSON(w, http.StatusOK, workStatusResponse{
		Pending:     s.container.WorkProcessor.Pending(),
		Running:     running,
		Completions: completions,
	})
}

type systemStatusResponse struct {
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Goroutines    int                        `json:"goroutines"`
	CPUPercent    float64                    `json:"cpu_percent"`
	MemoryPercent float64                    `json:"memory_percent"`
	DiskPercent   float64                    `json:"disk_percent"`
	DiskFreeMB    uint64                     `json:"disk_free_mb"`
	Databases     map[string]*database.Stats `json:"databases"`
}

// GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := systemStatusResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Databases:     make(map[string]*database.Stats),
	}

	// A short sample keeps the endpoint responsive
	if pct, err := cpu.PercentWithContext(r.Context(), 100*time.Millisecond, false); err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		resp.MemoryPercent = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(r.Context(), s.container.Config.DataDir); err != nil {
		s.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		resp.DiskPercent = usage.UsedPercent
		resp.DiskFreeMB = usage.Free / 1024 / 1024
	}

	for _, db := range s.container.Databases() {
		stats, err := db.GetStats()
		if err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		resp.Databases[db.Name()] = stats
	}

	s.writeJSON(w, http.StatusOK, resp)
}
