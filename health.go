package main

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// handleHealth reports liveness plus the numbers an operator checks first:
// connection and subscription counts, fan-out queue pressure, and process
// resource usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	stats := s.hub.StatsSnapshot()

	queueDepth := s.workerPool.QueueDepth()
	queueCapacity := s.workerPool.QueueCapacity()
	queuePercent := 0.0
	if queueCapacity > 0 {
		queuePercent = float64(queueDepth) / float64(queueCapacity) * 100
	}

	isHealthy := true
	warnings := []string{}

	// A near-full fan-out queue means broadcasts are about to be dropped.
	if queuePercent > 90 {
		isHealthy = false
		warnings = append(warnings, "fan-out queue nearly saturated")
		s.logger.Error().
			Int("queue_depth", queueDepth).
			Int("queue_capacity", queueCapacity).
			Msg("Health check failed: fan-out queue nearly saturated")
	} else if queuePercent > 75 {
		warnings = append(warnings, "fan-out queue under pressure")
	}

	var cpuPercent, memoryMB float64
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			cpuPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			memoryMB = float64(mem.RSS) / 1024.0 / 1024.0
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !isHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"uptime_s":  int64(time.Since(s.startedAt).Seconds()),
		"hub": map[string]any{
			"totalConnections":    stats.TotalConnections,
			"activeSubscriptions": stats.ActiveSubscriptions,
			"totalSubscriptions":  stats.TotalSubscriptions,
		},
		"workers": map[string]any{
			"queue_depth":    queueDepth,
			"queue_capacity": queueCapacity,
			"queue_percent":  queuePercent,
			"dropped_tasks":  s.workerPool.DroppedTasks(),
		},
		"process": map[string]any{
			"cpu_percent": cpuPercent,
			"memory_mb":   memoryMB,
			"goroutines":  runtime.NumGoroutine(),
			"gomaxprocs":  runtime.GOMAXPROCS(0),
		},
		"warnings": warnings,
	}

	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health response")
	}
}
