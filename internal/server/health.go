package server

import (
	"net/http"
	"runtime"
	"time"

	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
)

const bytesPerMB = 1024 * 1024

type memoryStatus struct {
	AvailableMB uint64 `json:"availableMB,omitempty"`
	HeapAllocMB uint64 `json:"heapAllocMB"`
	SysMB       uint64 `json:"sysMB"`
	Goroutines  int    `json:"goroutines"`
}

type healthResponse struct {
	Status string       `json:"status"`
	Uptime string       `json:"uptime"`
	Memory memoryStatus `json:"memory"`
}

type readyResponse struct {
	Status       session.Health `json:"status"`
	Sessions     session.Stats  `json:"sessions"`
	ExpiredRatio float64        `json:"expiredRatio"`
}

// handleHealth reports liveness. It fails when system memory headroom is
// below the configured minimum.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Memory: memoryStatus{
			HeapAllocMB: ms.HeapAlloc / bytesPerMB,
			SysMB:       ms.Sys / bytesPerMB,
			Goroutines:  runtime.NumGoroutine(),
		},
	}

	status := http.StatusOK
	vm, err := s.virtualMemory(r.Context())
	if err != nil {
		logging.Debug("Gateway", "System memory unavailable: %v", err)
	} else {
		resp.Memory.AvailableMB = vm.Available / bytesPerMB
		if floor := s.cfg.MinAvailableMemoryMB; floor > 0 && resp.Memory.AvailableMB < floor {
			logging.Warn("Gateway", "Available memory %dMB below minimum %dMB", resp.Memory.AvailableMB, floor)
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// handleReady classifies the session store by its expired ratio.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := readyResponse{
		Status:       session.Classify(stats),
		Sessions:     stats,
		ExpiredRatio: stats.ExpiredRatio(),
	}
	status := http.StatusOK
	if resp.Status == session.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
