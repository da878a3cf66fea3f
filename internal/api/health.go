package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	healthDegradeRatio = 0.9
	selfTestTimeout    = 5 * time.Second
	remoteProbeTimeout = 3 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ocrAvailable := s.engine.Available()

	testCtx, cancel := context.WithTimeout(r.Context(), selfTestTimeout)
	ocrWorking := ocrAvailable && s.engine.SelfTest(testCtx)
	cancel()

	active := s.active.Load()
	status := "healthy"
	if !ocrAvailable || float64(active) >= float64(s.cfg.MaxConcurrentRequests)*healthDegradeRatio {
		status = "degraded"
	}

	body := map[string]any{
		"status":                status,
		"version":               s.version,
		"ocr_available":         ocrAvailable,
		"ocr_engine":            s.engine.EngineName(),
		"ocr_working":           ocrWorking,
		"kana_api":              "",
		"kana_reachable":        false,
		"google_api_configured": s.cfg.GeminiEnabled(),
		"cache_enabled":         s.cfg.CacheEnabled(),
		"delivery_enabled":      s.deliveries != nil,
		"notify_reachable":      false,
		"active_requests":       active,
		"total_requests":        s.total.Load(),
		"system":                systemStats(r.Context()),
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
	}

	if s.kana != nil {
		body["kana_api"] = s.kana.BaseURL()
		probeCtx, cancel := context.WithTimeout(r.Context(), remoteProbeTimeout)
		err := s.kana.HealthCheck(probeCtx)
		cancel()
		body["kana_reachable"] = err == nil
		if err != nil {
			s.logger.Debug("K.A.N.A. health probe failed", "error", err)
		}
	}

	if s.notifier != nil {
		probeCtx, cancel := context.WithTimeout(r.Context(), remoteProbeTimeout)
		err := s.notifier.HealthCheck(probeCtx)
		cancel()
		body["notify_reachable"] = err == nil
		if err != nil {
			s.logger.Debug("Notification health check failed", "error", err)
		}
	}
	if s.deliveryStats != nil {
		body["delivery"] = s.deliveryStats.GetStatistics()
	}

	writeJSON(w, http.StatusOK, body)
}

// systemStats reports host figures; unavailable figures are omitted
func systemStats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats["cpu_count"] = n
	} else {
		stats["cpu_count"] = runtime.NumCPU()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_percent"] = vm.UsedPercent
		stats["memory_available_mb"] = vm.Available / (1 << 20)
	}
	return stats
}
