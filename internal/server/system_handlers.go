package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers reports on the health of the host and the service.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	db          *database.DB
	datasets    *returns.Cache
	backups     *reliability.BackupService
}

// NewSystemHandlers creates the system handlers. db, datasets and backups may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	db *database.DB,
	datasets *returns.Cache,
	backups *reliability.BackupService,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		db:          db,
		datasets:    datasets,
		backups:     backups,
	}
}

// SystemStatusResponse represents the system status
type SystemStatusResponse struct {
	Status        string     `json:"status"` // "healthy" or "degraded"
	UptimeSeconds int64      `json:"uptime_seconds"`
	CPUPercent    float64    `json:"cpu_percent"`
	MemoryPercent float64    `json:"memory_percent"`
	Goroutines    int        `json:"goroutines"`
	NumCPU        int        `json:"num_cpu"`
	DataDirMB     float64    `json:"data_dir_mb"`
	Datasets      int        `json:"datasets"`
	Database      string     `json:"database"`
	LastBackup    *time.Time `json:"last_backup,omitempty"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		DataDirMB:     h.getDirSize(h.dataDir),
		Database:      "disabled",
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.QuickCheck(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Database check failed")
			response.Status = "degraded"
			response.Database = "unreachable"
		} else {
			response.Database = "ok"
		}
	}
	if h.datasets != nil {
		list, err := h.datasets.List(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to list datasets")
			response.Status = "degraded"
		}
		response.Datasets = len(list)
	}

	if h.backups != nil {
		if backups, err := h.backups.ListBackups(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to list backups")
		} else if len(backups) > 0 {
			response.LastBackup = &backups[0].Timestamp
		}
	}

	httpapi.Write(w, r, h.log, http.StatusOK, response)
}

// HandleListBackups handles GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups := []reliability.BackupInfo{}
	if h.backups != nil {
		list, err := h.backups.ListBackups()
		if err != nil {
			httpapi.WriteError(w, r, h.log, err)
			return
		}
		backups = append(backups, list...)
	}
	httpapi.Write(w, r, h.log, http.StatusOK, backups)
}

// getSystemStats returns the CPU and RAM usage percentages. The CPU is sampled over
// 100ms to keep the call short.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// getDirSize returns the size of a directory tree in MB.
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}
