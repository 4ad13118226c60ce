package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	backupTimeout      = 10 * time.Minute
	maintenanceTimeout = 30 * time.Minute

	// Free space below which maintenance warns and skips VACUUM, which needs room for a
	// full copy of the database.
	lowDiskBytes = 1 << 30
	// WAL frames above which the checkpoint is logged as lagging
	walWarnFrames = 1000
)

// BackupJob writes a backup and rotates the old ones.
type BackupJob struct {
	backups       *BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates the backup job.
func NewBackupJob(backups *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups:       backups,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "dataset_backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	info, err := j.backups.CreateBackup(ctx)
	if err != nil {
		return err
	}
	if _, err := j.backups.VerifyBackup(info.Filename); err != nil {
		return fmt.Errorf("fresh backup failed verification: %w", err)
	}
	if _, err := j.backups.RotateOldBackups(j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// MaintenanceJob checks the integrity of the dataset database, truncates its WAL and
// compacts it.
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job.
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		log:     log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	if err := j.checkIntegrity(ctx); err != nil {
		return err
	}
	j.checkpoint(ctx)

	free, err := j.freeDiskBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
	} else if free < lowDiskBytes {
		j.log.Warn().
			Float64("available_gb", float64(free)/1e9).
			Msg("Low disk space, skipping VACUUM")
		return nil
	}

	if _, err := j.db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum %s: %w", j.db.Name(), err)
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Database maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkIntegrity(ctx context.Context) error {
	var result string
	if err := j.db.Conn().QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check on %s: %w", j.db.Name(), err)
	}
	if result != "ok" {
		j.log.Error().Str("result", result).Msg("Database integrity check failed")
		return fmt.Errorf("integrity check of %s failed: %s", j.db.Name(), result)
	}
	return nil
}

// checkpoint truncates the WAL. Failures are logged only.
func (j *MaintenanceJob) checkpoint(ctx context.Context) {
	var busy, frames, checkpointed int
	err := j.db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
		return
	}
	if frames > walWarnFrames {
		j.log.Warn().
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file was large")
	}
}

func (j *MaintenanceJob) freeDiskBytes() (uint64, error) {
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
