// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the dataset database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool
	Engine   EngineConfig
	Backup   BackupConfig
}

// BackupConfig schedules the dataset database backups and maintenance. Schedules use
// cron syntax with seconds; "off" disables the job.
type BackupConfig struct {
	Schedule            string
	MaintenanceSchedule string
	RetentionDays       int // 0 keeps every backup
}

// EngineConfig holds the defaults applied to optimization requests that leave them unset.
type EngineConfig struct {
	Alpha            float64 // Significance level of tail risk measures
	Frequency        string  // D, W or M
	DecayFactor      float64 // EWMA decay
	FrontierPoints   int
	RandomPortfolios int
	Seed             uint64
	MaxIterations    int
	Parallelism      int // Concurrent frontier solves
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALLOCATOR_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("ALLOCATOR_PORT", 8002),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Engine: EngineConfig{
			Alpha:            getEnvAsFloat("ALLOCATOR_ALPHA", 0.05),
			Frequency:        strings.ToUpper(getEnv("ALLOCATOR_FREQUENCY", "D")),
			DecayFactor:      getEnvAsFloat("ALLOCATOR_DECAY_FACTOR", 0.94),
			FrontierPoints:   getEnvAsInt("ALLOCATOR_FRONTIER_POINTS", 20),
			RandomPortfolios: getEnvAsInt("ALLOCATOR_RANDOM_PORTFOLIOS", 100),
			Seed:             uint64(getEnvAsInt("ALLOCATOR_SEED", 123)),
			MaxIterations:    getEnvAsInt("ALLOCATOR_MAX_ITERATIONS", 2000),
			Parallelism:      getEnvAsInt("ALLOCATOR_PARALLELISM", 4),
		},
		Backup: BackupConfig{
			Schedule:            getEnv("ALLOCATOR_BACKUP_SCHEDULE", "0 0 3 * * *"),
			MaintenanceSchedule: getEnv("ALLOCATOR_MAINTENANCE_SCHEDULE", "0 30 4 * * SUN"),
			RetentionDays:       getEnvAsInt("ALLOCATOR_BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	e := c.Engine
	if e.Alpha <= 0 || e.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", e.Alpha)
	}
	switch e.Frequency {
	case "D", "W", "M":
	default:
		return fmt.Errorf("frequency must be D, W or M, got %q", e.Frequency)
	}
	if e.DecayFactor <= 0 || e.DecayFactor >= 1 {
		return fmt.Errorf("decay factor must be in (0, 1), got %v", e.DecayFactor)
	}
	if e.FrontierPoints < 2 {
		return fmt.Errorf("frontier points must be at least 2, got %d", e.FrontierPoints)
	}
	if e.RandomPortfolios < 0 {
		return fmt.Errorf("random portfolios must be non-negative, got %d", e.RandomPortfolios)
	}
	if e.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be positive, got %d", e.MaxIterations)
	}
	if e.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive, got %d", e.Parallelism)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup retention must be non-negative, got %d", c.Backup.RetentionDays)
	}
	return nil
}

// DatabasePath is the dataset database file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "returns.db")
}

// Enabled reports whether a schedule is switched on.
func (b BackupConfig) Enabled(schedule string) bool {
	return schedule != "" && !strings.EqualFold(schedule, "off")
}

// BackupDir holds the backup archives.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
