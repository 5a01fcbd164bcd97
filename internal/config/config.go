// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Default schedules, in cron format with a seconds field
const (
	DefaultReconcileSchedule = "0 0 18 * * MON-FRI"
	DefaultBackupSchedule    = "0 30 3 * * *"
)

// Config holds application configuration
type Config struct {
	DataDir  string // always absolute
	Port     int
	LogLevel string
	DevMode  bool

	WorkWorkers       int
	WorkQueueSize     int
	ReconcileSchedule string

	// WSOriginPatterns lists the origin hosts (path.Match patterns) allowed to open
	// the event stream from a browser. Same-origin pages are always allowed.
	WSOriginPatterns []string

	Backup BackupConfig
}

// BackupConfig points the nightly backup at an S3 compatible bucket
type BackupConfig struct {
	Bucket          string
	Endpoint        string // empty for AWS, set for R2 or minio
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
}

// Enabled reports whether a bucket is configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("FOLIO_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           dataDir,
		Port:              getEnvAsInt("GO_PORT", 8001),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		WorkWorkers:       getEnvAsInt("WORK_WORKERS", 4),
		WorkQueueSize:     getEnvAsInt("WORK_QUEUE_SIZE", 256),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", DefaultReconcileSchedule),
		WSOriginPatterns:  getEnvAsList("WS_ORIGIN_PATTERNS"),
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", DefaultBackupSchedule),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and schedules
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT out of range: %d", c.Port)
	}
	if c.WorkWorkers < 1 || c.WorkWorkers > 64 {
		return fmt.Errorf("WORK_WORKERS must be between 1 and 64, got %d", c.WorkWorkers)
	}
	if c.WorkQueueSize < 1 {
		return fmt.Errorf("WORK_QUEUE_SIZE must be positive, got %d", c.WorkQueueSize)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("invalid RECONCILE_SCHEDULE %q: %w", c.ReconcileSchedule, err)
	}

	for _, pattern := range c.WSOriginPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid WS_ORIGIN_PATTERNS entry %q: %w", pattern, err)
		}
	}

	if c.Backup.Enabled() {
		if _, err := parser.Parse(c.Backup.Schedule); err != nil {
			return fmt.Errorf("invalid BACKUP_SCHEDULE %q: %w", c.Backup.Schedule, err)
		}
		if (c.Backup.AccessKeyID == "") != (c.Backup.SecretAccessKey == "") {
			return fmt.Errorf("BACKUP_ACCESS_KEY_ID and BACKUP_SECRET_ACCESS_KEY must be set together")
		}
	}
	return nil
}

// DatabasePath returns the path of a named database under the data dir
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blank entries
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
