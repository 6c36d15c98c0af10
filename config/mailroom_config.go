package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Environment string

	// Database
	DatabaseURL string

	// Token encryption (base64-encoded 32-byte AES key)
	EncryptionKeyBase64 string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Blob store
	BlobBackend  string // fs | s3
	BlobFSRoot   string
	BlobS3Bucket string
	BlobS3Region string

	// Worker
	WorkerID            string
	WorkerConcurrency   int
	WorkerPollInterval  time.Duration
	WorkerJobTimeout    time.Duration
	HistoryPollInterval time.Duration
	JobMaxAttempts      int

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		EncryptionKeyBase64: getEnv("ENCRYPTION_KEY_BASE64", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		BlobBackend:  getEnv("BLOB_BACKEND", "fs"),
		BlobFSRoot:   getEnv("BLOB_FS_ROOT", "./data/blobs"),
		BlobS3Bucket: getEnv("BLOB_S3_BUCKET", ""),
		BlobS3Region: getEnv("BLOB_S3_REGION", ""),

		WorkerID:            getEnv("WORKER_ID", generateWorkerID()),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL_MS", 500*time.Millisecond),
		WorkerJobTimeout:    getEnvDuration("WORKER_JOB_TIMEOUT_MS", 5*time.Minute),
		HistoryPollInterval: getEnvDuration("HISTORY_POLL_INTERVAL_MS", 30*time.Second),
		JobMaxAttempts:      getEnvInt("JOB_MAX_ATTEMPTS", 25),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
