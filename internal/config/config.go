package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	RedisURL         string
	StoreMode        string
	BlobMode         string
	S3Endpoint       string
	S3Region         string
	AWSAccessKey     string
	AWSSecretKey     string
	S3ForcePathStyle bool
	LocalBlobDir     string
	WorkerStaleAfter time.Duration
	PruneInterval    time.Duration
	UploadRateLimit  int

	// Worker agent settings
	MasterURL    string
	WorkerID     string
	TaskRunner   string
	WorkDir      string
	PollInterval time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		slog.Warn("bad int env, using default", "key", key, "value", v)
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "true" || v == "1" {
			return true
		}
		if v == "false" || v == "0" {
			return false
		}
		slog.Warn("bad bool env, using default", "key", key, "value", v)
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		slog.Warn("bad duration env, using default", "key", key, "value", v)
	}
	return def
}

func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	// try to find .env files starting from current directory and going up
	currentDir, err := os.Getwd()
	if err != nil {
		slog.Debug("failed to get current directory", "error", err)
		return
	}

	// look in current directory and up to 3 parent directories
	searchDirs := []string{currentDir}
	for i := 0; i < 3; i++ {
		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			break // reached root
		}
		searchDirs = append(searchDirs, parent)
		currentDir = parent
	}

	loadedAny := false
	for _, dir := range searchDirs {
		for _, envFile := range envFiles {
			envPath := filepath.Join(dir, envFile)
			if _, err := os.Stat(envPath); err == nil {
				if err := godotenv.Load(envPath); err == nil {
					slog.Debug("loaded environment file", "path", envPath)
					loadedAny = true
				} else {
					slog.Debug("failed to load environment file", "path", envPath, "error", err)
				}
			}
		}
		if loadedAny {
			break // stop searching once we find .env files in a directory
		}
	}

	if !loadedAny {
		slog.Debug("no .env files found, using system environment variables only")
	}
}

func Load() Config {
	loadEnvFiles()
	hostname, _ := os.Hostname()
	return Config{
		HTTPAddr:         getenv("HTTP_ADDR", ":5000"),
		RedisURL:         getenv("REDIS_URL", "redis://localhost:6379"),
		StoreMode:        getenv("STORE_MODE", "redis"),
		BlobMode:         getenv("BLOB_MODE", "s3"),
		S3Endpoint:       getenv("S3_ENDPOINT", "http://localhost:9000"),
		S3Region:         getenv("S3_REGION", "us-east-1"),
		AWSAccessKey:     getenv("MINIO_ACCESS_KEY", getenv("AWS_ACCESS_KEY_ID", "admin")),
		AWSSecretKey:     getenv("MINIO_SECRET_KEY", getenv("AWS_SECRET_ACCESS_KEY", "admin123")),
		S3ForcePathStyle: getBool("S3_FORCE_PATH_STYLE", true),
		LocalBlobDir:     getenv("LOCAL_BLOB_DIR", "./blobs"),
		WorkerStaleAfter: mustDuration("WORKER_STALE_AFTER", 30*time.Second),
		PruneInterval:    mustDuration("PRUNE_INTERVAL", 5*time.Second),
		UploadRateLimit:  mustInt("UPLOAD_RATE_LIMIT", 30),

		MasterURL:    getenv("MASTER_URL", "http://localhost:5000"),
		WorkerID:     getenv("WORKER_ID", hostname),
		TaskRunner:   getenv("TASK_RUNNER", "default"),
		WorkDir:      getenv("WORK_DIR", "./current_task_files"),
		PollInterval: mustDuration("POLL_INTERVAL", 2*time.Second),
	}
}
