package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	DataDir     string
	CORSOrigin  string
	DocumentID  string
	MaxBlobMB   int
	// Redis event bridge
	RedisURL     string
	RedisChannel string
	// MinIO archival of checked-in revisions
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP reminder mail
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	ShutdownGrace time.Duration
}

func Load() Config {
	return Config{
		Addr:        getenv("API_ADDR", ":8686"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		DataDir:     getenv("REDLINE_DATA_DIR", "./data"),
		CORSOrigin:  getenv("REDLINE_CORS_ORIGIN", "*"),
		DocumentID:  getenv("REDLINE_DEFAULT_DOCUMENT", "default-doc"),
		MaxBlobMB:   getenvInt("REDLINE_MAX_BLOB_MB", 25),
		// Redis - empty disables the cross-instance event bridge
		RedisURL:     getenv("REDIS_URL", ""),
		RedisChannel: getenv("REDLINE_EVENT_CHANNEL", "redline:events"),
		// MinIO - empty endpoint disables object-storage archival
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "redline-revisions"),
		MinioUseSSL:    getenvInt("MINIO_USE_SSL", 0) == 1,
		// SMTP - empty by default, reminder mail disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Redline"),

		ShutdownGrace: time.Duration(getenvInt("REDLINE_SHUTDOWN_GRACE_SECONDS", 10)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
