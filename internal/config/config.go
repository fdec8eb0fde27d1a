package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName    string
	HTTPListenAddr string
	LogLevel       string
	DatabaseURL    string
	JWTSecret      string
	JWTIssuer      string
	CORSOrigins    []string

	// MetricsListenAddr serves /metrics on a separate listener when set.
	MetricsListenAddr string

	// RIB ERP upstream.
	RIBHost             string
	RIBCompany          string
	RIBUsername         string
	RIBPassword         string
	RIBToken            string
	RIBSecureClientRole string
	RIBTimeout          time.Duration

	// Archive storage. When ArchiveS3Bucket is empty, archives stay on local disk.
	ArchiveDir         string
	ArchiveS3Bucket    string
	ArchiveS3Endpoint  string
	ArchiveS3Region    string
	ArchiveS3AccessKey string
	ArchiveS3SecretKey string
	ArchiveS3Prefix    string

	// Runner limits.
	BackupMaxConcurrent  int
	BackupFetchAttempts  int
	BackupRetryBaseDelay time.Duration
	BackupJobTimeout     time.Duration
	BackupPageSize       int

	RedisAddr    string
	RedisChannel string
}

func Load() (*Config, error) {
	origins := getEnv("CORS_ORIGINS", "http://localhost:5173")
	var corsList []string
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			corsList = append(corsList, trimmed)
		}
	}

	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "portal-api"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "ribooster"),
		CORSOrigins:    corsList,

		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ""),

		RIBHost:             strings.TrimRight(getEnv("RIB_HOST", ""), "/"),
		RIBCompany:          getEnv("RIB_COMPANY", ""),
		RIBUsername:         getEnv("RIB_USERNAME", ""),
		RIBPassword:         getEnv("RIB_PASSWORD", ""),
		RIBToken:            getEnv("RIB_TOKEN", ""),
		RIBSecureClientRole: getEnv("RIB_SECURE_CLIENT_ROLE", ""),

		ArchiveDir:         getEnv("ARCHIVE_DIR", "./data/backups"),
		ArchiveS3Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchiveS3Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
		ArchiveS3SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		ArchiveS3Prefix:    getEnv("ARCHIVE_S3_PREFIX", "backups/"),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "backup-jobs"),
	}

	var err error
	if cfg.RIBTimeout, err = getDuration("RIB_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackupMaxConcurrent, err = getInt("BACKUP_MAX_CONCURRENT", 4); err != nil {
		return nil, err
	}
	if cfg.BackupFetchAttempts, err = getInt("BACKUP_FETCH_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.BackupRetryBaseDelay, err = getDuration("BACKUP_RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.BackupJobTimeout, err = getDuration("BACKUP_JOB_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BackupPageSize, err = getInt("BACKUP_PAGE_SIZE", 500); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.HTTPListenAddr == "" {
		missing = append(missing, "HTTP_LISTEN_ADDR")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.RIBHost == "" {
		missing = append(missing, "RIB_HOST")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if c.RIBToken == "" && (c.RIBUsername == "" || c.RIBPassword == "" || c.RIBCompany == "") {
		return fmt.Errorf("either RIB_TOKEN or RIB_USERNAME, RIB_PASSWORD and RIB_COMPANY must be set")
	}
	if c.ArchiveS3Bucket != "" && (c.ArchiveS3AccessKey == "" || c.ArchiveS3SecretKey == "") {
		return fmt.Errorf("ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY must be set when ARCHIVE_S3_BUCKET is set")
	}
	if c.BackupMaxConcurrent < 1 {
		return fmt.Errorf("BACKUP_MAX_CONCURRENT must be at least 1")
	}
	if c.BackupFetchAttempts < 1 {
		return fmt.Errorf("BACKUP_FETCH_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
