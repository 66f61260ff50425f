package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Search   SearchConfig
	OCR      OCRConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// UploadURLTTL bounds how long a returned write location stays valid.
	UploadURLTTL time.Duration
}

type SearchConfig struct {
	Host   string
	APIKey string
	Index  string
}

type OCRConfig struct {
	Provider     string // "openai" or "anthropic"
	OpenAIKey    string
	AnthropicKey string
	Model        string
	// MinPDFTextLen is the threshold below which locally extracted PDF text
	// is considered a scan and handed to the OCR provider instead.
	MinPDFTextLen int
}

// PipelineConfig carries every operational constant of the ingestion
// pipeline. Components receive it at construction; nothing reads these from
// ambient state.
type PipelineConfig struct {
	MaxAttempts       int           // extraction redeliveries before the DLQ
	LeaseDuration     time.Duration // exclusive processing lease per job
	MaxFileSizeBytes  int64
	FreeQuota         int
	PaidQuota         int
	AbandonedAfter    time.Duration // pending/uploaded/queued older than this are reclaimed
	IndexRetryAfter   time.Duration // extracted older than this are requeued for indexing
	RetentionDays     int           // inactive free users past this lose their receipts
	SweepInterval     time.Duration
	WorkerConcurrency int
}

func Load() (*Config, error) {
	// Local development convenience; absent .env files are not an error.
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxAttempts, err := getEnvInt("PIPELINE_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_MAX_ATTEMPTS: %w", err)
	}

	maxFileMB, err := getEnvInt("MAX_FILE_SIZE_MB", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_FILE_SIZE_MB: %w", err)
	}

	freeQuota, err := getEnvInt("FREE_USER_QUOTA", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid FREE_USER_QUOTA: %w", err)
	}

	paidQuota, err := getEnvInt("PAID_USER_QUOTA", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid PAID_USER_QUOTA: %w", err)
	}

	retentionDays, err := getEnvInt("RETENTION_DAYS", 90)
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
	}

	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	minPDFTextLen, err := getEnvInt("OCR_MIN_PDF_TEXT_LEN", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_MIN_PDF_TEXT_LEN: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			Endpoint:     getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:    getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:    getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:       getEnv("STORAGE_BUCKET", "receipts"),
			UseSSL:       getEnv("STORAGE_USE_SSL", "") == "true",
			UploadURLTTL: getEnvDuration("UPLOAD_URL_TTL", 15*time.Minute),
		},
		Search: SearchConfig{
			Host:   getEnv("MEILISEARCH_HOST", "http://localhost:7700"),
			APIKey: getEnv("MEILISEARCH_API_KEY", ""),
			Index:  getEnv("MEILISEARCH_INDEX", "receipts"),
		},
		OCR: OCRConfig{
			Provider:      getEnv("OCR_PROVIDER", "openai"),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Model:         getEnv("OCR_MODEL", ""),
			MinPDFTextLen: minPDFTextLen,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:       maxAttempts,
			LeaseDuration:     getEnvDuration("PIPELINE_LEASE", 10*time.Minute),
			MaxFileSizeBytes:  int64(maxFileMB) << 20,
			FreeQuota:         freeQuota,
			PaidQuota:         paidQuota,
			AbandonedAfter:    getEnvDuration("PIPELINE_ABANDONED_AFTER", 24*time.Hour),
			IndexRetryAfter:   getEnvDuration("PIPELINE_INDEX_RETRY_AFTER", 10*time.Minute),
			RetentionDays:     retentionDays,
			SweepInterval:     getEnvDuration("PIPELINE_SWEEP_INTERVAL", 15*time.Minute),
			WorkerConcurrency: concurrency,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Storage.AccessKey == "" {
		missing = append(missing, "STORAGE_ACCESS_KEY")
	}
	if c.Storage.SecretKey == "" {
		missing = append(missing, "STORAGE_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
