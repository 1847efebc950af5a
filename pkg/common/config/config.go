package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka (lifecycle event notifications; empty topic disables publishing)
	KafkaBrokers    []string
	KafkaEventTopic string
	KafkaDLQTopic   string

	// GitHub
	GithubToken        string
	GithubCacheTTL     time.Duration
	GithubRequestsPerS float64
	MaxCommitsPerRepo  int

	// Ingestion
	IngestPolicyPath   string
	MaxJobRetries      int
	SweepInterval      time.Duration
	SweepBatchSize     int
	InlineMaxBytes     int
	ObjectChunkBytes   int
	DisableServerSweep bool

	// LLM explanation client
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModelName string
	LLMTimeout   time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "gitrewind"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "gitrewind123"),
		PostgresDB:       getEnv("POSTGRES_DB", "gitrewind"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaEventTopic: getEnv("KAFKA_EVENT_TOPIC", ""),
		KafkaDLQTopic:   getEnv("KAFKA_DLQ_TOPIC", ""),

		GithubToken:        getEnv("GITHUB_TOKEN", ""),
		GithubCacheTTL:     getDuration("GITHUB_CACHE_TTL", 1*time.Hour),
		GithubRequestsPerS: getFloatEnv("GITHUB_REQUESTS_PER_SECOND", 10),
		MaxCommitsPerRepo:  getIntEnv("MAX_COMMITS_PER_REPO", 100),

		IngestPolicyPath:   getEnv("INGEST_POLICY_PATH", ""),
		MaxJobRetries:      getIntEnv("MAX_JOB_RETRIES", 3),
		SweepInterval:      getDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepBatchSize:     getIntEnv("SWEEP_BATCH_SIZE", 10),
		InlineMaxBytes:     getIntEnv("INLINE_MAX_BYTES", 100*1024),
		ObjectChunkBytes:   getIntEnv("OBJECT_CHUNK_BYTES", 64*1024),
		DisableServerSweep: getBoolEnv("DISABLE_SERVER_SWEEP", false),

		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName: getEnv("LLM_MODEL_NAME", "gpt-4o-mini"),
		LLMTimeout:   getDuration("LLM_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
