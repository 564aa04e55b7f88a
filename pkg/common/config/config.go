package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Analysis backend
	AnalysisBaseURL string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	// Consecutive transport failures tolerated while polling before the
	// scheduler gives up on the job. Zero means poll forever.
	PollFailureLimit int

	// Sessions
	SessionIdleTTL time.Duration

	// Redis result cache
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ResultCacheTTL time.Duration

	// Kafka audit events
	KafkaBrokers []string
	KafkaTopic   string

	// Demo intake profiles
	DemoProfilesPath string

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 64*1024*1024)),

		AnalysisBaseURL:  getEnv("ANALYSIS_BASE_URL", "http://127.0.0.1:8000"),
		RequestTimeout:   getDuration("ANALYSIS_REQUEST_TIMEOUT", 30*time.Second),
		PollInterval:     getDuration("POLL_INTERVAL", 2*time.Second),
		PollFailureLimit: getIntEnv("POLL_FAILURE_LIMIT", 0),

		SessionIdleTTL: getDuration("SESSION_IDLE_TTL", 30*time.Minute),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		ResultCacheTTL: getDuration("RESULT_CACHE_TTL", 15*time.Minute),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "cognitriage.job-events"),

		DemoProfilesPath: getEnv("DEMO_PROFILES_PATH", ""),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
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

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
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
