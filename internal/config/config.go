package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and pipeline workers.
// Workers receive the values they need through their constructors; nothing
// reads the environment after startup.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RulePackCacheTTLSecs int

	LeaseDurationMS    int
	DownloadRetryCount int
	EvidenceMaxLen     int

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

func (c Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationMS) * time.Millisecond
}

func (c Config) RulePackCacheTTL() time.Duration {
	return time.Duration(c.RulePackCacheTTLSecs) * time.Second
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Bucket:    getEnv("S3_BUCKET", "velocity-documents"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", false),

		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RulePackCacheTTLSecs: getEnvInt("RULE_PACK_CACHE_TTL_SECONDS", 300),

		LeaseDurationMS:    getEnvInt("LEASE_DURATION_MS", 300000),
		DownloadRetryCount: getEnvInt("DOWNLOAD_RETRY_COUNT", 1),
		EvidenceMaxLen:     getEnvInt("EVIDENCE_MAX_LEN", 160),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
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

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
