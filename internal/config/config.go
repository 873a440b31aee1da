package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime settings shared by the storefront binaries.
type Config struct {
	ServicePort    string
	ConsumerPort   string
	RedisAddr      string
	RedisPassword  string
	MSSQLConn      string
	KafkaBrokers   []string
	TelemetryTopic string
	KafkaGroupID   string

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryMaxJitter time.Duration

	PromotionsTTL time.Duration

	RemoteBaseURL string
	RemoteTimeout time.Duration

	ConnectivityProbeURL      string
	ConnectivityProbeInterval time.Duration
	CacheSweepInterval        time.Duration
}

// Load reads configuration from the environment, falling back to defaults.
func Load() Config {
	return Config{
		ServicePort:    getEnv("SERVICE_PORT", "8080"),
		ConsumerPort:   getEnv("CONSUMER_PORT", "8081"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		MSSQLConn:      getEnv("MSSQL_CONN", "server=localhost;user id=sa;password=Your_strong_pwd1;database=storefront;encrypt=disable"),
		KafkaBrokers:   strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		TelemetryTopic: getEnv("TELEMETRY_TOPIC", "storefront-telemetry"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "telemetry-consumer"),

		MaxRetries:     getInt("MAX_RETRIES", 3),
		RetryBaseDelay: getMillis("RETRY_BASE_DELAY_MS", 1000),
		RetryMaxDelay:  getMillis("RETRY_MAX_DELAY_MS", 30000),
		RetryMaxJitter: getMillis("RETRY_MAX_JITTER_MS", 1000),

		PromotionsTTL: getSeconds("PROMOTIONS_TTL_SECONDS", 900),

		RemoteBaseURL: getEnv("REMOTE_BASE_URL", ""),
		RemoteTimeout: getMillis("REMOTE_TIMEOUT_MS", 10000),

		ConnectivityProbeURL:      getEnv("CONNECTIVITY_PROBE_URL", ""),
		ConnectivityProbeInterval: getMillis("CONNECTIVITY_PROBE_INTERVAL_MS", 5000),
		CacheSweepInterval:        getSeconds("CACHE_SWEEP_INTERVAL_SECONDS", 300),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

func getMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getInt(key, defaultMs)) * time.Millisecond
}

func getSeconds(key string, defaultSec int) time.Duration {
	return time.Duration(getInt(key, defaultSec)) * time.Second
}
