package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var configKeys = []string{
	"SERVICE_PORT", "CONSUMER_PORT", "REDIS_ADDR", "REDIS_PASSWORD", "MSSQL_CONN",
	"KAFKA_BROKERS", "TELEMETRY_TOPIC", "KAFKA_GROUP_ID", "MAX_RETRIES",
	"RETRY_BASE_DELAY_MS", "RETRY_MAX_DELAY_MS", "RETRY_MAX_JITTER_MS",
	"PROMOTIONS_TTL_SECONDS", "REMOTE_BASE_URL", "REMOTE_TIMEOUT_MS", "CONNECTIVITY_PROBE_URL",
	"CONNECTIVITY_PROBE_INTERVAL_MS", "CACHE_SWEEP_INTERVAL_SECONDS",
}

func clearEnv(t *testing.T) {
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()

	assert.Equal(t, "8080", c.ServicePort)
	assert.Equal(t, "8081", c.ConsumerPort)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Equal(t, []string{"localhost:9092"}, c.KafkaBrokers)
	assert.Equal(t, "storefront-telemetry", c.TelemetryTopic)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, time.Second, c.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, c.RetryMaxDelay)
	assert.Equal(t, time.Second, c.RetryMaxJitter)
	assert.Equal(t, 15*time.Minute, c.PromotionsTTL)
	assert.Empty(t, c.RemoteBaseURL)
	assert.Equal(t, 10*time.Second, c.RemoteTimeout)
	assert.Empty(t, c.ConnectivityProbeURL)
	assert.Equal(t, 5*time.Second, c.ConnectivityProbeInterval)
	assert.Equal(t, 5*time.Minute, c.CacheSweepInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_BASE_DELAY_MS", "250")
	t.Setenv("PROMOTIONS_TTL_SECONDS", "60")
	t.Setenv("CONNECTIVITY_PROBE_URL", "https://example.co.za/ping")

	c := Load()

	assert.Equal(t, "9090", c.ServicePort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 5, c.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, c.RetryBaseDelay)
	assert.Equal(t, time.Minute, c.PromotionsTTL)
	assert.Equal(t, "https://example.co.za/ping", c.ConnectivityProbeURL)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RETRIES", "lots")
	t.Setenv("RETRY_MAX_DELAY_MS", "-10")

	c := Load()

	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 30*time.Second, c.RetryMaxDelay)
}
