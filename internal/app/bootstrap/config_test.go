package bootstrap

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaultsWithMemoryStorage(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 50, cfg.Fraud.Threshold)
	assert.Equal(t, 24*time.Hour, cfg.Fraud.DuplicateIPWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
service:
  http_port: 7000
storage:
  driver: postgres
dependencies:
  postgres_url: postgres://file
  kafka_brokers: [kafka-1:9092]
fraud:
  threshold: 70
  velocity_window_minutes: 5
http:
  rate_limit_per_second: 3.5
`)
	t.Setenv("DB_URL", "postgres://env")
	t.Setenv("FRAUD_VELOCITY_PENALTY", "55")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.HTTPPort)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 70, cfg.Fraud.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Fraud.VelocityWindow)
	assert.Equal(t, 55, cfg.Fraud.VelocityPenalty)
	assert.InDelta(t, 3.5, cfg.RateLimitPerSecond, 0.0001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DB_URL", "")
	t.Setenv("POSTGRES_URL", "")
	_, err := LoadConfig(writeConfig(t, "storage:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "DB_URL")

	t.Setenv("STORAGE_DRIVER", "cassandra")
	_, err = LoadConfig(writeConfig(t, ""))
	assert.ErrorContains(t, err, "unsupported STORAGE_DRIVER")

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_ALLOW_EPHEMERAL", "false")
	_, err = LoadConfig(writeConfig(t, ""))
	assert.ErrorContains(t, err, "JWT_PRIVATE_KEY_PEM")
}

func TestLoadConfigRejectsThresholdAboveSelfReferralPenalty(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("FRAUD_THRESHOLD", "150")

	_, err := LoadConfig(writeConfig(t, ""))
	assert.ErrorContains(t, err, "FRAUD_SELF_REFERRAL_PENALTY")

	t.Setenv("FRAUD_SELF_REFERRAL_PENALTY", "150")
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Fraud.Threshold)
	assert.Equal(t, 150, cfg.Fraud.SelfReferralPenalty)
}

func TestLoadConfigTrustedProxies(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	path := writeConfig(t, "http:\n  trusted_proxies: [10.0.0.0/8]\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "192.168.1.0/24, 172.16.0.1")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("192.168.1.0/24"),
		netip.MustParsePrefix("172.16.0.1/32"),
	}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "TRUSTED_PROXIES")
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "service: [unclosed"))
	assert.ErrorContains(t, err, "parse config file")
}
