package bootstrap

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/viralforge/referral-platform/internal/domain"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the resolved runtime configuration shared by the api, worker and refctl
// binaries.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver string
	DatabaseURL   string
	MaxDBConns    int32
	RedisURL      string

	KafkaBrokers        []string
	KafkaTopicPrefix    string
	KafkaConsumerGroup  string
	KafkaConsumerTopics []string

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool
	BcryptCost        int
	SessionTTL        time.Duration

	CORSOrigins        []string
	TrustedProxies     []netip.Prefix
	RateLimitPerSecond float64
	APIKeyCacheSize    int
	APIKeyCacheTTL     time.Duration

	Fraud domain.FraudPolicy

	CodeSuffixLength int
	CodeMinLength    int
	CodeMaxAttempts  int
	RewardCodeLength int
	IdempotencyTTL   time.Duration
	BackfillBatch    int

	WebhookWorkers        int
	WebhookQueueSize      int
	WebhookTimeout        time.Duration
	WebhookMaxAttempts    int
	WebhookInitialBackoff time.Duration

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxClaimTTL       time.Duration
	OutboxMaxRetries     int
	ConsumerPollInterval time.Duration

	SnowflakeNode int64
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL string   `yaml:"postgres_url"`
		RedisURL    string   `yaml:"redis_url"`
		KafkaBroker []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Kafka struct {
		TopicPrefix    string   `yaml:"topic_prefix"`
		ConsumerGroup  string   `yaml:"consumer_group"`
		ConsumerTopics []string `yaml:"consumer_topics"`
	} `yaml:"kafka"`
	HTTP struct {
		CORSOrigins        []string `yaml:"cors_origins"`
		TrustedProxies     []string `yaml:"trusted_proxies"`
		RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	} `yaml:"http"`
	Fraud struct {
		Threshold            int `yaml:"threshold"`
		SelfReferralPenalty  int `yaml:"self_referral_penalty"`
		DuplicateIPThreshold int `yaml:"duplicate_ip_threshold"`
		DuplicateIPWindowMin int `yaml:"duplicate_ip_window_minutes"`
		DuplicateIPPenalty   int `yaml:"duplicate_ip_penalty"`
		VelocityThreshold    int `yaml:"velocity_threshold"`
		VelocityWindowMin    int `yaml:"velocity_window_minutes"`
		VelocityPenalty      int `yaml:"velocity_penalty"`
		FingerprintThreshold int `yaml:"fingerprint_threshold"`
		FingerprintPenalty   int `yaml:"fingerprint_penalty"`
	} `yaml:"fraud"`
	Codes struct {
		SuffixLength int `yaml:"suffix_length"`
		MinLength    int `yaml:"min_length"`
		MaxAttempts  int `yaml:"max_attempts"`
	} `yaml:"codes"`
	Webhooks struct {
		Workers        int `yaml:"workers"`
		QueueSize      int `yaml:"queue_size"`
		TimeoutSeconds int `yaml:"timeout_seconds"`
		MaxAttempts    int `yaml:"max_attempts"`
	} `yaml:"webhooks"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env. A .env
// file in the working directory is loaded first and never overrides the real environment.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ServiceID:             "referral-platform",
		HTTPPort:              8080,
		GRPCPort:              9090,
		StorageDriver:         StoragePostgres,
		MaxDBConns:            20,
		KafkaTopicPrefix:      "referral",
		KafkaConsumerGroup:    "referral-platform",
		KafkaConsumerTopics:   []string{"referral.conversion_requested"},
		JWTKeyID:              "referral-platform-key-1",
		AllowEphemeralJWT:     true,
		BcryptCost:            12,
		SessionTTL:            12 * time.Hour,
		CORSOrigins:           []string{"*"},
		RateLimitPerSecond:    20,
		APIKeyCacheSize:       4096,
		APIKeyCacheTTL:        time.Minute,
		Fraud:                 domain.DefaultFraudPolicy(),
		CodeSuffixLength:      domain.DefaultCodeSuffixLength,
		CodeMinLength:         domain.DefaultCodeMinLength,
		CodeMaxAttempts:       5,
		RewardCodeLength:      10,
		IdempotencyTTL:        7 * 24 * time.Hour,
		BackfillBatch:         200,
		WebhookWorkers:        4,
		WebhookQueueSize:      1024,
		WebhookTimeout:        5 * time.Second,
		WebhookMaxAttempts:    3,
		WebhookInitialBackoff: 500 * time.Millisecond,
		OutboxPollInterval:    2 * time.Second,
		OutboxBatchSize:       100,
		OutboxClaimTTL:        30 * time.Second,
		OutboxMaxRetries:      5,
		ConsumerPollInterval:  2 * time.Second,
		SnowflakeNode:         1,
	}

	var trustedProxies []string
	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
		trustedProxies = f.HTTP.TrustedProxies
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopicPrefix = envOrDefault("KAFKA_TOPIC_PREFIX", cfg.KafkaTopicPrefix)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaConsumerTopics = envCSV("KAFKA_CONSUMER_TOPICS", cfg.KafkaConsumerTopics)
	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	cfg.CORSOrigins = envCSV("CORS_ORIGINS", cfg.CORSOrigins)
	trustedProxies = envCSV("TRUSTED_PROXIES", trustedProxies)
	cfg.RateLimitPerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.APIKeyCacheSize = envInt("API_KEY_CACHE_SIZE", cfg.APIKeyCacheSize)
	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_MINUTES", int(cfg.SessionTTL.Minutes()))) * time.Minute
	cfg.APIKeyCacheTTL = time.Duration(envInt("API_KEY_CACHE_TTL_SECONDS", int(cfg.APIKeyCacheTTL.Seconds()))) * time.Second

	cfg.Fraud.Threshold = envInt("FRAUD_THRESHOLD", cfg.Fraud.Threshold)
	cfg.Fraud.SelfReferralPenalty = envInt("FRAUD_SELF_REFERRAL_PENALTY", cfg.Fraud.SelfReferralPenalty)
	cfg.Fraud.DuplicateIPThreshold = envInt("FRAUD_DUPLICATE_IP_THRESHOLD", cfg.Fraud.DuplicateIPThreshold)
	cfg.Fraud.DuplicateIPWindow = time.Duration(envInt("FRAUD_DUPLICATE_IP_WINDOW_MINUTES", int(cfg.Fraud.DuplicateIPWindow.Minutes()))) * time.Minute
	cfg.Fraud.DuplicateIPPenalty = envInt("FRAUD_DUPLICATE_IP_PENALTY", cfg.Fraud.DuplicateIPPenalty)
	cfg.Fraud.VelocityThreshold = envInt("FRAUD_VELOCITY_THRESHOLD", cfg.Fraud.VelocityThreshold)
	cfg.Fraud.VelocityWindow = time.Duration(envInt("FRAUD_VELOCITY_WINDOW_MINUTES", int(cfg.Fraud.VelocityWindow.Minutes()))) * time.Minute
	cfg.Fraud.VelocityPenalty = envInt("FRAUD_VELOCITY_PENALTY", cfg.Fraud.VelocityPenalty)
	cfg.Fraud.FingerprintThreshold = envInt("FRAUD_FINGERPRINT_THRESHOLD", cfg.Fraud.FingerprintThreshold)
	cfg.Fraud.FingerprintPenalty = envInt("FRAUD_FINGERPRINT_PENALTY", cfg.Fraud.FingerprintPenalty)

	cfg.CodeSuffixLength = envInt("CODE_SUFFIX_LENGTH", cfg.CodeSuffixLength)
	cfg.CodeMinLength = envInt("CODE_MIN_LENGTH", cfg.CodeMinLength)
	cfg.CodeMaxAttempts = envInt("CODE_MAX_ATTEMPTS", cfg.CodeMaxAttempts)
	cfg.RewardCodeLength = envInt("REWARD_CODE_LENGTH", cfg.RewardCodeLength)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.BackfillBatch = envInt("BACKFILL_BATCH_SIZE", cfg.BackfillBatch)

	cfg.WebhookWorkers = envInt("WEBHOOK_WORKERS", cfg.WebhookWorkers)
	cfg.WebhookQueueSize = envInt("WEBHOOK_QUEUE_SIZE", cfg.WebhookQueueSize)
	cfg.WebhookTimeout = time.Duration(envInt("WEBHOOK_TIMEOUT_SECONDS", int(cfg.WebhookTimeout.Seconds()))) * time.Second
	cfg.WebhookMaxAttempts = envInt("WEBHOOK_MAX_ATTEMPTS", cfg.WebhookMaxAttempts)

	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.SnowflakeNode = int64(envInt("SNOWFLAKE_NODE", int(cfg.SnowflakeNode)))

	switch cfg.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if (cfg.JWTPrivateKeyPEM == "" || cfg.JWTPublicKeyPEM == "") && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
	}
	if cfg.TrustedProxies, err = parsePrefixes(trustedProxies); err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	if cfg.Fraud.Threshold <= 0 {
		return Config{}, fmt.Errorf("FRAUD_THRESHOLD must be positive")
	}
	if cfg.Fraud.SelfReferralPenalty < cfg.Fraud.Threshold {
		return Config{}, fmt.Errorf("FRAUD_SELF_REFERRAL_PENALTY (%d) must be at least FRAUD_THRESHOLD (%d)",
			cfg.Fraud.SelfReferralPenalty, cfg.Fraud.Threshold)
	}

	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBroker) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBroker
	}
	if f.Kafka.TopicPrefix != "" {
		cfg.KafkaTopicPrefix = f.Kafka.TopicPrefix
	}
	if f.Kafka.ConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Kafka.ConsumerGroup
	}
	if len(f.Kafka.ConsumerTopics) > 0 {
		cfg.KafkaConsumerTopics = f.Kafka.ConsumerTopics
	}
	if len(f.HTTP.CORSOrigins) > 0 {
		cfg.CORSOrigins = f.HTTP.CORSOrigins
	}
	if f.HTTP.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = f.HTTP.RateLimitPerSecond
	}

	fraud := f.Fraud
	setPositive(&cfg.Fraud.Threshold, fraud.Threshold)
	setPositive(&cfg.Fraud.SelfReferralPenalty, fraud.SelfReferralPenalty)
	setPositive(&cfg.Fraud.DuplicateIPThreshold, fraud.DuplicateIPThreshold)
	setPositive(&cfg.Fraud.DuplicateIPPenalty, fraud.DuplicateIPPenalty)
	setPositive(&cfg.Fraud.VelocityThreshold, fraud.VelocityThreshold)
	setPositive(&cfg.Fraud.VelocityPenalty, fraud.VelocityPenalty)
	setPositive(&cfg.Fraud.FingerprintThreshold, fraud.FingerprintThreshold)
	setPositive(&cfg.Fraud.FingerprintPenalty, fraud.FingerprintPenalty)
	if fraud.DuplicateIPWindowMin > 0 {
		cfg.Fraud.DuplicateIPWindow = time.Duration(fraud.DuplicateIPWindowMin) * time.Minute
	}
	if fraud.VelocityWindowMin > 0 {
		cfg.Fraud.VelocityWindow = time.Duration(fraud.VelocityWindowMin) * time.Minute
	}

	setPositive(&cfg.CodeSuffixLength, f.Codes.SuffixLength)
	setPositive(&cfg.CodeMinLength, f.Codes.MinLength)
	setPositive(&cfg.CodeMaxAttempts, f.Codes.MaxAttempts)

	setPositive(&cfg.WebhookWorkers, f.Webhooks.Workers)
	setPositive(&cfg.WebhookQueueSize, f.Webhooks.QueueSize)
	setPositive(&cfg.WebhookMaxAttempts, f.Webhooks.MaxAttempts)
	if f.Webhooks.TimeoutSeconds > 0 {
		cfg.WebhookTimeout = time.Duration(f.Webhooks.TimeoutSeconds) * time.Second
	}
}

// parsePrefixes accepts CIDRs or bare addresses, the latter as single-host prefixes.
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV splits a comma-separated env var, dropping empty entries.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
