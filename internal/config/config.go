// Package config centralises configuration parsing for the challenge service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures runtime configuration values for the challenge service.
type Config struct {
	HTTPAddress    string   `toml:"http_address"`
	MetricsAddress string   `toml:"metrics_address"`
	AllowedOrigins []string `toml:"allowed_origins"`

	// PostgresURL selects the Postgres store; empty runs against the in-memory store.
	PostgresURL string `toml:"postgres_url"`

	KafkaBrokers      []string `toml:"kafka_brokers"`
	ConsumerGroupID   string   `toml:"consumer_group_id"`
	ConsumerTopics    []string `toml:"consumer_topics"`
	SchemaRegistryURL string   `toml:"schema_registry_url"`
	KafkaWriteTimeout Duration `toml:"kafka_write_timeout"`

	OutboxPollInterval Duration `toml:"outbox_poll_interval"`
	OutboxBatchSize    int      `toml:"outbox_batch_size"`
	DLQPollInterval    Duration `toml:"dlq_poll_interval"`
	DLQMaxRetries      int      `toml:"dlq_max_retries"`
	DLQBaseDelay       Duration `toml:"dlq_base_delay"`
	DLQBatchSize       int      `toml:"dlq_batch_size"`

	JWTSecret string `toml:"jwt_secret"`
	JWTIssuer string `toml:"jwt_issuer"`

	RedisAddress        string   `toml:"redis_address"`
	RedisPassword       string   `toml:"redis_password"`
	NotifyChannelPrefix string   `toml:"notify_channel_prefix"`
	NotifyBufferSize    int      `toml:"notify_buffer_size"`
	WebhookURL          string   `toml:"webhook_url"`
	WebhookToken        string   `toml:"webhook_token"`
	WebhookTimeout      Duration `toml:"webhook_timeout"`

	// LegacyTaxonomy enables the deprecated distance/workout_count types and the cumulative scope.
	LegacyTaxonomy bool `toml:"legacy_taxonomy"`

	LogLevel      string `toml:"log_level"`
	LogFormatJSON bool   `toml:"log_format_json"`
	LogFile       string `toml:"log_file"`
	LogToStdout   bool   `toml:"log_to_stdout"`
}

// Duration decodes TOML strings such as "2s" into a time.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Toml holds per-environment sections of a config file.
type Toml struct {
	Development *Config `toml:"development"`
	Production  *Config `toml:"production"`
}

// Get returns the section for env.
func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Defaults returns the local development configuration.
func Defaults() Config {
	return Config{
		HTTPAddress:         ":8080",
		MetricsAddress:      ":9100",
		AllowedOrigins:      []string{"http://localhost:5173"},
		KafkaBrokers:        []string{"kafka:9092"},
		ConsumerGroupID:     "challenge-progress",
		ConsumerTopics:      []string{"workout_events"},
		SchemaRegistryURL:   "http://schema-registry:8081",
		KafkaWriteTimeout:   Duration{10 * time.Second},
		OutboxPollInterval:  Duration{2 * time.Second},
		OutboxBatchSize:     25,
		DLQPollInterval:     Duration{30 * time.Second},
		DLQMaxRetries:       5,
		DLQBaseDelay:        Duration{time.Minute},
		DLQBatchSize:        50,
		JWTSecret:           "dev-secret-change-me",
		JWTIssuer:           "i5e.identity",
		NotifyChannelPrefix: "challenges:completed:",
		NotifyBufferSize:    256,
		WebhookTimeout:      Duration{5 * time.Second},
		LogLevel:            "info",
		LogToStdout:         true,
	}
}

// Load reads the optional TOML file named by CONFIG_FILE, using the section
// selected by APP_ENV, and then applies environment variable overrides.
func Load() (Config, error) {
	return LoadFile(getEnv("APP_ENV", "development"), getEnv("CONFIG_FILE", ""))
}

// LoadFile is Load with an explicit environment and file path. An empty path skips the file.
func LoadFile(env, path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		var file Toml
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
		section, err := file.Get(env)
		if err != nil {
			return Config{}, err
		}
		if section != nil {
			overlay(&cfg, *section)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func overlay(dst *Config, src Config) {
	setString(&dst.HTTPAddress, src.HTTPAddress)
	setString(&dst.MetricsAddress, src.MetricsAddress)
	setSlice(&dst.AllowedOrigins, src.AllowedOrigins)
	setString(&dst.PostgresURL, src.PostgresURL)
	setSlice(&dst.KafkaBrokers, src.KafkaBrokers)
	setString(&dst.ConsumerGroupID, src.ConsumerGroupID)
	setSlice(&dst.ConsumerTopics, src.ConsumerTopics)
	setString(&dst.SchemaRegistryURL, src.SchemaRegistryURL)
	setDuration(&dst.KafkaWriteTimeout, src.KafkaWriteTimeout)
	setDuration(&dst.OutboxPollInterval, src.OutboxPollInterval)
	setInt(&dst.OutboxBatchSize, src.OutboxBatchSize)
	setDuration(&dst.DLQPollInterval, src.DLQPollInterval)
	setInt(&dst.DLQMaxRetries, src.DLQMaxRetries)
	setDuration(&dst.DLQBaseDelay, src.DLQBaseDelay)
	setInt(&dst.DLQBatchSize, src.DLQBatchSize)
	setString(&dst.JWTSecret, src.JWTSecret)
	setString(&dst.JWTIssuer, src.JWTIssuer)
	setString(&dst.RedisAddress, src.RedisAddress)
	setString(&dst.RedisPassword, src.RedisPassword)
	setString(&dst.NotifyChannelPrefix, src.NotifyChannelPrefix)
	setInt(&dst.NotifyBufferSize, src.NotifyBufferSize)
	setString(&dst.WebhookURL, src.WebhookURL)
	setString(&dst.WebhookToken, src.WebhookToken)
	setDuration(&dst.WebhookTimeout, src.WebhookTimeout)
	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.LogFile, src.LogFile)
	// Booleans from the file always apply; the section is explicit.
	dst.LegacyTaxonomy = src.LegacyTaxonomy
	dst.LogFormatJSON = src.LogFormatJSON
	dst.LogToStdout = src.LogToStdout
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddress = getEnv("HTTP_ADDRESS", cfg.HTTPAddress)
	cfg.MetricsAddress = getEnv("METRICS_ADDRESS", cfg.MetricsAddress)
	cfg.AllowedOrigins = getListEnv("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.KafkaBrokers = getListEnv("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.ConsumerGroupID = getEnv("CONSUMER_GROUP_ID", cfg.ConsumerGroupID)
	cfg.ConsumerTopics = getListEnv("CONSUMER_TOPICS", cfg.ConsumerTopics)
	cfg.SchemaRegistryURL = getEnv("SCHEMA_REGISTRY_URL", cfg.SchemaRegistryURL)
	cfg.KafkaWriteTimeout.Duration = getDurationEnv("KAFKA_WRITE_TIMEOUT", cfg.KafkaWriteTimeout.Duration)
	cfg.OutboxPollInterval.Duration = getDurationEnv("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval.Duration)
	cfg.OutboxBatchSize = getIntEnv("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.DLQPollInterval.Duration = getDurationEnv("DLQ_POLL_INTERVAL", cfg.DLQPollInterval.Duration)
	cfg.DLQMaxRetries = getIntEnv("DLQ_MAX_RETRIES", cfg.DLQMaxRetries)
	cfg.DLQBaseDelay.Duration = getDurationEnv("DLQ_BASE_DELAY", cfg.DLQBaseDelay.Duration)
	cfg.DLQBatchSize = getIntEnv("DLQ_BATCH_SIZE", cfg.DLQBatchSize)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.RedisAddress = getEnv("REDIS_ADDRESS", cfg.RedisAddress)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.NotifyChannelPrefix = getEnv("NOTIFY_CHANNEL_PREFIX", cfg.NotifyChannelPrefix)
	cfg.NotifyBufferSize = getIntEnv("NOTIFY_BUFFER_SIZE", cfg.NotifyBufferSize)
	cfg.WebhookURL = getEnv("WEBHOOK_URL", cfg.WebhookURL)
	cfg.WebhookToken = getEnv("WEBHOOK_TOKEN", cfg.WebhookToken)
	cfg.WebhookTimeout.Duration = getDurationEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout.Duration)
	cfg.LegacyTaxonomy = getBoolEnv("LEGACY_TAXONOMY", cfg.LegacyTaxonomy)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormatJSON = getBoolEnv("LOG_FORMAT_JSON", cfg.LogFormatJSON)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogToStdout = getBoolEnv("LOG_TO_STDOUT", cfg.LogToStdout)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}

func setDuration(dst *Duration, value Duration) {
	if value.Duration != 0 {
		*dst = value
	}
}

func setSlice(dst *[]string, value []string) {
	if len(value) > 0 {
		*dst = value
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getListEnv(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parts := splitAndTrim(value); len(parts) > 0 {
			return parts
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
