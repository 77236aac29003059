package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Defaults are applied first, then the optional YAML file named by
// CONFIG_FILE, then environment variables.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StoreDriver   string `yaml:"store_driver"`
	PGDSN         string `yaml:"pg_dsn"`
	BoltPath      string `yaml:"bolt_path"`
	RunMigrations bool   `yaml:"migrate"`

	RedisAddr          string        `yaml:"redis_addr"`
	RedisPassword      string        `yaml:"redis_password"`
	ReputationCacheTTL time.Duration `yaml:"reputation_cache_ttl"`

	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaTripTopic   string   `yaml:"kafka_trip_topic"`
	KafkaRatingTopic string   `yaml:"kafka_rating_topic"`

	WebhookURL   string `yaml:"webhook_url"`
	NotifyBuffer int    `yaml:"notify_buffer"`

	JWTSecret string `yaml:"jwt_secret"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		BoltPath:           "trips.db",
		ReputationCacheTTL: 10 * time.Minute,
		KafkaTripTopic:     "trip-events",
		KafkaRatingTopic:   "rating-events",
		LogLevel:           "info",
		LogFormat:          "json",
		NotifyBuffer:       16,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.StoreDriver, "STORE_DRIVER")
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setStringFromEnv(&cfg.BoltPath, "BOLT_PATH")
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setDurationFromEnv(&cfg.ReputationCacheTTL, "REPUTATION_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTripTopic, "KAFKA_TRIP_TOPIC")
	setStringFromEnv(&cfg.KafkaRatingTopic, "KAFKA_RATING_TOPIC")

	setStringFromEnv(&cfg.WebhookURL, "WEBHOOK_URL")
	setIntFromEnv(&cfg.NotifyBuffer, "NOTIFY_BUFFER", &errs)
	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	switch cfg.StoreDriver {
	case "", "memory", "postgres", "bolt":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory, postgres or bolt, got %q", cfg.StoreDriver))
	}
	if cfg.StoreDriver == "postgres" && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required for the postgres store"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be set"))
	}
	if cfg.ReputationCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("REPUTATION_CACHE_TTL must be > 0"))
	}
	if cfg.NotifyBuffer <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_BUFFER must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the reputation cache refresher.
type ConsumerConfig struct {
	MetricsAddr        string
	KafkaBrokers       []string
	KafkaRatingTopic   string
	KafkaGroup         string
	RedisAddr          string
	RedisPassword      string
	ReputationCacheTTL time.Duration
	StoreDriver        string
	PGDSN              string
	BoltPath           string
	LogLevel           string
	LogFormat          string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:        ":2112",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaRatingTopic:   "rating-events",
		KafkaGroup:         "reputation-refresher",
		RedisAddr:          "localhost:6379",
		ReputationCacheTTL: 10 * time.Minute,
		BoltPath:           "trips.db",
		LogLevel:           "info",
		LogFormat:          "json",
	}
	var errs []error
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaRatingTopic, "KAFKA_RATING_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.ReputationCacheTTL, "REPUTATION_CACHE_TTL", &errs)
	setStringFromEnv(&cfg.StoreDriver, "STORE_DRIVER")
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setStringFromEnv(&cfg.BoltPath, "BOLT_PATH")
	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func loadFile(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
