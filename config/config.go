package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Escrow    EscrowConfig    `mapstructure:"escrow"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type EscrowConfig struct {
	HoldWindow     time.Duration `mapstructure:"hold_window"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type SchedulerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"` // cron spec, e.g. "@every 5m"
	BatchSize int           `mapstructure:"batch_size"`
	Workers   int           `mapstructure:"workers"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type NotifyConfig struct {
	RetryIntervals []time.Duration `mapstructure:"retry_intervals"`
	Kafka          KafkaConfig     `mapstructure:"kafka"`
	Mongo          MongoConfig     `mapstructure:"mongo"`
	Webhook        WebhookConfig   `mapstructure:"webhook"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MongoConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: TBE_ (TimeBank Escrow).
// Nested keys use underscore: TBE_DATABASE_HOST, TBE_SCHEDULER_SCHEDULE, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("storage.driver", StoragePostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "timebank")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations/postgres")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "timebank-escrow")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("escrow.hold_window", "72h")
	v.SetDefault("escrow.idempotency_ttl", "24h")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.schedule", "@every 5m")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.lock_ttl", "4m")
	v.SetDefault("notify.retry_intervals", []string{"1s", "5s", "30s"})
	v.SetDefault("notify.kafka.enabled", false)
	v.SetDefault("notify.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("notify.kafka.topic", "escrow-notifications")
	v.SetDefault("notify.mongo.enabled", false)
	v.SetDefault("notify.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("notify.mongo.database", "timebank")
	v.SetDefault("notify.mongo.collection", "notifications")
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")
	v.SetDefault("notify.webhook.timeout", "10s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: TBE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("TBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q: must be %s or %s", c.Storage.Driver, StoragePostgres, StorageMemory)
	}
	if c.Escrow.HoldWindow <= 0 {
		return fmt.Errorf("escrow.hold_window must be positive")
	}
	if c.Notify.Webhook.Enabled && (c.Notify.Webhook.URL == "" || c.Notify.Webhook.Secret == "") {
		return fmt.Errorf("notify.webhook.url and notify.webhook.secret are required when the webhook is enabled")
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.BatchSize <= 0 {
			return fmt.Errorf("scheduler.batch_size must be positive")
		}
		if c.Scheduler.Workers <= 0 {
			return fmt.Errorf("scheduler.workers must be positive")
		}
	}
	return nil
}
