// Package config loads and validates application configuration from YAML files
// with .env and environment-variable overrides. It provides typed structs for
// every subsystem (Server, Kafka, Index, Ingestion, Indexer, Search, Auth, ...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Bulk submission modes.
const (
	BulkModeQueue  = "queue"
	BulkModeDirect = "direct"
)

// Credential verification modes.
const (
	AuthModeAPIKey = "apikey"
	AuthModeJWT    = "jwt"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Index     IndexConfig     `yaml:"index"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds the message channel settings. Brokers is the channel host
// list.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	ConsumerGroup     string        `yaml:"consumerGroup"`
	Partitions        int           `yaml:"partitions"`
	ReplicationFactor int           `yaml:"replicationFactor"`
	PublishTimeout    time.Duration `yaml:"publishTimeout"`
	Topics            KafkaTopics   `yaml:"topics"`
}

// KafkaTopics maps logical queue names to their Kafka topic strings.
type KafkaTopics struct {
	ContentQueue string `yaml:"contentQueue"`
	DeadLetter   string `yaml:"deadLetter"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig locates the index service (Host/Port) and, for the process that
// owns the index, its on-disk location.
type IndexConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Name           string        `yaml:"name"`
	DataDir        string        `yaml:"dataDir"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// URL returns the base URL of the index service.
func (c IndexConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// IngestionConfig controls the submit path.
type IngestionConfig struct {
	BulkMode                string        `yaml:"bulkMode"`
	BreakerFailureThreshold int           `yaml:"breakerFailureThreshold"`
	BreakerResetTimeout     time.Duration `yaml:"breakerResetTimeout"`
}

// IndexerConfig controls the consumer's retry and dead-letter policy.
type IndexerConfig struct {
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
}

// SearchConfig controls query result sizes and local caching.
type SearchConfig struct {
	PageSize       int           `yaml:"pageSize"`
	LocalCacheSize int           `yaml:"localCacheSize"`
	LocalCacheTTL  time.Duration `yaml:"localCacheTTL"`
}

// AuthConfig selects the credential verifier and per-identity rate limit.
type AuthConfig struct {
	Mode        string        `yaml:"mode"`
	JWTSecret   string        `yaml:"jwtSecret"`
	JWTIssuer   string        `yaml:"jwtIssuer"`
	JWTAudience string        `yaml:"jwtAudience"`
	RateLimit   int           `yaml:"rateLimit"`
	RateWindow  time.Duration `yaml:"rateWindow"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values and validated.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads .env.local and .env into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Ingestion.BulkMode {
	case BulkModeQueue, BulkModeDirect:
	default:
		return fmt.Errorf("ingestion.bulkMode must be %q or %q, got %q", BulkModeQueue, BulkModeDirect, c.Ingestion.BulkMode)
	}
	switch c.Auth.Mode {
	case AuthModeAPIKey:
		if !c.Postgres.Enabled {
			return fmt.Errorf("auth.mode %q requires postgres.enabled", AuthModeAPIKey)
		}
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwtSecret is required when auth.mode is %q", AuthModeJWT)
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeAPIKey, AuthModeJWT, c.Auth.Mode)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Kafka.Topics.ContentQueue == "" {
		return fmt.Errorf("kafka.topics.contentQueue must not be empty")
	}
	if c.Indexer.MaxAttempts < 1 {
		return fmt.Errorf("indexer.maxAttempts must be at least 1")
	}
	if c.Search.PageSize < 1 {
		return fmt.Errorf("search.pageSize must be at least 1")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "contentpipeline",
			User:            "contentpipeline",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			ConsumerGroup:     "content-indexer",
			Partitions:        1,
			ReplicationFactor: 1,
			PublishTimeout:    5 * time.Second,
			Topics: KafkaTopics{
				ContentQueue: "blog_queue",
				DeadLetter:   "blog_queue.dlq",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Second,
		},
		Index: IndexConfig{
			Host:           "localhost",
			Port:           9200,
			Name:           "blog",
			DataDir:        "data/index",
			RequestTimeout: 10 * time.Second,
		},
		Ingestion: IngestionConfig{
			BulkMode:                BulkModeQueue,
			BreakerFailureThreshold: 5,
			BreakerResetTimeout:     30 * time.Second,
		},
		Indexer: IndexerConfig{
			MaxAttempts:    5,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Search: SearchConfig{
			PageSize:       100,
			LocalCacheSize: 1024,
			LocalCacheTTL:  5 * time.Second,
		},
		Auth: AuthConfig{
			Mode:        AuthModeJWT,
			JWTSecret:   "localdev-secret",
			JWTIssuer:   "content-pipeline",
			JWTAudience: "content-api",
			RateLimit:   600,
			RateWindow:  time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("SP_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_POSTGRES_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_CHANNEL_HOST"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_INDEX_HOST"); v != "" {
		cfg.Index.Host = v
	}
	if v := os.Getenv("SP_INDEX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Index.Port = port
		}
	}
	if v := os.Getenv("SP_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("SP_INGESTION_BULK_MODE"); v != "" {
		cfg.Ingestion.BulkMode = v
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("SP_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
