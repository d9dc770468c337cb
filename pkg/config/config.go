// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Pipeline, Store, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PipelineConfig controls the dump ingestion pipeline: where the XML dump
// lives, which terms select questions, and the streaming/batching limits.
type PipelineConfig struct {
	// XMLFilePath is the directory holding Posts.xml, Comments.xml,
	// Users.xml, PostLinks.xml and Votes.xml. Pipeline artifacts
	// (Questions.json, PostIds.json, ...) are written alongside them.
	XMLFilePath   string `yaml:"xmlFilePath"`
	IndexPrefix   string `yaml:"indexPrefix"`
	TagsToInclude string `yaml:"tagsToInclude"`
	TagsToExclude string `yaml:"tagsToExclude"`
	// HighWaterMark is the number of in-flight records above which the
	// input stream is paused. Reading resumes at half this value.
	HighWaterMark int           `yaml:"highWaterMark"`
	IndexTimeout  time.Duration `yaml:"indexTimeout"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
}

// StoreConfig holds the embedded document store settings.
type StoreConfig struct {
	DataDir string `yaml:"dataDir"`
}

// PostgresConfig holds connection parameters for the optional pipeline
// run ledger.
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

// KafkaConfig holds broker settings for the optional completion-event
// stream.
type KafkaConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Brokers            []string `yaml:"brokers"`
	IndexCompleteTopic string   `yaml:"indexCompleteTopic"`
}

// RedisConfig holds connection parameters for the optional existence-check
// cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with working defaults for a local run
// against a JavaScript-oriented Stack Exchange dump.
func defaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			IndexPrefix: "javascript_",
			TagsToInclude: "javascript node.js express passport mongoose html html5 " +
				"bootstrap mocha electron pug jade reactjs jsx react-router redux " +
				"git eslint jasmine",
			TagsToExclude: "exploit sql-injection penetration-testing xss sniff attack crack",
			HighWaterMark: 256,
			IndexTimeout:  30 * time.Second,
			BatchTimeout:  time.Second,
		},
		Store: StoreConfig{
			DataDir: "data/index",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "stackoff",
			User:            "stackoff",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			IndexCompleteTopic: "index.complete",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads STACKOFF_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STACKOFF_XML_FILE_PATH"); v != "" {
		cfg.Pipeline.XMLFilePath = v
	}
	if v := os.Getenv("STACKOFF_INDEX_PREFIX"); v != "" {
		cfg.Pipeline.IndexPrefix = v
	}
	if v := os.Getenv("STACKOFF_TAGS_TO_INCLUDE"); v != "" {
		cfg.Pipeline.TagsToInclude = v
	}
	if v := os.Getenv("STACKOFF_TAGS_TO_EXCLUDE"); v != "" {
		cfg.Pipeline.TagsToExclude = v
	}
	if v := os.Getenv("STACKOFF_HIGH_WATER_MARK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.HighWaterMark = n
		}
	}
	if v := os.Getenv("STACKOFF_INDEX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.IndexTimeout = d
		}
	}
	if v := os.Getenv("STACKOFF_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("STACKOFF_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("STACKOFF_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("STACKOFF_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("STACKOFF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("STACKOFF_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("STACKOFF_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("STACKOFF_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STACKOFF_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
