package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

// Module provides the configuration read from the environment
var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	Neo4j  Neo4jConfig
	Schema SchemaConfig
	Events EventsConfig
	Write  WriteConfig
}

// Neo4jConfig holds graph database connection settings
type Neo4jConfig struct {
	URI               string        `env:"NEO4J_URI" envDefault:"bolt://localhost:7687"`
	Username          string        `env:"NEO4J_USER" envDefault:"neo4j"`
	Password          string        `env:"NEO4J_PASSWORD" envDefault:"password"`
	Database          string        `env:"NEO4J_DATABASE" envDefault:"neo4j"`
	MaxPoolSize       int           `env:"NEO4J_MAX_POOL_SIZE" envDefault:"100"`
	AcquireTimeout    time.Duration `env:"NEO4J_ACQUIRE_TIMEOUT" envDefault:"30s"`
	MaxTxRetryTime    time.Duration `env:"NEO4J_MAX_TX_RETRY_TIME" envDefault:"15s"`
	EnsureConstraints bool          `env:"NEO4J_ENSURE_CONSTRAINTS" envDefault:"true"`
}

// SchemaConfig controls where the type schema comes from
type SchemaConfig struct {
	Dir          string        `env:"SCHEMA_DIR" envDefault:"./schema"`
	PollInterval time.Duration `env:"SCHEMA_POLL_INTERVAL" envDefault:"60s"`
	// Attribute names accepted even though they are not camelCase
	AttributeNameExceptions []string `env:"ATTRIBUTE_NAME_EXCEPTIONS" envSeparator:","`
}

// EventsConfig selects and tunes the audit log sink
type EventsConfig struct {
	KinesisStream   string `env:"KINESIS_STREAM_NAME"`
	KinesisEndpoint string `env:"KINESIS_ENDPOINT"`
	AWSRegion       string `env:"AWS_REGION" envDefault:"eu-west-1"`
	// Static credentials for local Kinesis endpoints; the default AWS
	// credential chain is used when unset
	KinesisAccessKey string `env:"KINESIS_ACCESS_KEY"`
	KinesisSecretKey string `env:"KINESIS_SECRET_KEY"`

	LogPath   string `env:"EVENT_LOG_PATH"`
	QueueSize int    `env:"EVENT_QUEUE_SIZE" envDefault:"1000"`
}

// WriteConfig tunes write statement construction
type WriteConfig struct {
	RelationshipBatchSize int `env:"RELATIONSHIP_BATCH_SIZE" envDefault:"50"`
}

// IsProduction reports whether the service runs in a deployed environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewConfig parses configuration from the environment
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Write.RelationshipBatchSize < 1 {
		return nil, fmt.Errorf("RELATIONSHIP_BATCH_SIZE must be positive, got %d", cfg.Write.RelationshipBatchSize)
	}
	if cfg.Events.QueueSize < 1 {
		return nil, fmt.Errorf("EVENT_QUEUE_SIZE must be positive, got %d", cfg.Events.QueueSize)
	}
	return cfg, nil
}
