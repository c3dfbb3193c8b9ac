// Package config provides configuration management for the paper processing service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the paper processing service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains Kafka publisher and command consumer settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Pipeline contains task queue and worker settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Retry contains retry and dead-letter settings.
	Retry RetryConfig `mapstructure:"retry"`
	// Events contains event bus and SSE streaming settings.
	Events EventsConfig `mapstructure:"events"`
	// StageServices contains downstream stage collaborator settings.
	StageServices StageServicesConfig `mapstructure:"stage_services"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. SSE streams
	// are exempted via http.ResponseController deadlines.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Enabled turns the PostgreSQL layer on. When false the service runs
	// entirely on in-memory stores and history does not survive a restart.
	Enabled bool `mapstructure:"enabled"`
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds Kafka publisher and command consumer settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka integration is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic is the topic global notification events are relayed to.
	EventsTopic string `mapstructure:"events_topic"`
	// CommandsTopic is the topic operator commands (dead-letter replay) are consumed from.
	CommandsTopic string `mapstructure:"commands_topic"`
	// ConsumerGroup is the consumer group ID for the commands listener.
	ConsumerGroup string `mapstructure:"consumer_group"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PipelineConfig holds task queue and worker settings.
type PipelineConfig struct {
	// Content is the queue serving the process stage.
	Content QueueConfig `mapstructure:"content"`
	// Extraction is the queue serving entity and relationship extraction.
	Extraction QueueConfig `mapstructure:"extraction"`
	// Graph is the queue serving graph build, analysis, and implementation prep.
	Graph QueueConfig `mapstructure:"graph"`
	// Stages contains per-stage execution overrides.
	Stages StagesConfig `mapstructure:"stages"`
}

// QueueConfig holds settings for a single named task queue.
type QueueConfig struct {
	// Workers is the number of concurrent workers consuming this queue.
	Workers int `mapstructure:"workers"`
	// Capacity is the maximum number of buffered tasks (0 = unbounded).
	Capacity int `mapstructure:"capacity"`
	// RateLimit is the maximum task dispatches per second (0 = unlimited).
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the burst size for the rate limiter.
	RateBurst int `mapstructure:"rate_burst"`
}

// StagesConfig holds per-stage execution overrides.
type StagesConfig struct {
	Process               StageConfig `mapstructure:"process"`
	ExtractEntities       StageConfig `mapstructure:"extract_entities"`
	ExtractRelationships  StageConfig `mapstructure:"extract_relationships"`
	BuildGraph            StageConfig `mapstructure:"build_graph"`
	Analyze               StageConfig `mapstructure:"analyze"`
	PrepareImplementation StageConfig `mapstructure:"prepare_implementation"`
}

// StageConfig holds execution overrides for a single pipeline stage.
type StageConfig struct {
	// MaxAttempts overrides the retry budget for this stage (0 = use retry.max_attempts).
	MaxAttempts int `mapstructure:"max_attempts"`
	// Timeout is the execution deadline for a single attempt.
	Timeout time.Duration `mapstructure:"timeout"`
	// Idempotent marks the stage as safe to short-circuit when the paper has
	// already reached the stage's target status.
	Idempotent bool `mapstructure:"idempotent"`
}

// RetryConfig holds retry and dead-letter settings.
type RetryConfig struct {
	// MaxAttempts is the default maximum execution attempts per task.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay is the base delay for exponential backoff.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// EventsConfig holds event bus and SSE streaming settings.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel buffer. Events are dropped for
	// a subscriber whose buffer is full.
	BufferSize int `mapstructure:"buffer_size"`
	// HeartbeatInterval is how often SSE streams emit a keepalive comment.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// MaxStreamDuration bounds the lifetime of a single SSE connection.
	MaxStreamDuration time.Duration `mapstructure:"max_stream_duration"`
}

// StageServicesConfig holds configuration for downstream stage collaborators.
type StageServicesConfig struct {
	// ContentExtractor serves the process stage.
	ContentExtractor StageServiceConfig `mapstructure:"content_extractor"`
	// KnowledgeExtractor serves entity and relationship extraction.
	KnowledgeExtractor StageServiceConfig `mapstructure:"knowledge_extractor"`
	// GraphBuilder serves the build_graph stage.
	GraphBuilder StageServiceConfig `mapstructure:"graph_builder"`
	// Analyzer serves the analyze and prepare_implementation stages.
	Analyzer StageServiceConfig `mapstructure:"analyzer"`
}

// StageServiceConfig holds configuration for a single stage collaborator API.
type StageServiceConfig struct {
	// Enabled controls whether the HTTP collaborator is used. When disabled
	// the stage runs with the built-in no-op handler.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. PAPERPROC_STAGE_SERVICES_CONTENT_EXTRACTOR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("PAPERPROC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-processing-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.StageServices.ContentExtractor.APIKey = os.Getenv("PAPERPROC_STAGE_SERVICES_CONTENT_EXTRACTOR_API_KEY")
	cfg.StageServices.KnowledgeExtractor.APIKey = os.Getenv("PAPERPROC_STAGE_SERVICES_KNOWLEDGE_EXTRACTOR_API_KEY")
	cfg.StageServices.GraphBuilder.APIKey = os.Getenv("PAPERPROC_STAGE_SERVICES_GRAPH_BUILDER_API_KEY")
	cfg.StageServices.Analyzer.APIKey = os.Getenv("PAPERPROC_STAGE_SERVICES_ANALYZER_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paperproc")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "paper_processing_service")
	// Default to "require" for production security. Use PAPERPROC_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "events.paper_processing_service")
	v.SetDefault("kafka.commands_topic", "commands.paper_processing_service")
	v.SetDefault("kafka.consumer_group", "paper-processing-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Pipeline queue defaults
	v.SetDefault("pipeline.content.workers", 2)
	v.SetDefault("pipeline.content.capacity", 0)
	v.SetDefault("pipeline.content.rate_limit", 0.0)
	v.SetDefault("pipeline.content.rate_burst", 1)
	v.SetDefault("pipeline.extraction.workers", 4)
	v.SetDefault("pipeline.extraction.capacity", 0)
	v.SetDefault("pipeline.extraction.rate_limit", 0.0)
	v.SetDefault("pipeline.extraction.rate_burst", 1)
	v.SetDefault("pipeline.graph.workers", 2)
	v.SetDefault("pipeline.graph.capacity", 0)
	v.SetDefault("pipeline.graph.rate_limit", 0.0)
	v.SetDefault("pipeline.graph.rate_burst", 1)

	// Stage defaults. All stages are idempotent unless explicitly disabled.
	for _, stage := range []string{
		"process",
		"extract_entities",
		"extract_relationships",
		"build_graph",
		"analyze",
		"prepare_implementation",
	} {
		v.SetDefault("pipeline.stages."+stage+".max_attempts", 0)
		v.SetDefault("pipeline.stages."+stage+".timeout", "5m")
		v.SetDefault("pipeline.stages."+stage+".idempotent", true)
	}

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "60s")

	// Events defaults
	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("events.heartbeat_interval", "15s")
	v.SetDefault("events.max_stream_duration", "30m")

	// Stage service defaults. Disabled services fall back to no-op handlers.
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("stage_services.content_extractor.enabled", false)
	v.SetDefault("stage_services.content_extractor.base_url", "http://localhost:9101")
	v.SetDefault("stage_services.content_extractor.timeout", "60s")
	v.SetDefault("stage_services.knowledge_extractor.enabled", false)
	v.SetDefault("stage_services.knowledge_extractor.base_url", "http://localhost:9102")
	v.SetDefault("stage_services.knowledge_extractor.timeout", "120s")
	v.SetDefault("stage_services.graph_builder.enabled", false)
	v.SetDefault("stage_services.graph_builder.base_url", "http://localhost:9103")
	v.SetDefault("stage_services.graph_builder.timeout", "120s")
	v.SetDefault("stage_services.analyzer.enabled", false)
	v.SetDefault("stage_services.analyzer.base_url", "http://localhost:9104")
	v.SetDefault("stage_services.analyzer.timeout", "120s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config. A disabled database needs no connection
	// settings at all.
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate pipeline queues
	for _, q := range []struct {
		name string
		cfg  QueueConfig
	}{
		{"content", c.Pipeline.Content},
		{"extraction", c.Pipeline.Extraction},
		{"graph", c.Pipeline.Graph},
	} {
		if q.cfg.Workers <= 0 {
			return fmt.Errorf("queue %s: workers must be positive", q.name)
		}
		if q.cfg.Capacity < 0 {
			return fmt.Errorf("queue %s: capacity must not be negative", q.name)
		}
		if q.cfg.RateLimit < 0 {
			return fmt.Errorf("queue %s: rate_limit must not be negative", q.name)
		}
	}

	// Validate retry config
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base_delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max_delay (%s) must be >= base_delay (%s)", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}

	// Validate events config
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events buffer_size must be positive")
	}

	// Validate Kafka config
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	// Validate enabled stage services
	for _, s := range []struct {
		name string
		cfg  StageServiceConfig
	}{
		{"content_extractor", c.StageServices.ContentExtractor},
		{"knowledge_extractor", c.StageServices.KnowledgeExtractor},
		{"graph_builder", c.StageServices.GraphBuilder},
		{"analyzer", c.StageServices.Analyzer},
	} {
		if s.cfg.Enabled && s.cfg.BaseURL == "" {
			return fmt.Errorf("stage service %s: base_url is required when enabled", s.name)
		}
	}

	return nil
}

// QueueFor returns the queue configuration for the named queue.
func (c *PipelineConfig) QueueFor(name string) (QueueConfig, bool) {
	switch name {
	case "content":
		return c.Content, true
	case "extraction":
		return c.Extraction, true
	case "graph":
		return c.Graph, true
	}
	return QueueConfig{}, false
}

// StageFor returns the stage configuration for the named stage.
func (c *PipelineConfig) StageFor(stage string) (StageConfig, bool) {
	switch stage {
	case "process":
		return c.Stages.Process, true
	case "extract_entities":
		return c.Stages.ExtractEntities, true
	case "extract_relationships":
		return c.Stages.ExtractRelationships, true
	case "build_graph":
		return c.Stages.BuildGraph, true
	case "analyze":
		return c.Stages.Analyze, true
	case "prepare_implementation":
		return c.Stages.PrepareImplementation, true
	}
	return StageConfig{}, false
}
