// Package config provides configuration management for the switchyard gateway.
//
// Configuration is loaded from multiple sources with proper precedence:
//   - YAML configuration files
//   - Environment variables (prefix SWITCHYARD_)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Later sources override earlier ones:
//  1. Default values (set via SetDefaults)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.switchyard/config.yaml, /etc/switchyard/config.yaml)
//  3. .env files
//  4. Environment variables
//
// # Usage Example
//
//	cfg, err := config.LoadConfig("SWITCHYARD", "config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Store: %s\n", cfg.Store.URL)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use the prefix and underscores for nested keys:
//   - SWITCHYARD_SERVER_PORT=8090
//   - SWITCHYARD_STORE_URL=http://localhost:5984
//   - SWITCHYARD_PIPELINE_WORKERS=16
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig contains service metadata
type ServiceConfig struct {
	// Name is the service name
	Name string `mapstructure:"name"`

	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`
}

// ServerConfig configures the HTTP push-source server
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8090)
	Port int `mapstructure:"port"`

	// BodyLimit caps inbound request bodies (echo syntax, e.g. "256K")
	BodyLimit string `mapstructure:"body_limit"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is the per-client ingress requests/second ceiling
	RateLimit int `mapstructure:"rate_limit"`

	// Debug enables debug logging and request dumps
	Debug bool `mapstructure:"debug"`
}

// StoreConfig contains document-store connection settings
type StoreConfig struct {
	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url"`

	// Prefix namespaces every collection database (e.g. "switchyard" →
	// switchyard_execution_logs)
	Prefix string `mapstructure:"prefix"`

	// Username for store authentication
	Username string `mapstructure:"username"`

	// Password for store authentication
	Password string `mapstructure:"password"`

	// Timeout in seconds for store operations
	Timeout int `mapstructure:"timeout"`

	// CreateIfMissing automatically creates collection databases on startup
	CreateIfMissing bool `mapstructure:"create_if_missing"`
}

// RedisConfig contains the rate-limit / lease-lock store settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SharedSQLConfig is the shared relational pool used by table-poll sources
// and scheduled jobs that opt into useSharedPool.
type SharedSQLConfig struct {
	// Driver is "mysql" or "postgres"
	Driver string `mapstructure:"driver"`

	// DSN is the driver-specific connection string
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns bounds the pool (default 10)
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

// PipelineConfig bounds the event-processing pipeline
type PipelineConfig struct {
	// Workers is the pipeline worker-pool size (default 8)
	Workers int `mapstructure:"workers"`

	// QueueSize is the pending-event buffer per pool (default 256)
	QueueSize int `mapstructure:"queue_size"`

	// MaxPayloadBytes rejects oversized events (default 102400)
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`

	// AuditQueueSize bounds the fire-and-forget audit writer; writes beyond
	// it are dropped with a warning (default 1000)
	AuditQueueSize int `mapstructure:"audit_queue_size"`

	// AuditPayloadSnapshot stores full payloads on audit rows when under
	// MaxPayloadBytes (default false)
	AuditPayloadSnapshot bool `mapstructure:"audit_payload_snapshot"`

	// StuckThreshold promotes PROCESSING events to STUCK after this long
	// (default 5m)
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`

	// MultiActionDelayMs is the default pause between a multi-action
	// integration's actions; 0 disables (tenant config overrides)
	MultiActionDelayMs int `mapstructure:"multi_action_delay_ms"`

	// NackDelay is handed to the source on worker errors (default 60s)
	NackDelay time.Duration `mapstructure:"nack_delay"`
}

// DedupConfig bounds the duplicate-suppression caches
type DedupConfig struct {
	// Window is the in-memory freshness window (default 5m)
	Window time.Duration `mapstructure:"window"`

	// MaxEntries triggers proactive eviction of stale fingerprints
	// (default 10000)
	MaxEntries int `mapstructure:"max_entries"`

	// DurableTTL is the retention of processed_events records (default 24h)
	DurableTTL time.Duration `mapstructure:"durable_ttl"`
}

// SchedulerConfig drives the scheduled-item worker
type SchedulerConfig struct {
	// Interval between scheduler passes (default 60s)
	Interval time.Duration `mapstructure:"interval"`

	// BatchSize caps claims per pass (default 10)
	BatchSize int `mapstructure:"batch_size"`

	// StuckReset returns PROCESSING items to PENDING after this long
	// (default 10m)
	StuckReset time.Duration `mapstructure:"stuck_reset"`

	// LeaseTTL is the redis lease guarding a pass so one replica claims
	// (default 60s)
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

// RetryConfig drives the retry processor
type RetryConfig struct {
	// Interval between retry passes (default 60s)
	Interval time.Duration `mapstructure:"interval"`

	// BatchSize caps logs examined per pass (default 50)
	BatchSize int `mapstructure:"batch_size"`

	// MaxProcessingTime breaks a pass early (default 120s)
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
}

// DLQConfig drives the dead-letter retry worker
type DLQConfig struct {
	// Cron is a 5-field spec (default "* * * * *", every minute)
	Cron string `mapstructure:"cron"`

	// BatchSize caps entries per run (default 50)
	BatchSize int `mapstructure:"batch_size"`

	// MaxRetries before an entry is abandoned (default 5)
	MaxRetries int `mapstructure:"max_retries"`
}

// SourcesConfig drives the per-tenant adapter manager
type SourcesConfig struct {
	// ReconcileInterval between config diffs (default 2m)
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// DefaultConfigFile is a YAML fallback applied to tenants without an
	// explicit event_source_configs document
	DefaultConfigFile string `mapstructure:"default_config_file"`

	// CursorPath is the bbolt file persisting table-poll cursors
	CursorPath string `mapstructure:"cursor_path"`
}

// CircuitConfig tunes the per-integration breaker
type CircuitConfig struct {
	// FailureThreshold consecutive infrastructure failures open the circuit
	// (default 5)
	FailureThreshold int `mapstructure:"failure_threshold"`

	// Cooldown before an OPEN circuit admits a probe (default 60s)
	Cooldown time.Duration `mapstructure:"cooldown"`

	// CacheTTL for in-process reads of circuit documents (default 30s)
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DeliveryConfig tunes outbound HTTP behavior
type DeliveryConfig struct {
	// DefaultTimeout per attempt when the integration sets none (default 10s)
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// AllowPrivateTargets permits loopback/link-local/private target hosts;
	// keep false outside development
	AllowPrivateTargets bool `mapstructure:"allow_private_targets"`

	// MaxResponseBytes caps stored response bodies (default 65536)
	MaxResponseBytes int `mapstructure:"max_response_bytes"`

	// ScriptBudget is the wall-clock limit for sandboxed scripts (default 60s)
	ScriptBudget time.Duration `mapstructure:"script_budget"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// Config is the root configuration for the gateway process
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SharedSQL SharedSQLConfig `mapstructure:"shared_sql"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment prefix.
// The prefix is used for environment variables (e.g., "SWITCHYARD" -> "SWITCHYARD_SERVER_PORT").
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetDefaults sets default configuration values.
// This should be called before Load().
func (l *Loader) SetDefaults(defaults map[string]interface{}) {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// SetConfigDefaults sets the standard gateway defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("service.name", "switchyard")
	l.v.SetDefault("service.environment", "development")

	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8090)
	l.v.SetDefault("server.body_limit", "256K")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.rate_limit", 100)
	l.v.SetDefault("server.debug", false)

	l.v.SetDefault("store.url", "http://localhost:5984")
	l.v.SetDefault("store.prefix", "switchyard")
	l.v.SetDefault("store.username", "")
	l.v.SetDefault("store.password", "")
	l.v.SetDefault("store.timeout", 30)
	l.v.SetDefault("store.create_if_missing", true)

	l.v.SetDefault("redis.addr", "localhost:6379")
	l.v.SetDefault("redis.password", "")
	l.v.SetDefault("redis.db", 0)

	l.v.SetDefault("shared_sql.driver", "mysql")
	l.v.SetDefault("shared_sql.dsn", "")
	l.v.SetDefault("shared_sql.max_open_conns", 10)

	l.v.SetDefault("pipeline.workers", 8)
	l.v.SetDefault("pipeline.queue_size", 256)
	l.v.SetDefault("pipeline.max_payload_bytes", 102400)
	l.v.SetDefault("pipeline.audit_queue_size", 1000)
	l.v.SetDefault("pipeline.audit_payload_snapshot", false)
	l.v.SetDefault("pipeline.stuck_threshold", "5m")
	l.v.SetDefault("pipeline.multi_action_delay_ms", 0)
	l.v.SetDefault("pipeline.nack_delay", "60s")

	l.v.SetDefault("dedup.window", "5m")
	l.v.SetDefault("dedup.max_entries", 10000)
	l.v.SetDefault("dedup.durable_ttl", "24h")

	l.v.SetDefault("scheduler.interval", "60s")
	l.v.SetDefault("scheduler.batch_size", 10)
	l.v.SetDefault("scheduler.stuck_reset", "10m")
	l.v.SetDefault("scheduler.lease_ttl", "60s")

	l.v.SetDefault("retry.interval", "60s")
	l.v.SetDefault("retry.batch_size", 50)
	l.v.SetDefault("retry.max_processing_time", "120s")

	l.v.SetDefault("dlq.cron", "* * * * *")
	l.v.SetDefault("dlq.batch_size", 50)
	l.v.SetDefault("dlq.max_retries", 5)

	l.v.SetDefault("sources.reconcile_interval", "2m")
	l.v.SetDefault("sources.default_config_file", "")
	l.v.SetDefault("sources.cursor_path", "switchyard-cursors.db")

	l.v.SetDefault("circuit.failure_threshold", 5)
	l.v.SetDefault("circuit.cooldown", "60s")
	l.v.SetDefault("circuit.cache_ttl", "30s")

	l.v.SetDefault("delivery.default_timeout", "10s")
	l.v.SetDefault("delivery.allow_private_targets", false)
	l.v.SetDefault("delivery.max_response_bytes", 65536)
	l.v.SetDefault("delivery.script_budget", "60s")

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (with prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("$HOME/.switchyard")
		l.v.AddConfigPath("/etc/switchyard")
	}

	if err := l.v.ReadInConfig(); err != nil {
		// Only fail on non-NotFound errors for explicit file paths
		if cfgFile != "" && !isFileNotFoundError(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// For auto-discovery, only fail on non-NotFound errors
		if cfgFile == "" {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Merge .env file if present
	l.v.SetConfigFile(".env")
	l.v.SetConfigType("env")
	_ = l.v.MergeInConfig() // Ignore if .env doesn't exist

	// Setup environment variable binding
	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig is a convenience function that loads configuration with standard defaults.
// The envPrefix is used for environment variables (e.g., "SWITCHYARD" -> "SWITCHYARD_SERVER_PORT").
func LoadConfig(envPrefix, cfgFile string) (*Config, error) {
	loader := NewLoader(envPrefix)
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Store.URL == "" {
		return fmt.Errorf("store url is required")
	}
	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be positive, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.MaxPayloadBytes < 1 {
		return fmt.Errorf("max payload bytes must be positive, got %d", cfg.Pipeline.MaxPayloadBytes)
	}
	if cfg.Dedup.Window <= 0 {
		return fmt.Errorf("dedup window must be positive, got %s", cfg.Dedup.Window)
	}
	if cfg.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler batch size must be positive, got %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("circuit failure threshold must be positive, got %d", cfg.Circuit.FailureThreshold)
	}
	return nil
}

// BuildURL constructs the full store URL with authentication.
func (c *StoreConfig) BuildURL() string {
	if c.Username != "" && c.Password != "" {
		return strings.Replace(c.URL, "://", "://"+c.Username+":"+c.Password+"@", 1)
	}
	return c.URL
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
