package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// MemoryDatabase selects the in-process store instead of SQLite
const MemoryDatabase = ":memory:"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Reminder   ReminderConfig   `mapstructure:"reminder"`
	Publishing PublishingConfig `mapstructure:"publishing"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Session    SessionConfig    `mapstructure:"session"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database configuration. Path ":memory:" runs without SQLite.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// InMemory reports whether the in-process store is selected
func (d DatabaseConfig) InMemory() bool {
	return d.Path == MemoryDatabase
}

// LarkConfig holds Lark API configuration. Without credentials notifications are only logged.
type LarkConfig struct {
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// WorkflowConfig holds locking settings
type WorkflowConfig struct {
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockSweepInterval time.Duration `mapstructure:"lock_sweep_interval"`
}

// ReminderConfig holds reminder scheduling settings
type ReminderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	FreshThreshold time.Duration `mapstructure:"fresh_threshold"`
	Interval       time.Duration `mapstructure:"interval"`
	Repeat         time.Duration `mapstructure:"repeat"`
}

// PublishingConfig holds dataset publishing settings
type PublishingConfig struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	InlineRows      int           `mapstructure:"inline_rows"`
	BaseURL         string        `mapstructure:"base_url"`
	MaxUploadRows   int           `mapstructure:"max_upload_rows"`
}

// StorageConfig holds file locations
type StorageConfig struct {
	PublishDir string `mapstructure:"publish_dir"`
	ArchiveDir string `mapstructure:"archive_dir"`
}

// SessionConfig selects where actor sessions live
type SessionConfig struct {
	Backend  string        `mapstructure:"backend"` // database or redis
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	OutputPath     string `mapstructure:"output_path"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

const (
	SessionBackendDatabase = "database"
	SessionBackendRedis    = "redis"
)

// Load loads configuration from file and environment variables.
// A .env file next to the working directory is applied to the environment first;
// a missing config file is not an error, defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 8<<20)

	// Database defaults
	v.SetDefault("database.path", "data/clearance.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Lark defaults
	v.SetDefault("lark.receive_id_type", "open_id")

	// Workflow defaults
	v.SetDefault("workflow.lock_ttl", 2*time.Minute)
	v.SetDefault("workflow.lock_sweep_interval", 30*time.Second)

	// Reminder defaults
	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.fresh_threshold", 5*time.Minute)
	v.SetDefault("reminder.interval", time.Minute)
	v.SetDefault("reminder.repeat", 30*time.Minute)

	// Publishing defaults
	v.SetDefault("publishing.max_attempts", 3)
	v.SetDefault("publishing.initial_interval", 200*time.Millisecond)
	v.SetDefault("publishing.max_interval", 5*time.Second)
	v.SetDefault("publishing.inline_rows", 10)
	v.SetDefault("publishing.base_url", "http://localhost:8080/published")
	v.SetDefault("publishing.max_upload_rows", 500)

	// Storage defaults
	v.SetDefault("storage.publish_dir", "data/published")
	v.SetDefault("storage.archive_dir", "data/archive")

	// Session defaults
	v.SetDefault("session.backend", SessionBackendDatabase)
	v.SetDefault("session.addr", "localhost:6379")
	v.SetDefault("session.ttl", 24*time.Hour)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "debt-clearance")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.output_path", "stdout")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("session.addr", "REDIS_ADDR")
	_ = v.BindEnv("session.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Lark credentials come as a pair
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	if c.Workflow.LockTTL <= 0 {
		return fmt.Errorf("workflow.lock_ttl must be positive")
	}
	if c.Workflow.LockSweepInterval <= 0 {
		return fmt.Errorf("workflow.lock_sweep_interval must be positive")
	}

	if c.Reminder.FreshThreshold < 0 {
		return fmt.Errorf("reminder.fresh_threshold must not be negative")
	}
	if c.Reminder.Enabled && c.Reminder.Interval <= 0 {
		return fmt.Errorf("reminder.interval must be positive")
	}

	if c.Publishing.MaxAttempts == 0 {
		return fmt.Errorf("publishing.max_attempts must be at least 1")
	}
	if c.Publishing.InlineRows < 0 {
		return fmt.Errorf("publishing.inline_rows must not be negative")
	}

	if c.Storage.PublishDir == "" || c.Storage.ArchiveDir == "" {
		return fmt.Errorf("storage.publish_dir and storage.archive_dir are required")
	}

	switch c.Session.Backend {
	case SessionBackendDatabase:
	case SessionBackendRedis:
		if c.Session.Addr == "" {
			return fmt.Errorf("session.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}

	return nil
}
