// Package container provides dependency injection and lifecycle management
// for the debt-clearance router following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/debt-clearance/internal/application/service"
	"github.com/garyjia/debt-clearance/internal/infrastructure/external/lark"
	"github.com/garyjia/debt-clearance/internal/infrastructure/session"
	"github.com/garyjia/debt-clearance/internal/infrastructure/tracing"
)

// MemoryDatabase is the database path that selects the in-process store
const MemoryDatabase = ":memory:"

// Session backends
const (
	SessionBackendDatabase = "database"
	SessionBackendRedis    = "redis"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Lark chat transport; disabled credentials fall back to a logging transport
	Lark lark.Config

	// Workflow locking
	Workflow WorkflowConfig

	// Reminder scheduling
	Reminder ReminderConfig

	// Dataset publishing and notification rendering
	Publishing PublishingConfig

	// Storage configuration
	Storage StorageConfig

	// Actor session backend
	Session SessionConfig

	// Tracing configuration
	Tracing tracing.Config
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or ":memory:" for the in-process store
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits for the SQLite write lock
	BusyTimeout time.Duration
}

// InMemory reports whether the in-process store is selected
func (d DatabaseConfig) InMemory() bool {
	return d.Path == MemoryDatabase
}

// WorkflowConfig holds request lock settings.
type WorkflowConfig struct {
	// LockTTL is the age after which a request lock counts as abandoned
	LockTTL time.Duration

	// LockSweepInterval is how often abandoned locks are released
	LockSweepInterval time.Duration
}

// ReminderConfig holds reminder settings.
type ReminderConfig struct {
	Enabled        bool
	FreshThreshold time.Duration
	Interval       time.Duration
	Repeat         time.Duration
}

// PublishingConfig holds publishing settings.
type PublishingConfig struct {
	Retry service.PublishingConfig

	// InlineRows is the largest dataset rendered inside a message
	InlineRows int

	// BaseURL prefixes published workbook names
	BaseURL string

	// MaxUploadRows caps rows read from an uploaded workbook
	MaxUploadRows int
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// PublishDir receives published dataset workbooks
	PublishDir string

	// ArchiveDir receives the archive workbooks, one per request UID
	ArchiveDir string
}

// SessionConfig selects the actor session store.
type SessionConfig struct {
	Backend string
	Redis   session.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/clearance.db",
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			BusyTimeout:  5 * time.Second,
		},
		Lark: lark.Config{
			ReceiveIDType: "open_id",
		},
		Workflow: WorkflowConfig{
			LockTTL:           2 * time.Minute,
			LockSweepInterval: 30 * time.Second,
		},
		Reminder: ReminderConfig{
			Enabled:        true,
			FreshThreshold: 5 * time.Minute,
			Interval:       time.Minute,
			Repeat:         30 * time.Minute,
		},
		Publishing: PublishingConfig{
			Retry: service.PublishingConfig{
				MaxAttempts:     3,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			InlineRows:    10,
			BaseURL:       "http://localhost:8080/published",
			MaxUploadRows: 500,
		},
		Storage: StorageConfig{
			PublishDir: "data/published",
			ArchiveDir: "data/archive",
		},
		Session: SessionConfig{
			Backend: SessionBackendDatabase,
			Redis: session.Config{
				Addr: "localhost:6379",
				TTL:  24 * time.Hour,
			},
		},
		Tracing: tracing.Config{
			ServiceName:    "debt-clearance",
			ServiceVersion: "1.0.0",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Storage.PublishDir == "" {
		return fmt.Errorf("storage.publish_dir is required")
	}
	if c.Storage.ArchiveDir == "" {
		return fmt.Errorf("storage.archive_dir is required")
	}

	if c.Workflow.LockTTL <= 0 || c.Workflow.LockSweepInterval <= 0 {
		return fmt.Errorf("workflow lock ttl and sweep interval must be positive")
	}

	switch c.Session.Backend {
	case SessionBackendDatabase, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	return nil
}
