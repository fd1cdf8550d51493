package config

import (
	"github.com/garyjia/debt-clearance/internal/application/service"
	"github.com/garyjia/debt-clearance/internal/container"
	"github.com/garyjia/debt-clearance/internal/infrastructure/external/lark"
	"github.com/garyjia/debt-clearance/internal/infrastructure/session"
	"github.com/garyjia/debt-clearance/internal/infrastructure/tracing"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	backend := container.SessionBackendDatabase
	if c.Session.Backend == SessionBackendRedis {
		backend = container.SessionBackendRedis
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Lark: lark.Config{
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
		},
		Workflow: container.WorkflowConfig{
			LockTTL:           c.Workflow.LockTTL,
			LockSweepInterval: c.Workflow.LockSweepInterval,
		},
		Reminder: container.ReminderConfig{
			Enabled:        c.Reminder.Enabled,
			FreshThreshold: c.Reminder.FreshThreshold,
			Interval:       c.Reminder.Interval,
			Repeat:         c.Reminder.Repeat,
		},
		Publishing: container.PublishingConfig{
			Retry: service.PublishingConfig{
				MaxAttempts:     c.Publishing.MaxAttempts,
				InitialInterval: c.Publishing.InitialInterval,
				MaxInterval:     c.Publishing.MaxInterval,
			},
			InlineRows:    c.Publishing.InlineRows,
			BaseURL:       c.Publishing.BaseURL,
			MaxUploadRows: c.Publishing.MaxUploadRows,
		},
		Storage: container.StorageConfig{
			PublishDir: c.Storage.PublishDir,
			ArchiveDir: c.Storage.ArchiveDir,
		},
		Session: container.SessionConfig{
			Backend: backend,
			Redis: session.Config{
				Addr:     c.Session.Addr,
				Password: c.Session.Password,
				DB:       c.Session.DB,
				TTL:      c.Session.TTL,
			},
		},
		Tracing: tracing.Config{
			Enabled:        c.Tracing.Enabled,
			ServiceName:    c.Tracing.ServiceName,
			ServiceVersion: c.Tracing.ServiceVersion,
			OutputPath:     c.Tracing.OutputPath,
		},
	}
}
