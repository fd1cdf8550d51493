package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/dispatcher"
	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/reminder"
	"github.com/garyjia/debt-clearance/internal/application/service"
	"github.com/garyjia/debt-clearance/internal/application/workflow"
	"github.com/garyjia/debt-clearance/internal/infrastructure/external/excel"
	"github.com/garyjia/debt-clearance/internal/infrastructure/tracing"
	"github.com/garyjia/debt-clearance/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Observability
	tracer *tracing.Provider

	// Infrastructure - Data
	sqlDB        *sql.DB
	txManager    port.TransactionManager
	repositories *RepositoryBundle
	sessions     *SessionBundle

	// Infrastructure - External
	transport port.Transport
	parser    port.DatasetParser

	// Infrastructure - Storage
	storage *StorageBundle

	// Application
	dispatcher dispatcher.Dispatcher
	scheduler  *reminder.Scheduler
	workflow   workflow.Engine
	services   *ServiceBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests  port.RequestRepository
	Approvals port.ApprovalRepository
	Pools     port.PoolRepository
	Sessions  port.SessionStore
	Archive   port.ArchiveRepository
	Messages  port.NotificationMessageRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Query        service.QueryService
	Publishing   service.PublishingService
	Notification service.NotificationService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Tracing
// 2. Database, repositories and session store
// 3. Storage and external clients
// 4. Dispatcher, application services and workflow engine
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Tracing, so every later component picks up the global provider
	tp, err := tracing.Setup(c.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.tracer = tp

	// Step 2: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.Bool("in_memory", c.sqlDB == nil))

	// Step 3: Initialize storage and external clients
	if err := c.initExternal(); err != nil {
		return fmt.Errorf("failed to initialize storage and external clients: %w", err)
	}
	c.logger.Info("Storage and external clients initialized")

	// Step 4: Initialize dispatcher, services and workflow engine
	if err := c.initApplication(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	c.logger.Info("Application services and workflow engine initialized")

	// Step 5: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 5)
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Close dispatcher (reverse of step 4); waits for in-flight notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Session store and database (reverse of step 2)
	if c.sessions != nil && c.sessions.Redis != nil {
		if err := c.sessions.Redis.Close(); err != nil {
			c.logger.Error("Failed to close session store", zap.Error(err))
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	// Step 4: Flush spans (reverse of step 1)
	if c.tracer != nil {
		if err := c.tracer.Shutdown(context.Background()); err != nil {
			c.logger.Error("Failed to shut down tracing", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	// Check database
	switch {
	case c.repositories == nil:
		set("database", false, "not initialized")
	case c.sqlDB == nil:
		set("database", true, "in-memory")
	default:
		if err := c.sqlDB.PingContext(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	// Check sessions
	if c.sessions != nil && c.sessions.Redis != nil {
		if err := c.sessions.Redis.Ping(ctx); err != nil {
			set("sessions", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("sessions", true, "redis")
		}
	}

	// Check workers
	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	// Check dispatcher
	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	return status
}

// HealthSummary flattens Health into component -> "ok" or the failure message.
func (c *Container) HealthSummary(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for name, h := range c.Health(ctx).Components {
		if h.Healthy {
			out[name] = "ok"
		} else {
			out[name] = h.Message
		}
	}
	return out
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = dbBundle.SqlDB
	c.txManager = dbBundle.TransactionMgr
	c.repositories = dbBundle.Repositories

	sessions, err := ProvideSessionStore(&c.config.Session, c.repositories, c.logger)
	if err != nil {
		return err
	}
	c.sessions = sessions
	return nil
}

func (c *Container) initExternal() error {
	storageBundle, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.storage = storageBundle

	c.transport = ProvideTransport(&c.config.Lark, c.logger)
	c.parser = excel.NewParser(c.config.Publishing.MaxUploadRows, c.logger)
	return nil
}

func (c *Container) initApplication() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	c.scheduler = reminder.NewScheduler(c.repositories.Requests,
		reminder.WithThreshold(c.config.Reminder.FreshThreshold))

	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		Storage:    c.storage,
		Transport:  c.transport,
		Dispatcher: c.dispatcher,
		Scheduler:  c.scheduler,
		Publishing: &c.config.Publishing,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Sessions:   c.sessions.Store,
		Archiver:   excel.NewArchiver(c.repositories.Archive, c.storage.Archive, c.logger),
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine

	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:      c.repositories,
		Scheduler:  c.scheduler,
		Dispatcher: c.dispatcher,
		Workflow:   &c.config.Workflow,
		Reminder:   &c.config.Reminder,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// TxManager returns the transaction manager.
func (c *Container) TxManager() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Sessions returns the selected actor session store.
func (c *Container) Sessions() port.SessionStore {
	if c.sessions == nil {
		return nil
	}
	return c.sessions.Store
}

// Transport returns the chat transport.
func (c *Container) Transport() port.Transport {
	return c.transport
}

// DatasetParser returns the spreadsheet upload parser.
func (c *Container) DatasetParser() port.DatasetParser {
	return c.parser
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces
// of the application layer.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
