package container

import (
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/dispatcher"
	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/reminder"
	"github.com/garyjia/debt-clearance/internal/application/service"
	"github.com/garyjia/debt-clearance/internal/application/workflow"
	"github.com/garyjia/debt-clearance/internal/infrastructure/external/excel"
	infraLark "github.com/garyjia/debt-clearance/internal/infrastructure/external/lark"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/memory"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/repository"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/debt-clearance/internal/infrastructure/session"
	"github.com/garyjia/debt-clearance/internal/infrastructure/storage"
	"github.com/garyjia/debt-clearance/internal/infrastructure/worker"
	"github.com/garyjia/debt-clearance/pkg/database"
)

// DatabaseBundle holds database-related components.
// SqlDB is nil when the in-process store is selected.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr port.TransactionManager
	Repositories   *RepositoryBundle
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	Published port.FileStorage
	Archive   port.FileStorage
}

// SessionBundle holds the selected session store. Redis is set only for the redis backend.
type SessionBundle struct {
	Store port.SessionStore
	Redis *session.RedisStore
}

// ProvideDatabase opens the configured store and its repositories.
// SQLite databases are migrated before use.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.InMemory() {
		store := memory.NewStore()
		logger.Warn("Using in-memory store; data is lost on exit")
		return &DatabaseBundle{
			TransactionMgr: store,
			Repositories: &RepositoryBundle{
				Requests:  store.Requests(),
				Approvals: store.Approvals(),
				Pools:     store.Pools(),
				Sessions:  store.Sessions(),
				Archive:   store.Archive(),
				Messages:  store.Messages(),
			},
		}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(sqlite.Migrations, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repos, err := ProvideRepositories(db.DB, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
		Repositories:   repos,
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Requests:  repository.NewRequestRepository(sqlDB, logger),
		Approvals: repository.NewApprovalRepository(sqlDB, logger),
		Pools:     repository.NewPoolRepository(sqlDB, logger),
		Sessions:  repository.NewSessionRepository(sqlDB, logger),
		Archive:   repository.NewArchiveRepository(sqlDB, logger),
		Messages:  repository.NewNotificationMessageRepository(sqlDB, logger),
	}, nil
}

// ProvideTransport returns the Lark messenger when credentials are configured,
// otherwise a transport that only logs outgoing messages.
func ProvideTransport(cfg *infraLark.Config, logger *zap.Logger) port.Transport {
	if cfg == nil || !cfg.Enabled() {
		logger.Warn("Lark credentials not configured; notifications are logged only")
		return infraLark.NewLogTransport(logger)
	}
	return infraLark.NewMessenger(infraLark.NewSDKClient(*cfg, logger), logger)
}

// ProvideStorage creates the published and archive file stores.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	for _, dir := range []string{cfg.PublishDir, cfg.ArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	return &StorageBundle{
		Published: storage.NewLocalFileStorage(cfg.PublishDir, logger),
		Archive:   storage.NewLocalFileStorage(cfg.ArchiveDir, logger),
	}, nil
}

// ProvideSessionStore selects the actor session backend.
func ProvideSessionStore(cfg *SessionConfig, repos *RepositoryBundle, logger *zap.Logger) (*SessionBundle, error) {
	if cfg == nil || repos == nil {
		return nil, fmt.Errorf("session config and repositories are required")
	}

	switch cfg.Backend {
	case SessionBackendRedis:
		store := session.NewRedisStore(cfg.Redis, logger)
		return &SessionBundle{Store: store, Redis: store}, nil
	case SessionBackendDatabase, "":
		return &SessionBundle{Store: repos.Sessions}, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger})), nil
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Sessions   port.SessionStore
	Archiver   port.Archiver
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil || deps.Repos == nil || deps.TxManager == nil {
		return nil, fmt.Errorf("repositories and transaction manager are required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger}),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	if deps.Sessions != nil {
		opts = append(opts, workflow.WithSessionStore(deps.Sessions))
	}
	if deps.Archiver != nil {
		opts = append(opts, workflow.WithArchiver(deps.Archiver))
	}

	return workflow.NewEngine(
		deps.Repos.Requests,
		deps.Repos.Approvals,
		deps.Repos.Pools,
		deps.TxManager,
		opts...,
	), nil
}

// ServiceDeps holds dependencies for application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	Storage    *StorageBundle
	Transport  port.Transport
	Dispatcher dispatcher.Dispatcher
	Scheduler  *reminder.Scheduler
	Publishing *PublishingConfig
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes notifications.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.Storage == nil || deps.Publishing == nil {
		return nil, fmt.Errorf("repositories, storage and publishing config are required")
	}

	log := &zapLoggerAdapter{logger: deps.Logger}
	publisher := excel.NewPublisher(deps.Storage.Published, deps.Publishing.BaseURL, deps.Logger)
	publishing := service.NewPublishingService(deps.Repos.Requests, publisher, deps.Publishing.Retry, log)

	notification := service.NewNotificationService(
		deps.Repos.Requests,
		deps.Repos.Approvals,
		deps.Repos.Pools,
		deps.Transport,
		publishing,
		deps.Repos.Messages,
		deps.Publishing.InlineRows,
		log,
	)
	if deps.Dispatcher != nil {
		notification.Subscribe(deps.Dispatcher)
	}

	return &ServiceBundle{
		Query:        service.NewQueryService(deps.Repos.Requests, deps.Repos.Approvals, deps.Scheduler),
		Publishing:   publishing,
		Notification: notification,
	}, nil
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Repos      *RepositoryBundle
	Scheduler  *reminder.Scheduler
	Dispatcher dispatcher.Dispatcher
	Workflow   *WorkflowConfig
	Reminder   *ReminderConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates the lock sweeper and, when enabled, the reminder worker.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Repos == nil || deps.Workflow == nil || deps.Reminder == nil {
		return nil, fmt.Errorf("worker dependencies are incomplete")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewLockSweeper(worker.LockSweeperConfig{
		Interval: deps.Workflow.LockSweepInterval,
		LockTTL:  deps.Workflow.LockTTL,
	}, deps.Repos.Requests, deps.Logger))

	if deps.Reminder.Enabled && deps.Dispatcher != nil {
		manager.Register(worker.NewReminderWorker(worker.ReminderWorkerConfig{
			Interval: deps.Reminder.Interval,
			Repeat:   deps.Reminder.Repeat,
		}, deps.Repos.Requests, deps.Scheduler, deps.Dispatcher, deps.Logger))
	}

	return manager, nil
}
