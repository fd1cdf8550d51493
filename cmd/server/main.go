package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/config"
	"github.com/garyjia/debt-clearance/internal/container"
	httpserver "github.com/garyjia/debt-clearance/internal/interfaces/http"
	"github.com/garyjia/debt-clearance/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting debt-clearance router",
		zap.String("version", cfg.Tracing.ServiceVersion),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("in_memory", cfg.Database.InMemory()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown reported errors", zap.Error(err))
		}
	}()

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		PublishDir:     cfg.Storage.PublishDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, httpserver.Dependencies{
		Engine:   c.WorkflowEngine(),
		Queries:  c.Services().Query,
		Sessions: c.Sessions(),
		Pools:    c.Repositories().Pools,
		Parser:   c.DatasetParser(),
		Health:   c.HealthSummary,
	}, sugarLogger{logger.Sugar()})

	// Blocks until SIGINT/SIGTERM, then shuts the listener down
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}

// sugarLogger adapts zap.SugaredLogger to the key-value httpserver.Logger interface
type sugarLogger struct{ s *zap.SugaredLogger }

func (l sugarLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l sugarLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}
