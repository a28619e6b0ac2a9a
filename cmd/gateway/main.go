package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/retina-screening-gateway/internal/api"
	"github.com/retina-screening-gateway/internal/archive"
	"github.com/retina-screening-gateway/internal/config"
	"github.com/retina-screening-gateway/internal/history"
	"github.com/retina-screening-gateway/internal/remote"
	"github.com/retina-screening-gateway/internal/report"
	"github.com/retina-screening-gateway/internal/rules"
	"github.com/retina-screening-gateway/internal/workflow"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting retina screening gateway")

	cache, err := newCacheStore(cfg.Cache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open history mirror")
	}
	if cache != nil {
		defer cache.Close()
	}

	client := remote.NewClient(remote.Config{
		BaseURL:            cfg.Classifier.BaseURL,
		Timeout:            cfg.Classifier.Timeout,
		RateLimit:          cfg.Classifier.RateLimit,
		BreakerMaxRequests: cfg.Classifier.BreakerMaxRequests,
		BreakerInterval:    cfg.Classifier.BreakerInterval,
		BreakerTimeout:     cfg.Classifier.BreakerTimeout,
	}, logger)

	previews, err := workflow.NewFilePreviewDeriver(cfg.Preview.Dir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to prepare preview directory")
	}

	wf := workflow.New(logger, client, previews)
	defer wf.Close()

	hist := history.New(logger, client, cache)
	if err := hist.LoadCached(context.Background()); err != nil {
		logger.WithError(err).Warn("Could not seed history from local mirror")
	}

	assembler := report.NewAssembler(rules.NewEngine(logger))

	server, err := api.NewServer(cfg, logger, wf, hist, assembler, client)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build HTTP gateway")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Gateway failed")
	}
	logger.Info("Gateway stopped")
}

// newLogger builds the process logger from configuration.
func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// newCacheStore opens the configured local history mirror, or nil when
// mirroring is disabled.
func newCacheStore(cfg config.CacheConfig) (archive.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return archive.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return archive.NewPostgresStoreFromURL(cfg.PostgresURL)
	default:
		return nil, nil
	}
}
