package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/api"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/config"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/events/kafka"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/ledger"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository/memory"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository/postgres"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/service"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/crypto"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/metrics"
)

const (
	appName = "ledgerd"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("store", cfg.Store.Driver))

	store, db, err := setupStore(cfg.Store, logger)
	if err != nil {
		logger.Error("Store setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metricsCollector := metrics.NewMetricsCollector(logger)
	publisher, closePublisher := setupPublisher(cfg.Kafka, logger)
	if cfg.Signing.Secret == "" {
		logger.Warn("signing.secret is empty, published notices are signed with an empty key")
	}
	signer := crypto.NewSigner(cfg.Signing.Secret, logger)
	notificationService := service.NewNotificationService(publisher, signer, service.NotificationOptions{
		Topic:     cfg.Kafka.Topic,
		Workers:   cfg.Notifier.Workers,
		QueueSize: cfg.Notifier.QueueSize,
		Logger:    logger,
	})

	l := ledger.New(store, ledger.Options{
		CallTimeout: cfg.Store.CallTimeout,
		Logger:      logger,
		Metrics:     metricsCollector,
		Notifier:    notificationService,
	})

	apiHandler := api.NewAPIHandler(l, metricsCollector, cfg.Server.RequestTimeout, logger)
	metricsCollector.StartMetricsServer(cfg.Metrics.Addr)
	httpServer := startHTTPServer(cfg.Server, apiHandler, logger)
	waitForShutdown(logger, httpServer, metricsCollector, notificationService)

	if err := closePublisher(); err != nil {
		logger.Error("Publisher close failed", slog.String("error", err.Error()))
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("Database close failed", slog.String("error", err.Error()))
		}
	}
	logger.Info("Application shutdown complete")
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func setupStore(cfg config.StoreConfig, logger *slog.Logger) (repository.Store, *sql.DB, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore().Repositories(), nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DSN, postgres.Options{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingRetries:     5,
		Logger:          logger,
	})
	if err != nil {
		return repository.Store{}, nil, err
	}

	if cfg.Migrate {
		if err := postgres.Migrate(db, logger); err != nil {
			db.Close()
			return repository.Store{}, nil, err
		}
	}
	return postgres.NewStore(db), db, nil
}

func setupPublisher(cfg config.KafkaConfig, logger *slog.Logger) (service.Publisher, func() error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("No kafka brokers configured, notices go to the log")
		return service.NewLogPublisher(logger), func() error { return nil }
	}

	publisher := kafka.NewPublisher(cfg.Brokers)
	logger.Info("Publishing notices to kafka",
		slog.Int("brokers", len(cfg.Brokers)),
		slog.String("topic", cfg.Topic))
	return publisher, publisher.Close
}

func startHTTPServer(cfg config.ServerConfig, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsCollector *metrics.MetricsCollector,
	notificationService *service.NotificationService,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsCollector.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := notificationService.Shutdown(ctx); err != nil {
		logger.Error("Notification service shutdown failed", slog.String("error", err.Error()))
	}
}
