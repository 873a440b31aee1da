package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storefront-services/internal/config"
	"storefront-services/internal/connectivity"
	"storefront-services/internal/dlq"
	"storefront-services/internal/httpcall"
	"storefront-services/internal/kafka"
	"storefront-services/internal/pricing"
	"storefront-services/internal/resilience"
	"storefront-services/internal/storage"
	"storefront-services/internal/store"

	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize durable storage
	redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis store", zap.Error(err))
	}
	defer redisStore.Close()

	// Initialize MS SQL store
	sqlStore, err := store.NewMSSQLStore(cfg.MSSQLConn, logger)
	if err != nil {
		logger.Fatal("Failed to initialize SQL store", zap.Error(err))
	}
	defer sqlStore.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.TelemetryTopic, logger)
	defer producer.Close()

	deadLetters := dlq.NewRedisDLQFromClient(redisStore.Client(), logger)
	monitor := connectivity.NewMonitor(connectivity.State{IsConnected: true, IsInternetReachable: true}, logger)

	queue := resilience.New(
		resilience.Config{
			MaxRetries:        cfg.MaxRetries,
			BaseDelay:         cfg.RetryBaseDelay,
			MaxDelay:          cfg.RetryMaxDelay,
			MaxJitter:         cfg.RetryMaxJitter,
			QueueOnExhaustion: true,
		},
		redisStore,
		resilience.Executors{
			Remote:    httpcall.NewCaller(cfg.RemoteBaseURL, cfg.RemoteTimeout, logger),
			Documents: sqlStore,
			Telemetry: producer,
		},
		monitor,
		logger,
		resilience.WithDeadLetter(deadLetters),
	)
	if err := queue.Load(ctx); err != nil {
		logger.Fatal("Failed to load offline queue", zap.Error(err))
	}
	stopWatching := queue.Watch(ctx, monitor)
	defer stopWatching()

	if cfg.ConnectivityProbeURL != "" {
		prober := connectivity.NewProber(cfg.ConnectivityProbeURL, 3*time.Second, monitor, logger)
		go prober.Run(ctx, cfg.ConnectivityProbeInterval)
	}
	if cfg.CacheSweepInterval > 0 {
		go queue.RunCacheSweeper(ctx, cfg.CacheSweepInterval)
	}

	engine := pricing.NewEngine(
		sqlStore,
		pricing.ScheduleFactors{Demand: pricing.StoreDemand{Store: redisStore}},
		logger,
		pricing.WithStore(redisStore),
		pricing.WithUpdateInterval(cfg.PromotionsTTL),
	)

	a := &api{
		queue:       queue,
		engine:      engine,
		monitor:     monitor,
		deadLetters: deadLetters,
		logger:      logger,
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      a.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("Starting storefront API", zap.String("port", cfg.ServicePort))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	logger.Info("Storefront API stopped", zap.Int("offlineQueueDepth", queue.Depth()))
}
