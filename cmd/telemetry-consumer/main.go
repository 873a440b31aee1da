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
	"storefront-services/internal/dlq"
	"storefront-services/internal/kafka"
	"storefront-services/internal/metrics"
	"storefront-services/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkaGo "github.com/segmentio/kafka-go"
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

	// Initialize Kafka consumer
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.TelemetryTopic, cfg.KafkaGroupID, logger)
	defer consumer.Close()

	// Initialize MS SQL store
	sqlStore, err := store.NewMSSQLStore(cfg.MSSQLConn, logger)
	if err != nil {
		logger.Fatal("Failed to initialize SQL store", zap.Error(err))
	}
	defer sqlStore.Close()

	// Initialize Redis DLQ
	deadLetters, err := dlq.NewRedisDLQ(cfg.RedisAddr, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis DLQ", zap.Error(err))
	}
	defer deadLetters.Close()

	// Start metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		server := &http.Server{
			Addr:    ":" + cfg.ConsumerPort,
			Handler: mux,
		}

		logger.Info("Starting metrics server", zap.String("port", cfg.ConsumerPort))
		if err := server.ListenAndServe(); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Start consuming messages
	logger.Info("Starting telemetry consumer",
		zap.String("topic", cfg.TelemetryTopic),
		zap.String("groupID", cfg.KafkaGroupID),
	)

	for {
		message, err := consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("Telemetry consumer stopped")
				return
			}
			logger.Error("Failed to read message", zap.Error(err))
			continue
		}

		if err := processMessage(ctx, message, consumer, sqlStore, deadLetters, logger); err != nil {
			logger.Error("Failed to process message", zap.Error(err))
		}
	}
}

func processMessage(ctx context.Context, message *kafkaGo.Message, consumer *kafka.Consumer, sqlStore *store.MSSQLStore, deadLetters *dlq.RedisDLQ, logger *zap.Logger) error {
	event, err := consumer.ParseTelemetryEvent(message)
	if err != nil {
		// Push to DLQ and commit offset
		if dlqErr := deadLetters.PushMessage(ctx, message.Topic, message.Partition, message.Offset, string(message.Value), err.Error()); dlqErr != nil {
			logger.Error("Failed to push to DLQ", zap.Error(dlqErr))
		}

		consumer.LogMessage("error", "Failed to parse event", message, nil, zap.Error(err))

		if commitErr := consumer.CommitMessage(ctx, message); commitErr != nil {
			logger.Error("Failed to commit offset after parse error", zap.Error(commitErr))
		}
		return err
	}

	start := time.Now()
	err = sqlStore.InsertTelemetryEvent(ctx, event)
	duration := time.Since(start)

	if err != nil {
		if dlqErr := deadLetters.PushMessage(ctx, message.Topic, message.Partition, message.Offset, event, err.Error()); dlqErr != nil {
			logger.Error("Failed to push to DLQ", zap.Error(dlqErr))
		}

		consumer.LogMessage("error", "Failed to persist event", message, event,
			zap.Error(err),
			zap.Duration("latency_ms", duration),
		)

		if commitErr := consumer.CommitMessage(ctx, message); commitErr != nil {
			logger.Error("Failed to commit offset after processing error", zap.Error(commitErr))
		}
		return err
	}

	metrics.TelemetryProcessedTotal.WithLabelValues(event.Type).Inc()

	consumer.LogMessage("info", "Event processed successfully", message, event,
		zap.Duration("latency_ms", duration),
	)

	if err := consumer.CommitMessage(ctx, message); err != nil {
		logger.Error("Failed to commit offset", zap.Error(err))
		return err
	}

	return nil
}
