// Package main provides the pickup notification worker entry point.
// It consumes ready-for-pickup events and delivers each notice once.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/bootstrap"
	"github.com/drfirst/go-rxworkflow/internal/config"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxworkflow/internal/notification"
	"github.com/drfirst/go-rxworkflow/internal/observability/metrics"
	"github.com/drfirst/go-rxworkflow/pkg/idempotency"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.UseMemoryStore() {
		logger.Fatal("DATABASE_URL is required for the idempotency inbox")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := bootstrap.InitTracing(ctx, cfg, "notification-worker")
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := bootstrap.OpenPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	breakers := bootstrap.Breakers(m, logger)

	sender, err := bootstrap.NewNotificationSender(cfg, breakers, logger)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}

	inbox := idempotency.NewInbox(idempotency.NewPostgresStore(pool), idempotency.DefaultConfig(), logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered abandoned inbox entries", zap.Int64("entries", n))
	}
	inbox.StartCleanup(ctx)
	defer inbox.Stop()

	handler := notification.NewHandler(inbox, sender, m, logger)

	if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
		logger.Fatal("broker unreachable", zap.Error(err))
	}
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, handler.HandleMessage, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("notification worker started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", consumerCfg.GroupID))

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats, err := inbox.Stats(r.Context())
		if err != nil {
			http.Error(w, "inbox unavailable", http.StatusServiceUnavailable)
			return
		}
		body := map[string]interface{}{
			"status":   "healthy",
			"consumer": consumer.Stats(),
			"inbox":    stats,
			"breakers": breakers.GetHealthStatus(),
		}
		if lag, err := admin.ConsumerGroupLag(r.Context(), consumerCfg.GroupID); err == nil {
			body["lag"] = lag
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop", zap.Error(err))
	}
	logger.Info("notification worker stopped")
}
