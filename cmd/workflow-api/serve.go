package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/api/handlers"
	"github.com/drfirst/go-rxworkflow/internal/api/middleware"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/bootstrap"
	"github.com/drfirst/go-rxworkflow/internal/config"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxworkflow/internal/notification"
	"github.com/drfirst/go-rxworkflow/internal/observability/metrics"
	"github.com/drfirst/go-rxworkflow/internal/store"
	"github.com/drfirst/go-rxworkflow/internal/store/memory"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
	"github.com/drfirst/go-rxworkflow/pkg/idempotency"
	"github.com/drfirst/go-rxworkflow/pkg/workerpool"
)

const serviceName = "workflow-api"

// systemActor runs housekeeping that no staff member triggers
var systemActor = auth.NewActor("system", auth.RoleFlags{Role: auth.RoleManager})

func runServer(cfg *config.Config) error {
	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := bootstrap.InitTracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	breakers := bootstrap.Breakers(m, logger)

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		logger.Warn("API_KEYS is empty; every API request will be rejected")
	}

	var (
		st       store.Store
		memStore *memory.Store
	)
	if cfg.UseMemoryStore() {
		memStore = memory.New()
		st = memStore
		logger.Warn("DATABASE_URL not set, using the in-memory store")
	} else {
		pool, err := bootstrap.OpenPool(ctx, cfg)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		st = postgres.NewStore(pool, logger)
		logger.Info("connected to database", zap.String("schema", cfg.DBSchema))
	}

	adjudicator, err := bootstrap.NewAdjudicator(cfg, breakers, logger)
	if err != nil {
		return err
	}
	pdmp, err := bootstrap.NewPDMPMonitor(cfg, breakers, logger)
	if err != nil {
		return err
	}
	auditPath, err := bootstrap.NewAudit(cfg, m, logger)
	if err != nil {
		logger.Fatal("audit sink init failed", zap.Error(err))
	}
	defer auditPath.Close()
	go auditPath.RunReplay(ctx, time.Minute)

	engine := workflow.NewEngine(workflow.Deps{
		Store:       st,
		Adjudicator: adjudicator,
		PDMP:        pdmp,
		Audit:       auditPath.Deliverer,
		Metrics:     m,
	}, bootstrap.EngineConfig(cfg), logger)

	if err := engine.WillCall().EnsureBins(ctx, systemActor); err != nil {
		logger.Fatal("will-call bin registry init failed", zap.Error(err))
	}
	go sweepLoop(ctx, engine, time.Hour, logger)

	var dispatcher *notification.Dispatcher
	if memStore != nil {
		dispatcher, err = startLocalNotifications(ctx, cfg, memStore, breakers, m, logger)
		if err != nil {
			return err
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.Metrics(m))

	r.Get("/health", healthHandler(breakers, dispatcher))
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(creds))
		r.Mount("/", handlers.New(engine, logger).Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting workflow API",
		zap.String("port", cfg.Port),
		zap.Bool("memory_store", memStore != nil),
		zap.String("audit_sink", cfg.AuditSink))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	if dispatcher != nil {
		if err := dispatcher.Stop(); err != nil {
			logger.Warn("notification dispatcher stop", zap.Error(err))
		}
	}
	logger.Info("server stopped")
	return nil
}

// startLocalNotifications delivers pickup notices straight from the
// in-memory outbox, standing in for the relay and the notification worker
func startLocalNotifications(ctx context.Context, cfg *config.Config, memStore *memory.Store,
	breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *zap.Logger) (*notification.Dispatcher, error) {
	sender, err := bootstrap.NewNotificationSender(cfg, breakers, logger)
	if err != nil {
		return nil, err
	}
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultConfig(), logger)
	inbox.StartCleanup(ctx)

	handler := notification.NewHandler(inbox, sender, m, logger)
	dispatcher, err := notification.NewDispatcher(handler, workerpool.DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}
	dispatcher.Start()

	go dispatcher.Pump(ctx, 250*time.Millisecond, func() []notification.Routed {
		msgs := memStore.DrainOutbox()
		out := make([]notification.Routed, 0, len(msgs))
		for _, msg := range msgs {
			out = append(out, notification.Routed{Topic: msg.Topic, Event: msg.Event})
		}
		return out
	})
	return dispatcher, nil
}

func sweepLoop(ctx context.Context, engine *workflow.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bins, err := engine.WillCall().Sweep(ctx, systemActor)
			if err != nil {
				logger.Error("will-call sweep failed", zap.Error(err))
				continue
			}
			if len(bins) > 0 {
				logger.Info("will-call bins scheduled for return", zap.Int("bins", len(bins)))
			}
		}
	}
}

func healthHandler(breakers *circuitbreaker.Manager, dispatcher *notification.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"version":  bootstrap.Version,
			"breakers": breakers.GetHealthStatus(),
		}
		if dispatcher != nil {
			body["notifications"] = dispatcher.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}
