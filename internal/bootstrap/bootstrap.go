// Package bootstrap builds the shared collaborators of the workflow
// processes from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drfirst/go-rxworkflow/internal/config"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/external"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/spool"
	"github.com/drfirst/go-rxworkflow/internal/notification"
	"github.com/drfirst/go-rxworkflow/internal/observability/metrics"
	"github.com/drfirst/go-rxworkflow/internal/observability/tracing"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
)

// Version is stamped into traces and the health endpoint
var Version = "dev"

// NewLogger builds the process logger. Development uses the console encoder.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.IsDev() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// InitTracing installs the tracer provider. Export is off unless TRACING_ENABLED.
func InitTracing(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	endpoint := ""
	if cfg.TracingEnabled {
		endpoint = cfg.OTLPEndpoint
	}
	return tracing.Init(ctx, tracing.Config{
		ServiceName:    service,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   endpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
}

// OpenPool connects to DATABASE_URL
func OpenPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return postgres.NewPool(ctx, postgres.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
		Schema:          cfg.DBSchema,
	})
}

// Breakers returns a manager whose breakers export their state to m
func Breakers(m *metrics.Metrics, logger *zap.Logger) *circuitbreaker.Manager {
	var listener circuitbreaker.StateListener
	if m != nil {
		listener = m.BreakerListener()
	}
	return circuitbreaker.NewManager(listener, logger)
}

// EngineConfig maps process configuration onto the engine policy
func EngineConfig(cfg *config.Config) workflow.Config {
	day := 24 * time.Hour
	return workflow.Config{
		CancelReasonMinLength:    cfg.CancelReasonMinLength,
		OverrideReasonMinLength:  cfg.OverrideReasonMinLength,
		RequirePDMPForControlled: cfg.RequirePDMPForControlled,
		WillCallBinCount:         cfg.WillCallBinCount,
		WillCallWindows: willcall.Windows{
			ExpiringAfter: time.Duration(cfg.WillCallExpiringDays) * day,
			ReturnAfter:   time.Duration(cfg.WillCallReturnDays) * day,
		},
	}
}

// NewAdjudicator uses the external switch when ADJUDICATOR_URL is set and the
// deterministic plan rules otherwise
func NewAdjudicator(cfg *config.Config, breakers *circuitbreaker.Manager, logger *zap.Logger) (*claims.Adjudicator, error) {
	acfg := claims.Config{Timeout: cfg.AdjudicatorTimeout, PharmacyNPI: cfg.PharmacyNPI}
	if cfg.AdjudicatorURL == "" {
		logger.Info("claims adjudicated by local plan rules")
		return claims.NewAdjudicator(claims.NewRulesSwitch(claims.DefaultPlanRules()), nil, acfg, logger), nil
	}

	cb, err := breakers.GetOrCreate("claims-switch", circuitbreaker.DefaultConfig("claims-switch"))
	if err != nil {
		return nil, err
	}
	sw := external.NewSwitchClient(external.ClientConfig{
		BaseURL: cfg.AdjudicatorURL,
		APIKey:  cfg.AdjudicatorAPIKey,
		Timeout: cfg.AdjudicatorTimeout,
	}, logger)
	return claims.NewAdjudicator(sw, cb, acfg, logger), nil
}

// NewPDMPMonitor returns nil outside development when PDMP_URL is unset, so
// PDMP queries fail as unavailable instead of reporting an empty history.
func NewPDMPMonitor(cfg *config.Config, breakers *circuitbreaker.Manager, logger *zap.Logger) (*risk.Monitor, error) {
	rcfg := risk.DefaultConfig()
	rcfg.EarlyRefillGracePercent = cfg.EarlyRefillGracePercent
	analyzer := risk.NewAnalyzer(rcfg)

	if cfg.PDMPURL == "" {
		if !cfg.IsDev() {
			logger.Warn("PDMP_URL is not set; PDMP queries are disabled")
			return nil, nil
		}
		return risk.NewMonitor(risk.StaticProvider{}, nil, analyzer, cfg.PDMPTimeout, logger), nil
	}

	cb, err := breakers.GetOrCreate("pdmp", circuitbreaker.DefaultConfig("pdmp"))
	if err != nil {
		return nil, err
	}
	provider := external.NewPDMPClient(external.ClientConfig{
		BaseURL: cfg.PDMPURL,
		APIKey:  cfg.PDMPAPIKey,
		Timeout: cfg.PDMPTimeout,
	}, logger)
	return risk.NewMonitor(provider, cb, analyzer, cfg.PDMPTimeout, logger), nil
}

// NewNotificationSender posts to the webhook when configured, else logs
func NewNotificationSender(cfg *config.Config, breakers *circuitbreaker.Manager, logger *zap.Logger) (notification.Sender, error) {
	if cfg.NotifyWebhookURL == "" {
		return notification.NewLogSender(logger), nil
	}
	cb, err := breakers.GetOrCreate("notify-webhook", circuitbreaker.DefaultConfig("notify-webhook"))
	if err != nil {
		return nil, err
	}
	return external.NewNotifier(external.ClientConfig{
		BaseURL: cfg.NotifyWebhookURL,
		Timeout: 10 * time.Second,
	}, cfg.NotifyWebhookSecret, cb, logger), nil
}

// Audit is the wired audit delivery path
type Audit struct {
	Deliverer *audit.Deliverer
	Sink      audit.Sink
	Spool     *spool.Spool

	producer *redpanda.Producer
}

// NewAudit wires the configured sink and the local spool for failed deliveries
func NewAudit(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*Audit, error) {
	a := &Audit{}
	switch cfg.AuditSink {
	case "kafka":
		pcfg := redpanda.DefaultProducerConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		producer, err := redpanda.NewProducer(pcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("audit producer: %w", err)
		}
		a.producer = producer
		a.Sink = redpanda.NewAuditSink(producer, redpanda.TopicAuditTrail)
	case "none":
		a.Sink = discardSink{}
	default:
		a.Sink = audit.NewLogSink(logger.Named("audit"))
	}

	var sp audit.Spool
	if cfg.AuditSpoolPath != "" && cfg.AuditSink != "none" {
		s, err := spool.Open(cfg.AuditSpoolPath, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Spool = s
		sp = s
	}

	var failures audit.FailureRecorder
	if m != nil {
		failures = m
	}
	a.Deliverer = audit.NewDeliverer(a.Sink, sp, failures, logger)
	return a, nil
}

// RunReplay replays the spool into the sink until ctx ends
func (a *Audit) RunReplay(ctx context.Context, interval time.Duration) {
	if a.Spool == nil {
		return
	}
	a.Spool.Run(ctx, a.Sink, interval)
}

// Close releases the spool and the producer
func (a *Audit) Close() {
	if a.Spool != nil {
		a.Spool.Close()
	}
	if a.producer != nil {
		a.producer.Close()
	}
}

type discardSink struct{}

func (discardSink) Write(context.Context, []*audit.Entry) error { return nil }
