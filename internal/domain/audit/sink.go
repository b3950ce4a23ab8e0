package audit

import (
	"context"

	"go.uber.org/zap"
)

// Sink is the external durable audit log
type Sink interface {
	Write(ctx context.Context, entries []*Entry) error
}

// Spool holds entries whose delivery failed so they can be replayed
type Spool interface {
	Put(entries []*Entry) error
}

// FailureRecorder counts delivery failures
type FailureRecorder interface {
	RecordAuditFailure()
}

// LogSink writes entries to the structured log
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the logger
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, entries []*Entry) error {
	for _, e := range entries {
		s.logger.Info("audit",
			zap.String("audit_id", e.ID),
			zap.String("action", string(e.Action)),
			zap.String("resource_type", e.ResourceType),
			zap.String("resource_id", e.ResourceID),
			zap.String("actor_id", e.ActorID),
			zap.Any("details", e.Details),
			zap.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}

// Deliverer forwards committed entries to the sink. Delivery never fails the
// caller: errors are logged, counted and spooled.
type Deliverer struct {
	sink    Sink
	spool   Spool
	metrics FailureRecorder
	logger  *zap.Logger
}

// NewDeliverer creates a deliverer; spool and metrics may be nil
func NewDeliverer(sink Sink, spool Spool, metrics FailureRecorder, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Deliverer{sink: sink, spool: spool, metrics: metrics, logger: logger}
}

// Deliver writes entries to the sink
func (d *Deliverer) Deliver(ctx context.Context, entries []*Entry) {
	if len(entries) == 0 {
		return
	}
	err := d.sink.Write(ctx, entries)
	if err == nil {
		return
	}

	if d.metrics != nil {
		d.metrics.RecordAuditFailure()
	}
	d.logger.Error("audit delivery failed",
		zap.Int("entries", len(entries)),
		zap.String("first_resource_id", entries[0].ResourceID),
		zap.Error(err),
	)
	if d.spool == nil {
		return
	}
	if err := d.spool.Put(entries); err != nil {
		d.logger.Error("audit spool write failed", zap.Int("entries", len(entries)), zap.Error(err))
	}
}
