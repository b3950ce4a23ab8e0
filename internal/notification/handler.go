// Package notification turns ready-for-pickup events into pickup notices,
// delivering each event at most once per consumer through the inbox.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/external"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxworkflow/pkg/idempotency"
)

// ConsumerName keys the inbox entries of the pickup notifier
const ConsumerName = "pickup-notifier"

// Outcomes recorded per event
const (
	OutcomeSent      = "sent"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Sender delivers one notice; *external.Notifier in production
type Sender interface {
	Notify(ctx context.Context, notice *external.PickupNotice) error
}

// Metrics observes notification outcomes
type Metrics interface {
	RecordNotification(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordNotification(string) {}

// Handler delivers pickup notices for ready events
type Handler struct {
	inbox   *idempotency.Inbox
	sender  Sender
	metrics Metrics
	logger  *zap.Logger
	clock   func() time.Time
}

// NewHandler creates a handler. metrics may be nil.
func NewHandler(inbox *idempotency.Inbox, sender Sender, metrics Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handler{
		inbox:   inbox,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock replaces the time source stamped on notices
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// HandleEvent delivers the notice for a ready event. Other event types are
// ignored. A returned error is worth retrying unless it is an apperr with a
// terminal kind.
func (h *Handler) HandleEvent(ctx context.Context, ev *prescription.Event) error {
	if ev.EventType != prescription.EventPrescriptionReady {
		h.metrics.RecordNotification(OutcomeIgnored)
		return nil
	}

	res, err := h.inbox.Process(ctx, idempotency.Key(ConsumerName, ev.ID), ConsumerName, ev.EventData,
		func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			var ready prescription.ReadyData
			if err := json.Unmarshal(payload, &ready); err != nil {
				return nil, apperr.Validation("malformed ready event %s: %v", ev.ID, err)
			}
			if ready.PatientID == "" || ready.PrescriptionID == "" {
				return nil, apperr.Validation("ready event %s has no patient or prescription", ev.ID)
			}
			notice := &external.PickupNotice{EventID: ev.ID, Ready: ready, SentAt: h.clock().UTC()}
			if err := h.sender.Notify(ctx, notice); err != nil {
				return nil, apperr.Unavailable(apperr.CodeExternalUnavailable, err, "pickup notice for %s", ready.PrescriptionID)
			}
			return json.Marshal(map[string]string{"bin_id": ready.BinID})
		})

	switch {
	case err == nil && !res.IsNew && !res.WasRecovered:
		h.metrics.RecordNotification(OutcomeDuplicate)
		return nil
	case err == nil:
		h.metrics.RecordNotification(OutcomeSent)
		h.logger.Info("pickup notice sent",
			zap.String("event_id", ev.ID),
			zap.String("prescription_id", ev.AggregateID))
		return nil
	case errors.Is(err, idempotency.ErrDuplicateMessage), errors.Is(err, idempotency.ErrPreviouslyFailed):
		h.metrics.RecordNotification(OutcomeDuplicate)
		return nil
	}

	h.metrics.RecordNotification(OutcomeFailed)
	h.logger.Warn("pickup notice failed",
		zap.String("event_id", ev.ID),
		zap.String("prescription_id", ev.AggregateID),
		zap.Error(err))
	if Retryable(err) {
		return err
	}
	// terminal failures are parked in the inbox as FAILED
	return nil
}

// HandleMessage adapts HandleEvent to the broker consumer
func (h *Handler) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var ev prescription.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logger.Error("undecodable event skipped", zap.String("message_id", msg.ID()), zap.Error(err))
		h.metrics.RecordNotification(OutcomeFailed)
		return nil
	}
	return h.HandleEvent(ctx, &ev)
}

// Retryable reports whether a delivery error may succeed on another attempt
func Retryable(err error) bool {
	if errors.Is(err, idempotency.ErrMessageInProgress) {
		return true
	}
	if apperr.KindOf(err) == "" {
		return true
	}
	return apperr.IsRecoverable(err)
}

// LogSender writes notices to the log when no webhook is configured
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender backed by logger
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Notify(_ context.Context, n *external.PickupNotice) error {
	s.logger.Info("pickup ready",
		zap.String("event_id", n.EventID),
		zap.String("prescription_id", n.Ready.PrescriptionID),
		zap.String("patient_hash", prescription.HashPatient(n.Ready.PatientID)),
		zap.String("bin_id", n.Ready.BinID))
	return nil
}
