// Package workflow hosts the dispensing state machine and the will-call
// manager. Every operation is one unit of work: the prescription change, its
// history entries, its audit journal rows and its outbox events are written
// in a single store transaction.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/dur"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// Config holds engine policy
type Config struct {
	CancelReasonMinLength    int
	OverrideReasonMinLength  int
	RequirePDMPForControlled bool
	WillCallBinCount         int
	WillCallWindows          willcall.Windows
}

// DefaultConfig returns the counter defaults
func DefaultConfig() Config {
	return Config{
		CancelReasonMinLength:   10,
		OverrideReasonMinLength: 10,
		WillCallBinCount:        200,
		WillCallWindows:         willcall.DefaultWindows(),
	}
}

// Metrics receives engine measurements
type Metrics interface {
	RecordTransition(from, to string)
	RecordFailure(operation, code string)
	RecordClaim(status string)
	RecordDURAlert(severity string)
	RecordRiskLevel(level string)
	RecordWillCallReturn()
	ObserveOperation(operation string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransition(string, string)        {}
func (nopMetrics) RecordFailure(string, string)           {}
func (nopMetrics) RecordClaim(string)                     {}
func (nopMetrics) RecordDURAlert(string)                  {}
func (nopMetrics) RecordRiskLevel(string)                 {}
func (nopMetrics) RecordWillCallReturn()                  {}
func (nopMetrics) ObserveOperation(string, time.Duration) {}

// Deps are the collaborators the engine is wired with
type Deps struct {
	Store       store.Store
	Adjudicator *claims.Adjudicator
	DUR         *dur.Engine
	PDMP        *risk.Monitor
	Pricer      claims.Pricer
	Audit       *audit.Deliverer
	Metrics     Metrics
	Clock       func() time.Time
}

// Engine is the prescription workflow state machine
type Engine struct {
	store       store.Store
	adjudicator *claims.Adjudicator
	dur         *dur.Engine
	pdmp        *risk.Monitor
	pricer      claims.Pricer
	audit       *audit.Deliverer
	metrics     Metrics
	clock       func() time.Time
	config      Config
	logger      *zap.Logger
	tracer      trace.Tracer
	willcall    *WillCallManager
}

// NewEngine wires an engine. Store and Adjudicator are required.
func NewEngine(deps Deps, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CancelReasonMinLength <= 0 {
		cfg.CancelReasonMinLength = def.CancelReasonMinLength
	}
	if cfg.OverrideReasonMinLength <= 0 {
		cfg.OverrideReasonMinLength = def.OverrideReasonMinLength
	}
	if cfg.WillCallBinCount <= 0 {
		cfg.WillCallBinCount = def.WillCallBinCount
	}
	if cfg.WillCallWindows.ExpiringAfter <= 0 || cfg.WillCallWindows.ReturnAfter <= 0 {
		cfg.WillCallWindows = def.WillCallWindows
	}
	if deps.DUR == nil {
		deps.DUR = dur.NewEngine(nil)
	}
	if deps.Pricer == nil {
		deps.Pricer = claims.DefaultPricer()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewDeliverer(nil, nil, nil, logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := &Engine{
		store:       deps.Store,
		adjudicator: deps.Adjudicator,
		dur:         deps.DUR,
		pdmp:        deps.PDMP,
		pricer:      deps.Pricer,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		config:      cfg,
		logger:      logger,
		tracer:      otel.Tracer("workflow-engine"),
	}
	e.willcall = &WillCallManager{engine: e, windows: cfg.WillCallWindows, binCount: cfg.WillCallBinCount}
	return e
}

// WillCall returns the will-call manager bound to this engine
func (e *Engine) WillCall() *WillCallManager { return e.willcall }

func (e *Engine) now() time.Time { return e.clock().UTC() }

type expectedVersionKey struct{}

// WithExpectedVersion makes the next operation fail with INVALID_TRANSITION
// unless the prescription is still at version v
func WithExpectedVersion(ctx context.Context, v int) context.Context {
	return context.WithValue(ctx, expectedVersionKey{}, v)
}

func expectedVersion(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(expectedVersionKey{}).(int)
	return v, ok
}

type outboxEvent struct {
	topic string
	event *prescription.Event
}

// unit collects everything one operation writes besides the entities it updates
type unit struct {
	actor    auth.Actor
	now      time.Time
	loaded   map[string]*prescription.Prescription
	versions map[string]int
	history  []*prescription.HistoryEntry
	audits   []*audit.Entry
	events   []outboxEvent
}

func newUnit(actor auth.Actor, now time.Time) *unit {
	return &unit{
		actor:    actor,
		now:      now,
		loaded:   make(map[string]*prescription.Prescription),
		versions: make(map[string]int),
	}
}

func (u *unit) record(resourceID string, p audit.Payload) {
	u.audits = append(u.audits, audit.NewEntry(u.actor.StaffID, resourceID, p, u.now))
}

func (u *unit) emit(topic string, p *prescription.Prescription, t prescription.EventType, data interface{}) error {
	ev, err := prescription.NewEvent(p, t, data, u.now)
	if err != nil {
		return fmt.Errorf("build %s event: %w", t, err)
	}
	u.events = append(u.events, outboxEvent{topic: topic, event: ev})
	return nil
}

// load reads a prescription for update and remembers its version for the CAS write
func (e *Engine) load(ctx context.Context, tx store.Tx, u *unit, id string) (*prescription.Prescription, error) {
	if p, ok := u.loaded[id]; ok {
		return p, nil
	}
	p, err := tx.GetPrescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if v, ok := expectedVersion(ctx); ok && v != p.Version {
		return nil, apperr.InvalidTransition(string(p.State), string(p.State)).
			WithDetail("reason", "stale version").
			WithDetail("expected_version", v).
			WithDetail("current_version", p.Version)
	}
	u.loaded[id] = p
	u.versions[id] = p.Version
	return p, nil
}

// transition moves p along an edge and queues its history, audit and event
func (e *Engine) transition(u *unit, p *prescription.Prescription, to prescription.State, reason, notes string) error {
	h, err := p.Transition(to, u.actor.StaffID, reason, notes, u.now)
	if err != nil {
		return err
	}
	u.history = append(u.history, h)
	u.record(p.ID, &audit.Transition{From: string(h.FromState), To: string(h.ToState), Reason: reason, Sequence: h.Sequence})
	return u.emit(prescription.TopicWorkflowEvents, p, prescription.EventPrescriptionTransitioned, prescription.TransitionedData{
		PrescriptionID: p.ID,
		FromState:      h.FromState,
		ToState:        h.ToState,
		ActorStaffID:   h.ActorStaffID,
		Reason:         reason,
		At:             u.now,
	})
}

func (e *Engine) flush(ctx context.Context, tx store.Tx, u *unit) error {
	for id, p := range u.loaded {
		if p.Version == u.versions[id] {
			continue
		}
		if err := tx.UpdatePrescription(ctx, p, u.versions[id]); err != nil {
			return err
		}
	}
	if len(u.history) > 0 {
		if err := tx.AppendHistory(ctx, u.history...); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	if len(u.audits) > 0 {
		if err := tx.AppendAudit(ctx, u.audits...); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
	}
	for _, ev := range u.events {
		if err := tx.EnqueueEvent(ctx, ev.topic, ev.event); err != nil {
			return fmt.Errorf("enqueue event: %w", err)
		}
	}
	return nil
}

// run executes fn as one unit of work. Audit entries are handed to the sink
// only after commit.
func (e *Engine) run(ctx context.Context, op string, actor auth.Actor, min auth.PermissionLevel, fn func(ctx context.Context, tx store.Tx, u *unit) error) (*unit, error) {
	ctx, span := e.tracer.Start(ctx, "workflow_"+op,
		trace.WithAttributes(attribute.String("actor_id", actor.StaffID)))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveOperation(op, time.Since(start)) }()

	if err := actor.Require(min, op); err != nil {
		e.fail(span, op, err)
		return nil, err
	}

	var u *unit
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u = newUnit(actor, e.now())
		if err := fn(ctx, tx, u); err != nil {
			return err
		}
		return e.flush(ctx, tx, u)
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			err = &apperr.Error{
				Kind:    apperr.KindPreconditionFailed,
				Code:    apperr.CodeInvalidTransition,
				Message: "prescription changed concurrently, reload and retry",
				Err:     err,
			}
		}
		e.fail(span, op, err)
		return nil, err
	}

	for _, h := range u.history {
		if !h.IsAssignment() {
			e.metrics.RecordTransition(string(h.FromState), string(h.ToState))
		}
	}
	e.audit.Deliver(ctx, u.audits)
	return u, nil
}

func (e *Engine) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	code := apperr.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
		e.logger.Error("workflow operation failed", zap.String("operation", op), zap.Error(err))
	} else {
		e.logger.Debug("workflow operation refused",
			zap.String("operation", op),
			zap.String("code", code),
			zap.Error(err))
	}
	e.metrics.RecordFailure(op, code)
}

// openFill starts the next physical fill; fill numbers start at 0
func (e *Engine) openFill(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) (*prescription.Fill, error) {
	fills, err := tx.ListFills(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	f := prescription.NewFill(p, len(fills), u.now)
	if err := tx.InsertFill(ctx, f); err != nil {
		return nil, fmt.Errorf("insert fill: %w", err)
	}
	u.record(f.ID, &audit.FillUpdate{PrescriptionID: p.ID, FillNumber: f.FillNumber, Status: string(f.Status)})
	return f, nil
}

// currentFill returns the latest fill still in progress
func currentFill(ctx context.Context, r store.Reader, prescriptionID string) (*prescription.Fill, error) {
	fills, err := r.ListFills(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	for i := len(fills) - 1; i >= 0; i-- {
		if fills[i].Status.IsOpen() {
			return fills[i], nil
		}
	}
	return nil, apperr.NotFound("open fill", prescriptionID)
}

// latestClaim returns the most recent claim for the prescription, or nil
func latestClaim(ctx context.Context, r store.Reader, prescriptionID string) (*claims.Claim, error) {
	cs, err := r.ListClaims(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, nil
	}
	return cs[len(cs)-1], nil
}

func requireState(p *prescription.Prescription, want prescription.State, to prescription.State) error {
	if p.State != want {
		return apperr.InvalidTransition(string(p.State), string(to)).
			WithDetail("required_state", string(want))
	}
	return nil
}
