// Package idempotency provides the Inbox pattern for exactly-once side effects
// when consuming at-least-once event streams.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// Status represents the processing status of an inbox entry
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Entry is one inbox record
type Entry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// Stats summarizes the inbox by status
type Stats struct {
	TotalEntries int64
	Started      int64
	Finished     int64
	Recoverable  int64
	Failed       int64
}

// Store persists inbox entries. Get returns ErrNotFound for unknown keys and
// Start returns ErrDuplicateMessage unless the key is new or RECOVERABLE.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Start(ctx context.Context, key, handlerName string, payload json.RawMessage, expiresAt, now time.Time) error
	MarkStatus(ctx context.Context, key string, status Status, result json.RawMessage, now time.Time) error
	Cleanup(ctx context.Context, now time.Time) (int64, error)
	RecoverStale(ctx context.Context, olderThan time.Time, now time.Time) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Config holds configuration for the inbox
type Config struct {
	// DefaultTTL is how long an entry is kept
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are removed
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is considered abandoned
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

var (
	// ErrNotFound is returned by Store.Get for unknown keys
	ErrNotFound = errors.New("inbox entry not found")
	// ErrDuplicateMessage indicates the message was already processed
	ErrDuplicateMessage = errors.New("duplicate message: already processed")
	// ErrMessageInProgress indicates another handler holds the key
	ErrMessageInProgress = errors.New("message in progress by another handler")
	// ErrPreviouslyFailed indicates the message failed permanently before
	ErrPreviouslyFailed = errors.New("message previously failed permanently")
)

// Inbox manages idempotent message processing
type Inbox struct {
	store  Store
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates a new inbox over store
func NewInbox(store Store, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		store:  store,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		clock:  time.Now,
	}
}

// WithClock replaces the time source
func (i *Inbox) WithClock(clock func() time.Time) *Inbox {
	i.clock = clock
	return i
}

// ProcessResult represents the result of idempotent processing
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is the function signature for idempotent handlers
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Key derives the inbox key for one event as seen by one consumer, so two
// consumers of the same event keep independent entries.
func Key(consumer, eventID string) string {
	sum := sha256.Sum256([]byte(consumer + "|" + eventID))
	return hex.EncodeToString(sum[:])
}

// Process runs fn at most once to completion per key. A FINISHED key returns
// the stored result with IsNew false.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	now := i.clock()
	entry, err := i.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{IsNew: false, Result: entry.Result}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_failed", true))
			return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)

		case StatusStarted:
			if now.Sub(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrMessageInProgress
			}
			if err := i.store.MarkStatus(ctx, key, StatusRecoverable, nil, now); err != nil {
				return nil, fmt.Errorf("failed to mark recoverable: %w", err)
			}
			entry.Status = StatusRecoverable

		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.store.Start(ctx, key, handlerName, payload, now.Add(i.config.DefaultTTL), now); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to start processing: %w", err)
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if isTerminalError(handlerErr) {
			status = StatusFailed
		}
		failure, _ := json.Marshal(map[string]string{"error": handlerErr.Error()})
		if err := i.store.MarkStatus(ctx, key, status, failure, i.clock()); err != nil {
			i.logger.Error("failed to mark error status", zap.String("key", key), zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	// the side effect happened; a failed bookkeeping write only risks a repeat
	if err := i.store.MarkStatus(ctx, key, StatusFinished, result, i.clock()); err != nil {
		i.logger.Error("failed to mark finished", zap.String("key", key), zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: entry != nil && entry.Status == StatusRecoverable,
		Result:       result,
	}, nil
}

// isTerminalError reports whether retrying cannot change the outcome
func isTerminalError(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindForbidden, apperr.KindPreconditionFailed:
		return true
	}
	return false
}

// StartCleanup starts the background cleanup goroutine
func (i *Inbox) StartCleanup(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	i.done = make(chan struct{})
	go i.cleanupLoop(ctx)
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the cleanup goroutine if running
func (i *Inbox) Stop() {
	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop(ctx context.Context) {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Cleanup(ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

// Cleanup removes expired entries
func (i *Inbox) Cleanup(ctx context.Context) (int64, error) {
	n, err := i.store.Cleanup(ctx, i.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", n))
	}
	return n, nil
}

// RecoverStaleEntries marks abandoned STARTED entries as RECOVERABLE
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	now := i.clock()
	return i.store.RecoverStale(ctx, now.Add(-i.config.RecoveryTimeout), now)
}

// Stats returns current inbox statistics
func (i *Inbox) Stats(ctx context.Context) (*Stats, error) {
	return i.store.Stats(ctx)
}
