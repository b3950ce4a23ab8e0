package claims

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
	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
)

// Switch is the external claims processor. Implementations must honor ctx.
type Switch interface {
	Adjudicate(ctx context.Context, req *Request) (*Response, error)
}

// Config holds adjudicator configuration
type Config struct {
	// Timeout bounds every switch call
	Timeout time.Duration
	// PharmacyNPI is stamped on requests that omit it
	PharmacyNPI string
}

// DefaultConfig returns defaults for a retail counter
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
	}
}

// Adjudicator validates claim requests and submits them to the switch
type Adjudicator struct {
	sw      Switch
	breaker circuitbreaker.Executor
	config  Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewAdjudicator creates an adjudicator. breaker may be nil.
func NewAdjudicator(sw Switch, breaker circuitbreaker.Executor, cfg Config, logger *zap.Logger) *Adjudicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Adjudicator{
		sw:      sw,
		breaker: breaker,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("claims-adjudicator"),
	}
}

// Submit validates the request and, if well formed, sends it to the switch.
// Shape failures come back as a rejected response without an external call.
// Only transport failures (timeout, open circuit) are returned as errors,
// always as a recoverable Unavailable.
func (a *Adjudicator) Submit(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := a.tracer.Start(ctx, "claims_submit",
		trace.WithAttributes(
			attribute.String("claim_id", req.ClaimID),
			attribute.String("bin", req.BIN),
		))
	defer span.End()

	if req.PharmacyNPI == "" {
		req.PharmacyNPI = a.config.PharmacyNPI
	}

	if rejects := req.Validate(); len(rejects) > 0 {
		span.SetAttributes(attribute.Int("shape_rejects", len(rejects)))
		a.logger.Info("claim rejected on shape validation",
			zap.String("claim_id", req.ClaimID),
			zap.Int("rejects", len(rejects)))
		return &Response{Status: StatusRejected, Rejects: rejects, Message: "request failed validation"}, nil
	}

	resp, err := a.call(ctx, req)
	if err != nil {
		span.RecordError(err)
		code := apperr.CodeExternalUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = apperr.CodeExternalTimeout
		}
		a.logger.Warn("claims switch unavailable",
			zap.String("claim_id", req.ClaimID),
			zap.String("code", code),
			zap.Error(err))
		return nil, apperr.Unavailable(code, err, "claims switch did not respond for claim %s", req.ClaimID)
	}

	// Expand bare codes from the switch with taxonomy descriptions
	for i, rj := range resp.Rejects {
		if rj.Description == "" || rj.Category == "" {
			full := LookupReject(rj.Code)
			full.Field = rj.Field
			resp.Rejects[i] = full
		}
	}
	if resp.Status == StatusRejected && len(resp.Rejects) == 0 {
		resp.Rejects = []Reject{LookupReject(RejectNotProcessed)}
	}

	span.SetAttributes(attribute.String("status", string(resp.Status)))
	return resp, nil
}

func (a *Adjudicator) call(ctx context.Context, req *Request) (*Response, error) {
	out, err := circuitbreaker.Guard(ctx, a.breaker, a.config.Timeout, func(ctx context.Context) (interface{}, error) {
		return a.sw.Adjudicate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := out.(*Response)
	if !ok || resp == nil {
		return nil, fmt.Errorf("switch returned no response")
	}
	return resp, nil
}
