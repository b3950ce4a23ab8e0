// Package handlers exposes the workflow engine over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/api/middleware"
	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
)

const maxBodyBytes = 1 << 20

// Handler serves the workflow API
type Handler struct {
	engine *workflow.Engine
	logger *zap.Logger
	clock  func() time.Time
}

// New creates a handler bound to the engine
func New(engine *workflow.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger, clock: time.Now}
}

// Routes returns the API router. Callers mount it behind authentication.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/prescriptions", func(r chi.Router) {
		r.Post("/", h.CreatePrescription)
		r.Get("/", h.Queue)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetPrescription)
			r.Patch("/", h.UpdateFields)
			r.Get("/detail", h.GetDetail)
			r.Get("/history", h.History)
			r.Get("/audit", h.AuditTrail)
			r.Post("/data-entry/start", h.StartDataEntry)
			r.Post("/data-entry/submit", h.SubmitDataEntry)
			r.Post("/fill", h.CompleteFill)
			r.Post("/verify", h.VerifyFill)
			r.Post("/cancel", h.Cancel)
			r.Post("/assign", h.Assign)
			r.Post("/hold", h.PlaceOnHold)
			r.Delete("/hold", h.ReleaseHold)
			r.Post("/refill", h.RequestRefill)
			r.Post("/claims", h.AdjudicateClaim)
			r.Post("/claims/resolve", h.ResolveRejection)
			r.Post("/prior-auth", h.RecordPriorAuth)
			r.Post("/release", h.ReleaseToFill)
			r.Get("/amount-due", h.AmountDue)
			r.Post("/pickup", h.Pickup)
			r.Post("/return-to-stock", h.ReturnToStock)
		})
	})

	r.Get("/claims/rejections", h.RejectionQueue)
	r.Post("/dur-alerts/{id}/override", h.OverrideDURAlert)

	r.Post("/patients", h.RegisterPatient)
	r.Get("/patients/{id}", h.GetPatient)
	r.Post("/patients/{id}/pdmp", h.QueryPDMP)
	r.Get("/pdmp/snapshots/{id}", h.GetSnapshot)
	r.Post("/pdmp/snapshots/{id}/review", h.ReviewSnapshot)

	r.Post("/plans", h.RegisterPlan)
	r.Put("/inventory/{ndc}", h.SetInventory)

	r.Get("/will-call/bins", h.Bins)
	r.Post("/will-call/bins", h.EnsureBins)
	r.Post("/will-call/sweep", h.Sweep)

	r.Post("/intake/ncpdp", h.IntakeNewRx)
	return r
}

type errorBody struct {
	Kind        apperr.Kind            `json:"kind"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Recoverable bool                   `json:"recoverable"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// statusFor maps error kinds onto HTTP statuses
func statusFor(err error) int {
	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindPreconditionFailed:
		if e.Code == apperr.CodePaymentRequired {
			return http.StatusPaymentRequired
		}
		return http.StatusPreconditionFailed
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		if e.Code == apperr.CodeExternalTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Kind: "Internal", Code: "INTERNAL", Message: "internal error"}
	if e, ok := apperr.As(err); ok {
		body = errorBody{
			Kind:        e.Kind,
			Code:        e.Code,
			Message:     e.Message,
			Recoverable: e.Recoverable,
			Details:     e.Details,
		}
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writePrescription sets the ETag to the aggregate version
func writePrescription(w http.ResponseWriter, status int, p *prescription.Prescription) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(p.Version)))
	writeJSON(w, status, p)
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// call resolves the actor and the optional If-Match precondition
func (h *Handler) call(r *http.Request) (context.Context, auth.Actor, error) {
	ctx := r.Context()
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return nil, auth.Actor{}, apperr.Forbidden("request has no authenticated actor")
	}
	if v := strings.TrimSpace(r.Header.Get("If-Match")); v != "" && v != "*" {
		v = strings.TrimPrefix(v, "W/")
		n, err := strconv.Atoi(strings.Trim(v, `"`))
		if err != nil {
			return nil, auth.Actor{}, apperr.Validation("If-Match must carry the prescription version")
		}
		ctx = workflow.WithExpectedVersion(ctx, n)
	}
	return ctx, actor, nil
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("limit must be a non-negative integer")
	}
	return n, nil
}
