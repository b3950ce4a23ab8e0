package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/api/middleware"
	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
)

// CreateRequest is the body of POST /prescriptions
type CreateRequest struct {
	prescription.CreateRequest
	DUROverride *workflow.DUROverride `json:"dur_override,omitempty"`
}

// CreatePrescription handles POST /prescriptions
func (h *Handler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.CreatePrescription(ctx, actor, &req.CreateRequest, req.DUROverride, workflow.SourceManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("prescription created",
		zap.String("prescription_id", res.Prescription.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("dur_alerts", len(res.Alerts)))

	w.Header().Set("Location", "/prescriptions/"+res.Prescription.ID)
	writeJSON(w, http.StatusCreated, res)
}

// Queue handles GET /prescriptions?state=&limit=
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	state := prescription.State(strings.ToUpper(r.URL.Query().Get("state")))
	if state != "" && !state.IsValid() {
		h.fail(w, r, apperr.Validation("unknown state %q", state))
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.engine.Queue(ctx, actor, state, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*prescription.Prescription{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetPrescription handles GET /prescriptions/{id}
func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.engine.Get(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePrescription(w, http.StatusOK, p)
}

// GetDetail handles GET /prescriptions/{id}/detail
func (h *Handler) GetDetail(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.engine.GetDetail(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// History handles GET /prescriptions/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.engine.History(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*prescription.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AuditTrail handles GET /prescriptions/{id}/audit
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.engine.AuditTrail(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type stepFunc func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error)

// step runs a body-less transition on the prescription named in the path
func (h *Handler) step(fn stepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, actor, err := h.call(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		p, err := fn(ctx, actor, chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writePrescription(w, http.StatusOK, p)
	}
}

// StartDataEntry handles POST /prescriptions/{id}/data-entry/start
func (h *Handler) StartDataEntry(w http.ResponseWriter, r *http.Request) {
	h.step(h.engine.StartDataEntry)(w, r)
}

// SubmitDataEntry handles POST /prescriptions/{id}/data-entry/submit
func (h *Handler) SubmitDataEntry(w http.ResponseWriter, r *http.Request) {
	h.step(h.engine.SubmitDataEntry)(w, r)
}

// ReleaseHold handles DELETE /prescriptions/{id}/hold
func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	h.step(h.engine.ReleaseHold)(w, r)
}

// RequestRefill handles POST /prescriptions/{id}/refill. The response is the new prescription.
func (h *Handler) RequestRefill(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.engine.RequestRefill(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/prescriptions/"+p.ID)
	writePrescription(w, http.StatusCreated, p)
}

// CompleteFill handles POST /prescriptions/{id}/fill
func (h *Handler) CompleteFill(w http.ResponseWriter, r *http.Request) {
	var body prescription.FillDetails
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.CompleteFill(ctx, actor, id, body)
	})
}

type verifyBody struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// VerifyFill handles POST /prescriptions/{id}/verify
func (h *Handler) VerifyFill(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.VerifyFill(ctx, actor, id, body.Approve, body.Notes)
	})
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /prescriptions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.Cancel(ctx, actor, id, body.Reason)
	})
}

// PlaceOnHold handles POST /prescriptions/{id}/hold
func (h *Handler) PlaceOnHold(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.PlaceOnHold(ctx, actor, id, body.Reason)
	})
}

type assignBody struct {
	StaffID string `json:"staff_id"`
}

// Assign handles POST /prescriptions/{id}/assign
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.Assign(ctx, actor, id, body.StaffID)
	})
}

type fieldsBody struct {
	Fields map[string]string `json:"fields"`
}

// UpdateFields handles PATCH /prescriptions/{id}
func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	var body fieldsBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.UpdateFields(ctx, actor, id, body.Fields)
	})
}

// withBody decodes the body into v and then runs fn on the path prescription
func (h *Handler) withBody(w http.ResponseWriter, r *http.Request, v interface{}, fn stepFunc) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := decode(r, v); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := fn(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePrescription(w, http.StatusOK, p)
}
