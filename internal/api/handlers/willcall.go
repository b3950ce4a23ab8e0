package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
)

// Pickup handles POST /prescriptions/{id}/pickup. The path ID wins over any
// prescription_id in the body.
func (h *Handler) Pickup(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req willcall.PickupRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.PrescriptionID = chi.URLParam(r, "id")
	res, err := h.engine.WillCall().Pickup(ctx, actor, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReturnToStock handles POST /prescriptions/{id}/return-to-stock
func (h *Handler) ReturnToStock(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.WillCall().ReturnToStock(ctx, actor, id, body.Reason)
	})
}

type amountDue struct {
	PrescriptionID string `json:"prescription_id"`
	PatientPay     string `json:"patient_pay"`
}

// AmountDue handles GET /prescriptions/{id}/amount-due
func (h *Handler) AmountDue(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	pay, err := h.engine.WillCall().AmountDue(ctx, actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountDue{PrescriptionID: id, PatientPay: pay.StringFixed(2)})
}

// Bins handles GET /will-call/bins
func (h *Handler) Bins(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bins, err := h.engine.WillCall().Bins(ctx, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if bins == nil {
		bins = []workflow.BinView{}
	}
	writeJSON(w, http.StatusOK, bins)
}

// EnsureBins handles POST /will-call/bins
func (h *Handler) EnsureBins(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.WillCall().EnsureBins(ctx, actor); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep handles POST /will-call/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	swept, err := h.engine.WillCall().Sweep(ctx, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if swept == nil {
		swept = []*willcall.Bin{}
	}
	writeJSON(w, http.StatusOK, swept)
}
