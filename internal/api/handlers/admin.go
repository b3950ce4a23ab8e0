package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/patient"
)

// RegisterPatient handles POST /patients
func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in patient.Patient
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.engine.RegisterPatient(ctx, actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/patients/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

// GetPatient handles GET /patients/{id}
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.engine.Patient(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RegisterPlan handles POST /plans
func (h *Handler) RegisterPlan(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in claims.Plan
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	plan, err := h.engine.RegisterPlan(ctx, actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

type inventoryBody struct {
	OnHand float64 `json:"on_hand"`
}

// SetInventory handles PUT /inventory/{ndc}
func (h *Handler) SetInventory(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body inventoryBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.SetInventory(ctx, actor, chi.URLParam(r, "ndc"), body.OnHand); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
