package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
)

// OverrideDURAlert handles POST /dur-alerts/{id}/override
func (h *Handler) OverrideDURAlert(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body workflow.DUROverride
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	alert, err := h.engine.OverrideDURAlert(ctx, actor, chi.URLParam(r, "id"), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type pdmpQueryBody struct {
	States  []string `json:"states,omitempty"`
	Purpose string   `json:"purpose"`
}

// QueryPDMP handles POST /patients/{id}/pdmp
func (h *Handler) QueryPDMP(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body pdmpQueryBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.engine.QueryPDMP(ctx, actor, chi.URLParam(r, "id"), body.States, body.Purpose)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/pdmp/snapshots/"+snap.ID)
	writeJSON(w, http.StatusCreated, snap)
}

// GetSnapshot handles GET /pdmp/snapshots/{id}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.engine.Snapshot(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type reviewBody struct {
	Decision risk.Decision `json:"decision"`
	Notes    string        `json:"notes,omitempty"`
}

// ReviewSnapshot handles POST /pdmp/snapshots/{id}/review
func (h *Handler) ReviewSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body reviewBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.engine.ReviewPDMPSnapshot(ctx, actor, chi.URLParam(r, "id"), body.Decision, body.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
