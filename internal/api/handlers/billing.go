package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
)

// AdjudicateClaim handles POST /prescriptions/{id}/claims. A rejected claim
// is a normal outcome and answers 200 with the reject codes in the body.
func (h *Handler) AdjudicateClaim(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.AdjudicateClaim(ctx, actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resolveBody struct {
	Action            claims.Action `json:"action"`
	ClarificationCode string        `json:"clarification_code,omitempty"`
}

// ResolveRejection handles POST /prescriptions/{id}/claims/resolve
func (h *Handler) ResolveRejection(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.ResolveRejection(ctx, actor, id, body.Action, body.ClarificationCode)
	})
}

type priorAuthBody struct {
	Approved   bool   `json:"approved"`
	AuthNumber string `json:"auth_number,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// RecordPriorAuth handles POST /prescriptions/{id}/prior-auth
func (h *Handler) RecordPriorAuth(w http.ResponseWriter, r *http.Request) {
	var body priorAuthBody
	h.withBody(w, r, &body, func(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
		return h.engine.RecordPriorAuth(ctx, actor, id, body.Approved, body.AuthNumber, body.Notes)
	})
}

// ReleaseToFill handles POST /prescriptions/{id}/release
func (h *Handler) ReleaseToFill(w http.ResponseWriter, r *http.Request) {
	h.step(h.engine.ReleaseToFill)(w, r)
}

// RejectionQueue handles GET /claims/rejections?limit=
func (h *Handler) RejectionQueue(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.engine.RejectionQueue(ctx, actor, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []claims.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}
