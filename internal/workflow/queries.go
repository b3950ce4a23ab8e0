package workflow

import (
	"context"

	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/dur"
	"github.com/drfirst/go-rxworkflow/internal/domain/patient"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// Detail is a prescription with everything recorded against it
type Detail struct {
	Prescription *prescription.Prescription   `json:"prescription"`
	NextStates   []prescription.State         `json:"next_states"`
	History      []*prescription.HistoryEntry `json:"history"`
	Fills        []*prescription.Fill         `json:"fills"`
	Claims       []*claims.Claim              `json:"claims"`
	DURAlerts    []*dur.Alert                 `json:"dur_alerts"`
}

// Get returns a prescription
func (e *Engine) Get(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
	if err := actor.Require(auth.LevelReadOnly, "get_prescription"); err != nil {
		return nil, err
	}
	return e.store.GetPrescription(ctx, id)
}

// GetDetail returns a prescription with its history, fills, claims and alerts
func (e *Engine) GetDetail(ctx context.Context, actor auth.Actor, id string) (*Detail, error) {
	p, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Prescription: p, NextStates: prescription.NextStates(p.State)}
	if d.History, err = e.store.ListHistory(ctx, id); err != nil {
		return nil, err
	}
	if d.Fills, err = e.store.ListFills(ctx, id); err != nil {
		return nil, err
	}
	if d.Claims, err = e.store.ListClaims(ctx, id); err != nil {
		return nil, err
	}
	if d.DURAlerts, err = e.store.ListDURAlerts(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// History returns the ordered state history of a prescription
func (e *Engine) History(ctx context.Context, actor auth.Actor, id string) ([]*prescription.HistoryEntry, error) {
	if _, err := e.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return e.store.ListHistory(ctx, id)
}

// Queue lists prescriptions in a state, most urgent first
func (e *Engine) Queue(ctx context.Context, actor auth.Actor, state prescription.State, limit int) ([]*prescription.Prescription, error) {
	if err := actor.Require(auth.LevelReadOnly, "list_prescriptions"); err != nil {
		return nil, err
	}
	return e.store.ListPrescriptions(ctx, store.PrescriptionFilter{State: state, Limit: limit})
}

// AuditTrail returns the journal rows written for a resource
func (e *Engine) AuditTrail(ctx context.Context, actor auth.Actor, resourceID string) ([]*audit.Entry, error) {
	if err := actor.Require(auth.LevelManager, "audit_trail"); err != nil {
		return nil, err
	}
	return e.store.ListAudit(ctx, resourceID)
}

// Patient returns a patient profile
func (e *Engine) Patient(ctx context.Context, actor auth.Actor, id string) (*patient.Patient, error) {
	if err := actor.Require(auth.LevelClerk, "get_patient"); err != nil {
		return nil, err
	}
	return e.store.GetPatient(ctx, id)
}

// Snapshot returns a stored PDMP snapshot
func (e *Engine) Snapshot(ctx context.Context, actor auth.Actor, id string) (*risk.Snapshot, error) {
	if err := actor.Require(auth.LevelPrescriber, "get_pdmp_snapshot"); err != nil {
		return nil, err
	}
	return e.store.GetSnapshot(ctx, id)
}
