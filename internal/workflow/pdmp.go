package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// QueryPDMP fetches the patient's registry history, scores it and stores an
// immutable snapshot. The provider is called outside any transaction.
func (e *Engine) QueryPDMP(ctx context.Context, actor auth.Actor, patientID string, states []string, purpose string) (*risk.Snapshot, error) {
	if err := actor.Require(auth.LevelPrescriber, "query_pdmp"); err != nil {
		return nil, err
	}
	if e.pdmp == nil {
		return nil, apperr.Unavailable(apperr.CodeExternalUnavailable, nil, "no PDMP provider is configured")
	}
	pat, err := e.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 && pat.State != "" {
		states = []string{pat.State}
	}
	normalized := make([]string, len(states))
	for i, s := range states {
		normalized[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	states = normalized

	q := risk.Query{
		PatientID:   pat.ID,
		FirstName:   pat.FirstName,
		LastName:    pat.LastName,
		DateOfBirth: pat.DateOfBirth,
		Gender:      pat.Gender,
		ZipCode:     pat.ZipCode,
		States:      states,
		Purpose:     purpose,
	}
	snap, err := e.pdmp.Query(ctx, q, actor.StaffID, e.now())
	if err != nil {
		e.metrics.RecordFailure("query_pdmp", apperr.CodeOf(err))
		return nil, err
	}

	_, err = e.run(ctx, "store_pdmp_snapshot", actor, auth.LevelPrescriber, func(ctx context.Context, tx store.Tx, u *unit) error {
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		u.record(snap.ID, &audit.PDMPQuery{
			PatientHash: prescription.HashPatient(pat.ID),
			Purpose:     purpose,
			States:      states,
			RecordCount: len(snap.Records),
			RiskScore:   snap.Assessment.RiskScore,
			RiskLevel:   string(snap.Assessment.RiskLevel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRiskLevel(string(snap.Assessment.RiskLevel))
	return snap, nil
}

// ReviewPDMPSnapshot attaches the single reviewer decision to a snapshot
func (e *Engine) ReviewPDMPSnapshot(ctx context.Context, actor auth.Actor, snapshotID string, decision risk.Decision, notes string) (*risk.Snapshot, error) {
	var out *risk.Snapshot
	_, err := e.run(ctx, "review_pdmp_snapshot", actor, auth.LevelPharmacist, func(ctx context.Context, tx store.Tx, u *unit) error {
		snap, err := tx.GetSnapshot(ctx, snapshotID)
		if err != nil {
			return err
		}
		if err := snap.AttachReview(risk.Review{
			ReviewerID: actor.StaffID,
			Decision:   decision,
			Notes:      notes,
			ReviewedAt: u.now,
		}); err != nil {
			return err
		}
		if err := tx.UpdateSnapshotReview(ctx, snap); err != nil {
			return fmt.Errorf("update snapshot review: %w", err)
		}
		u.record(snap.ID, &audit.PDMPReview{Decision: string(decision), Notes: notes})
		out = snap
		return nil
	})
	return out, err
}
