package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/codes"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/risk"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// StartDataEntry moves INTAKE -> DATA_ENTRY and gives the work to the actor
func (e *Engine) StartDataEntry(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
	return e.step(ctx, "start_data_entry", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if err := requireState(p, prescription.StateIntake, prescription.StateDataEntry); err != nil {
			return err
		}
		switch previous := p.AssignedToStaffID; previous {
		case "":
			p.AssignedToStaffID = actor.StaffID
		case actor.StaffID:
		default:
			h, _ := p.Assign(actor.StaffID, actor.StaffID, u.now)
			u.history = append(u.history, h)
			u.record(p.ID, &audit.Assignment{Previous: previous, Assigned: actor.StaffID})
		}
		return e.transition(u, p, prescription.StateDataEntry, "data entry started", "")
	})
}

// SubmitDataEntry routes to INSURANCE_PENDING when a plan is linked, else straight to FILLING
func (e *Engine) SubmitDataEntry(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
	return e.step(ctx, "submit_data_entry", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if p.State != prescription.StateDataEntry {
			return apperr.InvalidTransition(string(p.State), string(prescription.StateInsurancePending)).
				WithDetail("required_state", string(prescription.StateDataEntry))
		}
		if p.IsExpired(u.now) {
			return apperr.Precondition(apperr.CodePrescriptionExpired, "prescription %s is past its fill window", p.ID)
		}
		if p.HasInsurance() {
			if _, err := tx.GetPlan(ctx, p.InsurancePlanID); err != nil {
				return err
			}
			return e.transition(u, p, prescription.StateInsurancePending, "data entry complete", "")
		}
		if err := e.transition(u, p, prescription.StateFilling, "data entry complete, cash", ""); err != nil {
			return err
		}
		_, err := e.openFill(ctx, tx, u, p)
		return err
	})
}

// CompleteFill records the dispensed product and moves FILLING -> VERIFICATION.
// Tracked stock is decremented atomically in the same unit of work.
func (e *Engine) CompleteFill(ctx context.Context, actor auth.Actor, id string, d prescription.FillDetails) (*prescription.Prescription, error) {
	return e.step(ctx, "complete_fill", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if err := requireState(p, prescription.StateFilling, prescription.StateVerification); err != nil {
			return err
		}
		if d.DispensedNDC == "" {
			d.DispensedNDC = p.DrugNDC
		}
		ndc, ok := codes.NormalizeNDC(d.DispensedNDC)
		if !ok {
			return apperr.Validation("dispensed_ndc %q must normalize to 11 digits", d.DispensedNDC)
		}
		d.DispensedNDC = ndc
		if d.QuantityDispensed > p.QuantityRemaining {
			return apperr.Validation("quantity %.2f exceeds %.2f remaining on the prescription",
				d.QuantityDispensed, p.QuantityRemaining)
		}

		f, err := currentFill(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := f.Complete(d, actor.StaffID, u.now); err != nil {
			return err
		}
		if _, _, err := tx.AdjustInventory(ctx, ndc, -d.QuantityDispensed); err != nil {
			return err
		}
		if err := tx.UpdateFill(ctx, f); err != nil {
			return fmt.Errorf("update fill: %w", err)
		}
		p.QuantityRemaining -= d.QuantityDispensed
		u.record(f.ID, &audit.FillUpdate{
			PrescriptionID:    p.ID,
			FillNumber:        f.FillNumber,
			Status:            string(f.Status),
			DispensedNDC:      f.DispensedNDC,
			LotNumber:         f.LotNumber,
			QuantityDispensed: f.QuantityDispensed,
		})
		return e.transition(u, p, prescription.StateVerification, "fill complete", "")
	})
}

// VerifyFill is the pharmacist check. Approval moves VERIFICATION -> READY
// and places the prescription in will-call; rejection returns the fill,
// restores stock and quantity, and reopens FILLING.
func (e *Engine) VerifyFill(ctx context.Context, actor auth.Actor, id string, approve bool, notes string) (*prescription.Prescription, error) {
	return e.step(ctx, "verify_fill", actor, auth.LevelPharmacist, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		to := prescription.StateReady
		if !approve {
			to = prescription.StateFilling
		}
		if err := requireState(p, prescription.StateVerification, to); err != nil {
			return err
		}
		f, err := currentFill(ctx, tx, p.ID)
		if err != nil {
			return err
		}

		if !approve {
			if strings.TrimSpace(notes) == "" {
				return apperr.Validation("rejection notes are required")
			}
			if err := e.returnFill(ctx, tx, u, p, f, notes); err != nil {
				return err
			}
			if err := e.transition(u, p, prescription.StateFilling, "verification rejected", notes); err != nil {
				return err
			}
			_, err := e.openFill(ctx, tx, u, p)
			return err
		}

		if p.IsControlled() {
			if err := e.checkPDMP(ctx, tx, p); err != nil {
				return err
			}
		}
		if err := f.Verify(actor.StaffID, notes, u.now); err != nil {
			return err
		}
		if err := tx.UpdateFill(ctx, f); err != nil {
			return fmt.Errorf("update fill: %w", err)
		}
		u.record(f.ID, &audit.FillUpdate{PrescriptionID: p.ID, FillNumber: f.FillNumber, Status: string(f.Status), Notes: notes})
		if err := e.transition(u, p, prescription.StateReady, "verified", notes); err != nil {
			return err
		}
		return e.willcall.register(ctx, tx, u, p)
	})
}

// checkPDMP refuses controlled verification while the latest registry
// assessment is unreviewed high risk, or was reviewed with a refusal
func (e *Engine) checkPDMP(ctx context.Context, tx store.Tx, p *prescription.Prescription) error {
	snap, err := tx.LatestSnapshot(ctx, p.PatientID)
	if err != nil {
		return err
	}
	if snap == nil {
		if e.config.RequirePDMPForControlled {
			return apperr.Precondition(apperr.CodePDMPReviewRequired,
				"controlled prescription %s requires a PDMP query before verification", p.ID)
		}
		return nil
	}
	if snap.NeedsReview() {
		return apperr.Precondition(apperr.CodePDMPReviewRequired,
			"PDMP snapshot %s is %s risk and has not been reviewed", snap.ID, snap.Assessment.RiskLevel).
			WithDetail("snapshot_id", snap.ID)
	}
	if snap.Review != nil && snap.Review.Decision == risk.DecisionRefuse {
		return apperr.Precondition(apperr.CodePDMPReviewRequired,
			"PDMP review %s refused dispensing", snap.ID).
			WithDetail("snapshot_id", snap.ID)
	}
	return nil
}

// returnFill backs out a fill, restocking dispensed product
func (e *Engine) returnFill(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription, f *prescription.Fill, reason string) error {
	restock, err := f.Return(reason, u.now)
	if err != nil {
		return err
	}
	if restock {
		if _, _, err := tx.AdjustInventory(ctx, f.DispensedNDC, f.QuantityDispensed); err != nil {
			return err
		}
		p.QuantityRemaining += f.QuantityDispensed
	}
	if err := tx.UpdateFill(ctx, f); err != nil {
		return fmt.Errorf("update fill: %w", err)
	}
	u.record(f.ID, &audit.FillUpdate{
		PrescriptionID:    p.ID,
		FillNumber:        f.FillNumber,
		Status:            string(f.Status),
		DispensedNDC:      f.DispensedNDC,
		QuantityDispensed: f.QuantityDispensed,
		Notes:             reason,
	})
	return nil
}

// Cancel terminates a non-terminal prescription. Claims that are pending or
// paid are reversed, an open fill is returned and any will-call bin released.
func (e *Engine) Cancel(ctx context.Context, actor auth.Actor, id, reason string) (*prescription.Prescription, error) {
	return e.step(ctx, "cancel", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if len(strings.TrimSpace(reason)) < e.config.CancelReasonMinLength {
			return apperr.Validation("cancel reason must be at least %d characters", e.config.CancelReasonMinLength)
		}
		if !prescription.CanTransition(p.State, prescription.StateCancelled) {
			return apperr.InvalidTransition(string(p.State), string(prescription.StateCancelled))
		}

		cs, err := tx.ListClaims(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, c := range cs {
			if c.Status == claims.StatusSubmitted {
				return apperr.Conflict(apperr.CodeClaimActive, "claim %s is awaiting adjudication", c.ID)
			}
			if c.Status == claims.StatusPending || c.Status.IsPaid() {
				if err := c.Reverse(u.now); err != nil {
					return err
				}
				if err := tx.UpdateClaim(ctx, c); err != nil {
					return fmt.Errorf("update claim: %w", err)
				}
				u.record(c.ID, &audit.ClaimResolution{PrescriptionID: p.ID, Resolution: "reversed_on_cancel"})
			}
		}

		f, err := currentFill(ctx, tx, p.ID)
		switch {
		case err == nil:
			if err := e.returnFill(ctx, tx, u, p, f, reason); err != nil {
				return err
			}
		case apperr.KindOf(err) != apperr.KindNotFound:
			return err
		}
		if _, err := e.willcall.release(ctx, tx, p.ID, u); err != nil {
			return err
		}

		if err := e.transition(u, p, prescription.StateCancelled, strings.TrimSpace(reason), ""); err != nil {
			return err
		}
		return u.emit(prescription.TopicWorkflowEvents, p, prescription.EventPrescriptionCancelled, prescription.TransitionedData{
			PrescriptionID: p.ID,
			FromState:      u.history[len(u.history)-1].FromState,
			ToState:        prescription.StateCancelled,
			ActorStaffID:   actor.StaffID,
			Reason:         p.CancelReason,
			At:             u.now,
		})
	})
}

// Assign hands the prescription to staffID. Re-assigning the current
// assignee is a no-op; overwrites are never refused but always logged.
func (e *Engine) Assign(ctx context.Context, actor auth.Actor, id, staffID string) (*prescription.Prescription, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, apperr.Validation("staff_id is required")
	}
	return e.step(ctx, "assign", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		previous := p.AssignedToStaffID
		h, changed := p.Assign(staffID, actor.StaffID, u.now)
		if !changed {
			return nil
		}
		u.history = append(u.history, h)
		u.record(p.ID, &audit.Assignment{Previous: previous, Assigned: staffID})
		return nil
	})
}

// PlaceOnHold flags the prescription; only cancellation proceeds while held
func (e *Engine) PlaceOnHold(ctx context.Context, actor auth.Actor, id, reason string) (*prescription.Prescription, error) {
	return e.step(ctx, "place_on_hold", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if err := p.PlaceOnHold(reason, u.now); err != nil {
			return err
		}
		u.record(p.ID, &audit.Hold{Placed: true, Reason: reason})
		return nil
	})
}

// ReleaseHold clears the hold flag
func (e *Engine) ReleaseHold(ctx context.Context, actor auth.Actor, id string) (*prescription.Prescription, error) {
	return e.step(ctx, "release_hold", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if err := p.ReleaseHold(u.now); err != nil {
			return err
		}
		u.record(p.ID, &audit.Hold{Placed: false})
		return nil
	})
}

// UpdateFields applies allow-listed edits. Any refused field aborts the whole update.
func (e *Engine) UpdateFields(ctx context.Context, actor auth.Actor, id string, fields map[string]string) (*prescription.Prescription, error) {
	if len(fields) == 0 {
		return nil, apperr.Validation("no fields to update")
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	return e.step(ctx, "update_fields", actor, auth.LevelTechnician, id, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		for _, name := range names {
			old, err := p.SetField(name, fields[name], u.now)
			if err != nil {
				return err
			}
			u.record(p.ID, &audit.FieldUpdate{Field: name, OldValue: old, NewValue: fields[name]})
		}
		return nil
	})
}

// step loads one prescription, applies fn and returns the updated copy
func (e *Engine) step(ctx context.Context, op string, actor auth.Actor, min auth.PermissionLevel, id string, fn func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error) (*prescription.Prescription, error) {
	var out *prescription.Prescription
	_, err := e.run(ctx, op, actor, min, func(ctx context.Context, tx store.Tx, u *unit) error {
		p, err := e.load(ctx, tx, u, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, u, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}
