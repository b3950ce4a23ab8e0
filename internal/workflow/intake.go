package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/claims"
	"github.com/drfirst/go-rxworkflow/internal/domain/codes"
	"github.com/drfirst/go-rxworkflow/internal/domain/dur"
	"github.com/drfirst/go-rxworkflow/internal/domain/patient"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// Intake sources
const (
	SourceManual = "manual"
	SourceNCPDP  = "ncpdp_newrx"
	SourceRefill = "refill"
)

// DUROverride lets a pharmacist create a prescription despite high-severity alerts
type DUROverride struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// CreateResult is a new prescription with the review that gated it
type CreateResult struct {
	Prescription *prescription.Prescription `json:"prescription"`
	Alerts       []*dur.Alert               `json:"dur_alerts"`
}

// CreatePrescription validates, reviews and opens a prescription in INTAKE.
// Unresolved high-severity DUR alerts refuse creation with a recoverable
// DUR_HIGH_SEVERITY error unless override is supplied.
func (e *Engine) CreatePrescription(ctx context.Context, actor auth.Actor, req *prescription.CreateRequest, override *DUROverride, source string) (*CreateResult, error) {
	if source == "" {
		source = SourceManual
	}
	var res *CreateResult
	_, err := e.run(ctx, "create_prescription", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		if err := req.Validate(u.now); err != nil {
			return err
		}
		pat, err := tx.GetPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if req.InsurancePlanID != "" {
			plan, err := tx.GetPlan(ctx, req.InsurancePlanID)
			if err != nil {
				return err
			}
			if plan.PatientID != pat.ID {
				return apperr.Validation("insurance plan %s does not belong to patient %s", plan.ID, pat.ID)
			}
		}

		profile, err := e.profile(ctx, tx, pat, "", u)
		if err != nil {
			return err
		}
		review := e.dur.Evaluate(req.DrugName, profile)
		if blocking := review.Blocking(); len(blocking) > 0 {
			if override == nil {
				return durBlocked(blocking)
			}
			if err := actor.Require(auth.LevelPharmacist, "override DUR alert"); err != nil {
				return err
			}
			for _, a := range blocking {
				if err := a.Override(actor.StaffID, override.Reason, override.Code, e.config.OverrideReasonMinLength, u.now); err != nil {
					return err
				}
			}
		}

		p := prescription.New(req, u.now)
		for _, a := range review.Alerts {
			a.PrescriptionID = p.ID
		}
		if err := tx.InsertPrescription(ctx, p); err != nil {
			return fmt.Errorf("insert prescription: %w", err)
		}
		if len(review.Alerts) > 0 {
			if err := tx.InsertDURAlerts(ctx, review.Alerts); err != nil {
				return fmt.Errorf("insert dur alerts: %w", err)
			}
		}

		overridden := 0
		for _, a := range review.Alerts {
			if a.IsOverridden {
				overridden++
				u.record(a.ID, &audit.DUROverride{
					PrescriptionID: p.ID,
					AlertType:      string(a.Type),
					Severity:       string(a.Severity),
					Code:           a.OverrideCode,
					Reason:         a.OverrideReason,
				})
			}
		}
		u.record(p.ID, &audit.Created{
			DrugNDC:          p.DrugNDC,
			DrugName:         p.DrugName,
			DEASchedule:      string(p.DEASchedule),
			Priority:         string(p.Priority),
			Source:           source,
			DURAlerts:        len(review.Alerts),
			OverriddenAlerts: overridden,
		})
		if err := u.emit(prescription.TopicWorkflowEvents, p, prescription.EventPrescriptionCreated, prescription.CreatedData{
			PrescriptionID: p.ID,
			DrugNDC:        p.DrugNDC,
			DrugName:       p.DrugName,
			DEASchedule:    p.DEASchedule,
			Priority:       p.Priority,
		}); err != nil {
			return err
		}

		res = &CreateResult{Prescription: p, Alerts: review.Alerts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, a := range res.Alerts {
		e.metrics.RecordDURAlert(string(a.Severity))
	}
	e.logger.Info("prescription created",
		zap.String("prescription_id", res.Prescription.ID),
		zap.String("source", source),
		zap.Int("dur_alerts", len(res.Alerts)))
	return res, nil
}

func durBlocked(blocking []*dur.Alert) error {
	msgs := make([]string, 0, len(blocking))
	for _, a := range blocking {
		msgs = append(msgs, a.Message)
	}
	err := apperr.Precondition(apperr.CodeDURHighSeverity,
		"%d unresolved high-severity DUR alert(s): %s", len(blocking), strings.Join(msgs, "; ")).
		WithDetail("alerts", blocking)
	err.Recoverable = true
	return err
}

// profile assembles the clinical context for a safety review
func (e *Engine) profile(ctx context.Context, r store.Reader, pat *patient.Patient, excludeID string, u *unit) (dur.PatientProfile, error) {
	active, err := r.ListPrescriptions(ctx, store.PrescriptionFilter{PatientID: pat.ID})
	if err != nil {
		return dur.PatientProfile{}, err
	}
	var meds []string
	seen := make(map[string]bool)
	for _, p := range active {
		if p.ID == excludeID || p.State == prescription.StateCancelled || p.State == prescription.StateReturnedToStock {
			continue
		}
		if p.State == prescription.StateSold && p.UpdatedAt.AddDate(0, 0, p.DaysSupply).Before(u.now) {
			continue
		}
		key := strings.ToLower(p.DrugName)
		if !seen[key] {
			seen[key] = true
			meds = append(meds, p.DrugName)
		}
	}
	return dur.PatientProfile{
		PatientID:         pat.ID,
		AgeYears:          pat.AgeAt(u.now),
		IsPregnant:        pat.IsPregnant,
		Allergies:         pat.Allergies,
		Conditions:        pat.Conditions,
		ActiveMedications: meds,
	}, nil
}

// OverrideDURAlert records a pharmacist override on an existing alert
func (e *Engine) OverrideDURAlert(ctx context.Context, actor auth.Actor, alertID string, ov DUROverride) (*dur.Alert, error) {
	var out *dur.Alert
	_, err := e.run(ctx, "override_dur_alert", actor, auth.LevelPharmacist, func(ctx context.Context, tx store.Tx, u *unit) error {
		a, err := tx.GetDURAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if err := a.Override(actor.StaffID, ov.Reason, ov.Code, e.config.OverrideReasonMinLength, u.now); err != nil {
			return err
		}
		if err := tx.UpdateDURAlert(ctx, a); err != nil {
			return fmt.Errorf("update dur alert: %w", err)
		}
		u.record(a.ID, &audit.DUROverride{
			PrescriptionID: a.PrescriptionID,
			AlertType:      string(a.Type),
			Severity:       string(a.Severity),
			Code:           a.OverrideCode,
			Reason:         a.OverrideReason,
		})
		out = a
		return nil
	})
	return out, err
}

// RequestRefill opens the next refill of a sold prescription in INTAKE
func (e *Engine) RequestRefill(ctx context.Context, actor auth.Actor, prescriptionID string) (*prescription.Prescription, error) {
	var refill *prescription.Prescription
	_, err := e.run(ctx, "request_refill", actor, auth.LevelClerk, func(ctx context.Context, tx store.Tx, u *unit) error {
		p, err := e.load(ctx, tx, u, prescriptionID)
		if err != nil {
			return err
		}
		next, err := p.NewRefill(u.now)
		if err != nil {
			return err
		}

		siblings, err := tx.ListPrescriptions(ctx, store.PrescriptionFilter{PatientID: p.PatientID})
		if err != nil {
			return err
		}
		for _, s := range siblings {
			if s.OriginalPrescriptionID == next.OriginalPrescriptionID && s.RefillNumber == next.RefillNumber &&
				s.State != prescription.StateCancelled {
				return apperr.Conflict(apperr.CodeNotRefillable,
					"refill %d already requested as %s", next.RefillNumber, s.ID).
					WithDetail("refill_prescription_id", s.ID)
			}
		}

		if err := tx.InsertPrescription(ctx, next); err != nil {
			return fmt.Errorf("insert refill: %w", err)
		}
		u.record(p.ID, &audit.Refill{RefillPrescriptionID: next.ID, RefillNumber: next.RefillNumber})
		u.record(next.ID, &audit.Created{
			DrugNDC:     next.DrugNDC,
			DrugName:    next.DrugName,
			DEASchedule: string(next.DEASchedule),
			Priority:    string(next.Priority),
			Source:      SourceRefill,
		})
		if err := u.emit(prescription.TopicWorkflowEvents, next, prescription.EventPrescriptionCreated, prescription.CreatedData{
			PrescriptionID:         next.ID,
			DrugNDC:                next.DrugNDC,
			DrugName:               next.DrugName,
			DEASchedule:            next.DEASchedule,
			Priority:               next.Priority,
			RefillNumber:           next.RefillNumber,
			OriginalPrescriptionID: next.OriginalPrescriptionID,
		}); err != nil {
			return err
		}
		refill = next
		return nil
	})
	return refill, err
}

// RegisterPatient stores a patient profile
func (e *Engine) RegisterPatient(ctx context.Context, actor auth.Actor, in patient.Patient) (*patient.Patient, error) {
	var out *patient.Patient
	_, err := e.run(ctx, "register_patient", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		p, err := patient.New(in, u.now)
		if err != nil {
			return err
		}
		if err := tx.SavePatient(ctx, p); err != nil {
			return fmt.Errorf("save patient: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// RegisterPlan links an insurance plan to a patient
func (e *Engine) RegisterPlan(ctx context.Context, actor auth.Actor, plan claims.Plan) (*claims.Plan, error) {
	var out *claims.Plan
	_, err := e.run(ctx, "register_plan", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		if _, err := tx.GetPatient(ctx, plan.PatientID); err != nil {
			return err
		}
		if !codes.ValidBIN(plan.Coverage.BIN) {
			return apperr.Validation("bin must be 6 digits")
		}
		if strings.TrimSpace(plan.Coverage.MemberID) == "" {
			return apperr.Validation("member_id is required")
		}
		if plan.ID == "" {
			plan.ID = uuid.New().String()
		}
		plan.CreatedAt = u.now
		if err := tx.SavePlan(ctx, &plan); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
		out = &plan
		return nil
	})
	return out, err
}

// SetInventory starts tracking on-hand stock for an NDC
func (e *Engine) SetInventory(ctx context.Context, actor auth.Actor, ndc string, onHand float64) error {
	norm, ok := codes.NormalizeNDC(ndc)
	if !ok {
		return apperr.Validation("ndc %q must normalize to 11 digits", ndc)
	}
	_, err := e.run(ctx, "set_inventory", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		return tx.SetInventory(ctx, norm, onHand)
	})
	return err
}
