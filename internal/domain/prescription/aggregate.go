// Package prescription implements the prescription aggregate and its workflow state graph.
package prescription

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// Prescription is the aggregate root owned by the workflow engine. It is
// mutated only through the methods below and never deleted.
type Prescription struct {
	ID                     string      `json:"id"`
	Version                int         `json:"version"`
	State                  State       `json:"state"`
	Priority               Priority    `json:"priority"`
	IsOnHold               bool        `json:"is_on_hold"`
	HoldReason             string      `json:"hold_reason,omitempty"`
	PatientID              string      `json:"patient_id"`
	PrescriberID           string      `json:"prescriber_id"`
	PrescriberNPI          string      `json:"prescriber_npi"`
	PrescriberDEA          string      `json:"prescriber_dea,omitempty"`
	DrugNDC                string      `json:"drug_ndc"`
	DrugName               string      `json:"drug_name"`
	InsurancePlanID        string      `json:"insurance_plan_id,omitempty"`
	DEASchedule            DEASchedule `json:"dea_schedule,omitempty"`
	QuantityWritten        float64     `json:"quantity_written"`
	QuantityRemaining      float64     `json:"quantity_remaining"`
	DaysSupply             int         `json:"days_supply"`
	RefillsAuthorized      int         `json:"refills_authorized"`
	RefillsRemaining       int         `json:"refills_remaining"`
	RefillNumber           int         `json:"refill_number"`
	OriginalPrescriptionID string      `json:"original_prescription_id,omitempty"`
	SigText                string      `json:"sig_text,omitempty"`
	DAWCode                int         `json:"daw_code"`
	Notes                  string      `json:"notes,omitempty"`
	WrittenDate            time.Time   `json:"written_date"`
	PromiseTime            *time.Time  `json:"promise_time,omitempty"`
	AssignedToStaffID      string      `json:"assigned_to_staff_id,omitempty"`
	CancelReason           string      `json:"cancel_reason,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// New builds a prescription in INTAKE from a validated request
func New(req *CreateRequest, now time.Time) *Prescription {
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	return &Prescription{
		ID:                uuid.New().String(),
		Version:           1,
		State:             StateIntake,
		Priority:          priority,
		PatientID:         req.PatientID,
		PrescriberID:      req.PrescriberID,
		PrescriberNPI:     req.PrescriberNPI,
		PrescriberDEA:     req.PrescriberDEA,
		DrugNDC:           req.normalizedNDC(),
		DrugName:          req.DrugName,
		InsurancePlanID:   req.InsurancePlanID,
		DEASchedule:       req.DEASchedule,
		QuantityWritten:   req.QuantityWritten,
		QuantityRemaining: req.QuantityWritten * float64(req.RefillsAuthorized+1),
		DaysSupply:        req.DaysSupply,
		RefillsAuthorized: req.RefillsAuthorized,
		RefillsRemaining:  req.RefillsAuthorized,
		SigText:           req.SigText,
		DAWCode:           req.DAWCode,
		Notes:             req.Notes,
		WrittenDate:       req.WrittenDate,
		PromiseTime:       req.PromiseTime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsControlled reports whether the drug is schedule II-V
func (p *Prescription) IsControlled() bool { return p.DEASchedule.IsControlled() }

// HasInsurance reports whether an insurance plan is linked
func (p *Prescription) HasInsurance() bool { return p.InsurancePlanID != "" }

// IsExpired reports whether the prescription is past its legal fill window
func (p *Prescription) IsExpired(now time.Time) bool {
	return now.Sub(p.WrittenDate) > ExpiryWindow(p.DEASchedule)
}

// Transition moves the prescription along a legal edge and returns the
// history entry describing it. State is untouched on error.
func (p *Prescription) Transition(to State, actorID, reason, notes string, at time.Time) (*HistoryEntry, error) {
	if !CanTransition(p.State, to) {
		return nil, apperr.InvalidTransition(string(p.State), string(to))
	}
	if p.IsOnHold && to != StateCancelled {
		return nil, apperr.Precondition(apperr.CodeOnHold,
			"prescription %s is on hold: %s", p.ID, p.HoldReason)
	}

	from := p.State
	p.State = to
	p.Version++
	p.UpdatedAt = at
	if to == StateCancelled {
		p.CancelReason = reason
	}

	return newHistoryEntry(p, from, to, actorID, reason, notes, at), nil
}

// Assign sets the working staff member. Re-assigning the current assignee is
// a no-op; any other change yields a history entry so overwrites stay visible.
func (p *Prescription) Assign(staffID, actorID string, at time.Time) (*HistoryEntry, bool) {
	if p.AssignedToStaffID == staffID {
		return nil, false
	}
	previous := p.AssignedToStaffID
	p.AssignedToStaffID = staffID
	p.Version++
	p.UpdatedAt = at

	reason := "assigned to " + staffID
	if previous != "" {
		reason = fmt.Sprintf("reassigned from %s to %s", previous, staffID)
	}
	return newHistoryEntry(p, p.State, p.State, actorID, reason, "", at), true
}

// PlaceOnHold flags the prescription; the flag is orthogonal to state
func (p *Prescription) PlaceOnHold(reason string, at time.Time) error {
	if p.State.IsTerminal() {
		return apperr.InvalidTransition(string(p.State), "HOLD")
	}
	if strings.TrimSpace(reason) == "" {
		return apperr.Validation("hold reason is required")
	}
	p.IsOnHold = true
	p.HoldReason = reason
	p.Version++
	p.UpdatedAt = at
	return nil
}

// ReleaseHold clears the hold flag
func (p *Prescription) ReleaseHold(at time.Time) error {
	if !p.IsOnHold {
		return apperr.Precondition(apperr.CodeOnHold, "prescription %s is not on hold", p.ID)
	}
	p.IsOnHold = false
	p.HoldReason = ""
	p.Version++
	p.UpdatedAt = at
	return nil
}

// Editable fields
const (
	FieldPriority        = "priority"
	FieldPromiseTime     = "promise_time"
	FieldNotes           = "notes"
	FieldSigText         = "sig_text"
	FieldDaysSupply      = "days_supply"
	FieldQuantityWritten = "quantity_written"
)

// preFillOnly are editable only until the prescription reaches FILLING
var preFillOnly = map[string]bool{
	FieldDaysSupply:      true,
	FieldQuantityWritten: true,
}

var editableFields = map[string]bool{
	FieldPriority:        true,
	FieldPromiseTime:     true,
	FieldNotes:           true,
	FieldSigText:         true,
	FieldDaysSupply:      true,
	FieldQuantityWritten: true,
}

// SetField applies an allow-listed edit and returns the previous value
func (p *Prescription) SetField(field, value string, at time.Time) (string, error) {
	if !editableFields[field] {
		return "", apperr.FieldNotEditable(field)
	}
	if p.State.IsTerminal() {
		return "", apperr.FieldNotEditable(field).WithDetail("state", string(p.State))
	}
	if preFillOnly[field] && !p.beforeFilling() {
		return "", apperr.FieldNotEditable(field).WithDetail("state", string(p.State))
	}

	var old string
	switch field {
	case FieldPriority:
		pr := Priority(strings.ToUpper(value))
		if !pr.IsValid() {
			return "", apperr.Validation("invalid priority %q", value)
		}
		old, p.Priority = string(p.Priority), pr
	case FieldPromiseTime:
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return "", apperr.Validation("promise_time must be RFC3339: %v", err)
		}
		if p.PromiseTime != nil {
			old = p.PromiseTime.Format(time.RFC3339)
		}
		p.PromiseTime = &t
	case FieldNotes:
		old, p.Notes = p.Notes, value
	case FieldSigText:
		old, p.SigText = p.SigText, value
	case FieldDaysSupply:
		n, err := strconv.Atoi(value)
		if err != nil || n < MinDaysSupply || n > MaxDaysSupply {
			return "", apperr.Validation("days_supply must be between %d and %d", MinDaysSupply, MaxDaysSupply)
		}
		old = strconv.Itoa(p.DaysSupply)
		p.DaysSupply = n
	case FieldQuantityWritten:
		q, err := strconv.ParseFloat(value, 64)
		if err != nil || q <= 0 {
			return "", apperr.Validation("quantity_written must be positive")
		}
		old = strconv.FormatFloat(p.QuantityWritten, 'f', -1, 64)
		p.QuantityRemaining += (q - p.QuantityWritten) * float64(p.RefillsAuthorized+1)
		p.QuantityWritten = q
	}

	p.Version++
	p.UpdatedAt = at
	return old, nil
}

func (p *Prescription) beforeFilling() bool {
	switch p.State {
	case StateIntake, StateDataEntry, StateDataEntryComplete, StateInsurancePending,
		StateInsuranceRejected, StateDURReview, StatePriorAuthPending, StatePriorAuthApproved:
		return true
	}
	return false
}

// UnlinkInsurance converts the prescription to cash
func (p *Prescription) UnlinkInsurance(at time.Time) {
	p.InsurancePlanID = ""
	p.UpdatedAt = at
}

// NewRefill clones a sold prescription into a new INTAKE prescription for the next refill
func (p *Prescription) NewRefill(now time.Time) (*Prescription, error) {
	if p.State != StateSold {
		return nil, apperr.Precondition(apperr.CodeNotRefillable,
			"only sold prescriptions can be refilled, state is %s", p.State)
	}
	if p.DEASchedule == ScheduleII {
		return nil, apperr.Precondition(apperr.CodeNotRefillable, "schedule II prescriptions cannot be refilled")
	}
	if p.RefillsRemaining <= 0 {
		return nil, apperr.Precondition(apperr.CodeNotRefillable, "no refills remaining")
	}
	if p.IsExpired(now) {
		return nil, apperr.Precondition(apperr.CodePrescriptionExpired, "prescription written %s has expired",
			p.WrittenDate.Format("2006-01-02"))
	}

	original := p.OriginalPrescriptionID
	if original == "" {
		original = p.ID
	}
	refill := *p
	refill.ID = uuid.New().String()
	refill.Version = 1
	refill.State = StateIntake
	refill.IsOnHold = false
	refill.HoldReason = ""
	refill.RefillNumber = p.RefillNumber + 1
	refill.RefillsRemaining = p.RefillsRemaining - 1
	refill.OriginalPrescriptionID = original
	refill.AssignedToStaffID = ""
	refill.CancelReason = ""
	refill.PromiseTime = nil
	refill.CreatedAt = now
	refill.UpdatedAt = now
	return &refill, nil
}
