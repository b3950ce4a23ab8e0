package prescription

import (
	"strings"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/domain/codes"
)

// Limits applied at intake
const (
	MinDaysSupply = 1
	MaxDaysSupply = 365
	MaxRefills    = 99
)

const day = 24 * time.Hour

// ExpiryWindow is how long after the written date a prescription may be filled
func ExpiryWindow(s DEASchedule) time.Duration {
	switch s {
	case ScheduleII:
		return 90 * day
	case ScheduleIII, ScheduleIV, ScheduleV:
		return 180 * day
	default:
		return 365 * day
	}
}

// CreateRequest carries everything needed to open a prescription in INTAKE
type CreateRequest struct {
	PatientID         string      `json:"patient_id"`
	PrescriberID      string      `json:"prescriber_id"`
	PrescriberNPI     string      `json:"prescriber_npi"`
	PrescriberDEA     string      `json:"prescriber_dea,omitempty"`
	DrugNDC           string      `json:"drug_ndc"`
	DrugName          string      `json:"drug_name"`
	InsurancePlanID   string      `json:"insurance_plan_id,omitempty"`
	DEASchedule       DEASchedule `json:"dea_schedule,omitempty"`
	Priority          Priority    `json:"priority,omitempty"`
	QuantityWritten   float64     `json:"quantity_written"`
	DaysSupply        int         `json:"days_supply"`
	RefillsAuthorized int         `json:"refills_authorized"`
	SigText           string      `json:"sig_text,omitempty"`
	DAWCode           int         `json:"daw_code"`
	Notes             string      `json:"notes,omitempty"`
	WrittenDate       time.Time   `json:"written_date"`
	PromiseTime       *time.Time  `json:"promise_time,omitempty"`
}

func (r *CreateRequest) normalizedNDC() string {
	if ndc, ok := codes.NormalizeNDC(r.DrugNDC); ok {
		return ndc
	}
	return r.DrugNDC
}

// Validate checks the request against dispensing law and identifier shape.
// Expiry is reported as PreconditionFailed so callers can tell it apart from
// malformed input.
func (r *CreateRequest) Validate(now time.Time) error {
	var problems []string

	if strings.TrimSpace(r.PatientID) == "" {
		problems = append(problems, "patient_id is required")
	}
	if strings.TrimSpace(r.DrugName) == "" {
		problems = append(problems, "drug_name is required")
	}
	if _, ok := codes.NormalizeNDC(r.DrugNDC); !ok {
		problems = append(problems, "drug_ndc must normalize to 11 digits")
	}
	if !codes.ValidNPI(r.PrescriberNPI) {
		problems = append(problems, "prescriber_npi is not a valid NPI")
	}
	if r.QuantityWritten <= 0 {
		problems = append(problems, "quantity_written must be greater than 0")
	}
	if r.DaysSupply < MinDaysSupply || r.DaysSupply > MaxDaysSupply {
		problems = append(problems, "days_supply must be between 1 and 365")
	}
	if r.RefillsAuthorized < 0 || r.RefillsAuthorized > MaxRefills {
		problems = append(problems, "refills_authorized must be between 0 and 99")
	}
	if r.Priority != "" && !r.Priority.IsValid() {
		problems = append(problems, "priority must be STAT, URGENT or NORMAL")
	}
	if r.DAWCode < 0 || r.DAWCode > 9 {
		problems = append(problems, "daw_code must be 0-9")
	}
	if r.WrittenDate.IsZero() {
		problems = append(problems, "written_date is required")
	} else if r.WrittenDate.After(now) {
		problems = append(problems, "written_date cannot be in the future")
	}
	if r.DEASchedule.IsControlled() {
		if !codes.ValidDEA(r.PrescriberDEA) {
			problems = append(problems, "prescriber_dea is required for controlled substances")
		}
		if r.DEASchedule == ScheduleII && r.RefillsAuthorized > 0 {
			problems = append(problems, "schedule II prescriptions cannot have refills")
		}
	}

	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; ")).WithDetail("violations", problems)
	}

	if now.Sub(r.WrittenDate) > ExpiryWindow(r.DEASchedule) {
		return apperr.Precondition(apperr.CodePrescriptionExpired,
			"prescription written %s is past the %d day fill window",
			r.WrittenDate.Format("2006-01-02"), int(ExpiryWindow(r.DEASchedule)/day)).
			WithDetail("dea_schedule", string(r.DEASchedule))
	}
	return nil
}
