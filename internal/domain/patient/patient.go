// Package patient holds the patient record consulted by safety review, PDMP
// queries and billing.
package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// Patient is the demographic and clinical profile on file
type Patient struct {
	ID              string    `json:"id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	DateOfBirth     time.Time `json:"date_of_birth"`
	Gender          string    `json:"gender,omitempty"`
	ZipCode         string    `json:"zip_code,omitempty"`
	State           string    `json:"state,omitempty"`
	IsPregnant      bool      `json:"is_pregnant"`
	Allergies       []string  `json:"allergies"`
	Conditions      []string  `json:"conditions"`
	InsurancePlanID string    `json:"insurance_plan_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// New validates and builds a patient record
func New(p Patient, now time.Time) (*Patient, error) {
	var problems []string
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		problems = append(problems, "first_name and last_name are required")
	}
	if p.DateOfBirth.IsZero() || p.DateOfBirth.After(now) {
		problems = append(problems, "date_of_birth must be in the past")
	}
	if p.State != "" && len(p.State) != 2 {
		problems = append(problems, "state must be a two-letter code")
	}
	if len(problems) > 0 {
		return nil, apperr.Validation("%s", strings.Join(problems, "; ")).WithDetail("violations", problems)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	if p.Conditions == nil {
		p.Conditions = []string{}
	}
	p.State = strings.ToUpper(p.State)
	p.CreatedAt = now
	p.UpdatedAt = now
	return &p, nil
}

// AgeAt returns completed years at t
func (p *Patient) AgeAt(t time.Time) int {
	dob := p.DateOfBirth
	years := t.Year() - dob.Year()
	if t.Month() < dob.Month() || (t.Month() == dob.Month() && t.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
