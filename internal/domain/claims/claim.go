// Package claims submits pharmacy claims to a pluggable switch, prices the
// patient's share and drives rejection resolution.
package claims

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// Status of a claim transaction
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusPaid      Status = "paid"
	StatusRejected  Status = "rejected"
	StatusReversed  Status = "reversed"
	StatusPartial   Status = "partial"
)

// IsActive reports whether the claim has not reached a terminal outcome.
// At most one active claim may exist per fill.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusSubmitted
}

// IsPaid reports whether the payer accepted some or all of the claim
func (s Status) IsPaid() bool {
	return s == StatusPaid || s == StatusPartial
}

// Request is the billing request sent to the switch
type Request struct {
	ClaimID           string          `json:"claim_id"`
	PrescriptionID    string          `json:"prescription_id"`
	FillNumber        int             `json:"fill_number"`
	BIN               string          `json:"bin"`
	PCN               string          `json:"pcn,omitempty"`
	GroupID           string          `json:"group_id,omitempty"`
	MemberID          string          `json:"member_id"`
	NDC               string          `json:"ndc"`
	Quantity          float64         `json:"quantity"`
	DaysSupply        int             `json:"days_supply"`
	PrescriberNPI     string          `json:"prescriber_npi"`
	PharmacyNPI       string          `json:"pharmacy_npi"`
	DAWCode           int             `json:"daw_code"`
	IngredientCost    decimal.Decimal `json:"ingredient_cost"`
	DispensingFee     decimal.Decimal `json:"dispensing_fee"`
	ClarificationCode string          `json:"clarification_code,omitempty"`
}

// TotalCost is the gross amount billed
func (r *Request) TotalCost() decimal.Decimal {
	return r.IngredientCost.Add(r.DispensingFee)
}

// Response is the switch's adjudication result. A rejection is a normal
// response, never an error.
type Response struct {
	Status              Status          `json:"status"`
	AuthorizationNumber string          `json:"authorization_number,omitempty"`
	Rejects             []Reject        `json:"rejects,omitempty"`
	InsurancePaid       decimal.Decimal `json:"insurance_paid"`
	Copay               decimal.Decimal `json:"copay"`
	DeductibleRemaining decimal.Decimal `json:"deductible_remaining"`
	CoinsurancePercent  decimal.Decimal `json:"coinsurance_percent"`
	Message             string          `json:"message,omitempty"`
}

// RejectCodes lists the codes carried by the response
func (r *Response) RejectCodes() []string {
	out := make([]string, 0, len(r.Rejects))
	for _, rj := range r.Rejects {
		out = append(out, rj.Code)
	}
	return out
}

// HasRejectCode reports whether the response carries code
func (r *Response) HasRejectCode(code string) bool {
	for _, rj := range r.Rejects {
		if rj.Code == code {
			return true
		}
	}
	return false
}

// Claim is one insurance submission tied to a prescription fill
type Claim struct {
	ID                  string          `json:"id"`
	PrescriptionID      string          `json:"prescription_id"`
	FillNumber          int             `json:"fill_number"`
	BIN                 string          `json:"bin"`
	PCN                 string          `json:"pcn,omitempty"`
	GroupID             string          `json:"group_id,omitempty"`
	MemberID            string          `json:"member_id"`
	Status              Status          `json:"status"`
	Rejects             []Reject        `json:"rejects,omitempty"`
	ClarificationCode   string          `json:"clarification_code,omitempty"`
	SubmissionCount     int             `json:"submission_count"`
	AuthorizationNumber string          `json:"authorization_number,omitempty"`
	PriorAuthNumber     string          `json:"prior_auth_number,omitempty"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	InsurancePaid       decimal.Decimal `json:"insurance_paid"`
	Pay                 PatientPay      `json:"patient_pay"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
	AdjudicatedAt       *time.Time      `json:"adjudicated_at,omitempty"`
	ReversedAt          *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Coverage identifies the payer routing for a patient plan
type Coverage struct {
	BIN      string `json:"bin"`
	PCN      string `json:"pcn,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
	MemberID string `json:"member_id"`
}

// NewClaim opens a pending claim for a prescription fill
func NewClaim(prescriptionID string, fillNumber int, cov Coverage, now time.Time) *Claim {
	return &Claim{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID,
		FillNumber:     fillNumber,
		BIN:            cov.BIN,
		PCN:            cov.PCN,
		GroupID:        cov.GroupID,
		MemberID:       cov.MemberID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RejectCodes lists the codes from the last adjudication
func (c *Claim) RejectCodes() []string {
	out := make([]string, 0, len(c.Rejects))
	for _, rj := range c.Rejects {
		out = append(out, rj.Code)
	}
	return out
}

// MarkSubmitted moves a pending claim onto the wire
func (c *Claim) MarkSubmitted(at time.Time) error {
	if c.Status != StatusPending {
		return apperr.Conflict(apperr.CodeDuplicateSubmission,
			"claim %s is %s, only pending claims can be submitted", c.ID, c.Status)
	}
	c.Status = StatusSubmitted
	c.SubmissionCount++
	c.SubmittedAt = &at
	c.UpdatedAt = at
	return nil
}

// Requeue returns a submitted claim to pending after a failed delivery
func (c *Claim) Requeue(at time.Time) {
	if c.Status == StatusSubmitted {
		c.Status = StatusPending
		c.UpdatedAt = at
	}
}

// ApplyResponse records the switch outcome and prices the patient share
func (c *Claim) ApplyResponse(req *Request, resp *Response, at time.Time) error {
	if c.Status != StatusSubmitted {
		return apperr.Precondition(apperr.CodeClaimNotResolvable,
			"claim %s is %s, expected submitted", c.ID, c.Status)
	}
	c.Status = resp.Status
	c.Rejects = resp.Rejects
	c.AuthorizationNumber = resp.AuthorizationNumber
	c.TotalCost = req.TotalCost()
	c.AdjudicatedAt = &at
	c.UpdatedAt = at
	if resp.Status.IsPaid() {
		c.InsurancePaid = resp.InsurancePaid
		c.Pay = CalculatePatientPay(c.TotalCost, resp.InsurancePaid, resp.Copay,
			resp.DeductibleRemaining, resp.CoinsurancePercent)
	} else {
		c.InsurancePaid = decimal.Zero
		c.Pay = PatientPay{}
	}
	return nil
}

// Reverse terminally backs the claim out
func (c *Claim) Reverse(at time.Time) error {
	if c.Status == StatusReversed {
		return apperr.Precondition(apperr.CodeClaimNotResolvable, "claim %s already reversed", c.ID)
	}
	if c.Status == StatusSubmitted {
		return apperr.Conflict(apperr.CodeClaimActive, "claim %s is awaiting adjudication", c.ID)
	}
	c.Status = StatusReversed
	c.ReversedAt = &at
	c.UpdatedAt = at
	return nil
}
