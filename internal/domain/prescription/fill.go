package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// FillStatus tracks one physical dispensing attempt
type FillStatus string

const (
	FillFilling  FillStatus = "filling"
	FillFilled   FillStatus = "filled"
	FillVerified FillStatus = "verified"
	FillSold     FillStatus = "sold"
	FillReturned FillStatus = "returned"
)

// IsOpen reports whether the fill still holds product that has not left the pharmacy
func (s FillStatus) IsOpen() bool {
	return s == FillFilling || s == FillFilled || s == FillVerified
}

// Fill is a single dispensing attempt for a prescription
type Fill struct {
	ID                string     `json:"id"`
	PrescriptionID    string     `json:"prescription_id"`
	FillNumber        int        `json:"fill_number"`
	Status            FillStatus `json:"status"`
	DispensedNDC      string     `json:"dispensed_ndc,omitempty"`
	LotNumber         string     `json:"lot_number,omitempty"`
	ExpirationDate    *time.Time `json:"expiration_date,omitempty"`
	QuantityDispensed float64    `json:"quantity_dispensed"`
	DaysSupply        int        `json:"days_supply"`
	FilledBy          string     `json:"filled_by,omitempty"`
	FilledAt          *time.Time `json:"filled_at,omitempty"`
	VerifiedBy        string     `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNotes string     `json:"verification_notes,omitempty"`
	ReturnReason      string     `json:"return_reason,omitempty"`
	InventoryRestored bool       `json:"inventory_restored"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// FillDetails is what the technician records when product is counted
type FillDetails struct {
	DispensedNDC      string     `json:"dispensed_ndc"`
	LotNumber         string     `json:"lot_number"`
	ExpirationDate    *time.Time `json:"expiration_date,omitempty"`
	QuantityDispensed float64    `json:"quantity_dispensed"`
}

// NewFill opens fill number n for the prescription
func NewFill(p *Prescription, n int, now time.Time) *Fill {
	return &Fill{
		ID:             uuid.New().String(),
		PrescriptionID: p.ID,
		FillNumber:     n,
		Status:         FillFilling,
		DaysSupply:     p.DaysSupply,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Complete records dispensed product; filling -> filled
func (f *Fill) Complete(d FillDetails, staffID string, at time.Time) error {
	if f.Status != FillFilling {
		return apperr.InvalidTransition("fill:"+string(f.Status), "fill:"+string(FillFilled))
	}
	if d.QuantityDispensed <= 0 {
		return apperr.Validation("quantity_dispensed must be positive")
	}
	if d.ExpirationDate != nil && !d.ExpirationDate.After(at) {
		return apperr.Validation("dispensed lot %s is expired", d.LotNumber)
	}
	f.Status = FillFilled
	f.DispensedNDC = d.DispensedNDC
	f.LotNumber = d.LotNumber
	f.ExpirationDate = d.ExpirationDate
	f.QuantityDispensed = d.QuantityDispensed
	f.FilledBy = staffID
	f.FilledAt = &at
	f.UpdatedAt = at
	return nil
}

// Verify records pharmacist sign-off; filled -> verified
func (f *Fill) Verify(pharmacistID, notes string, at time.Time) error {
	if f.Status != FillFilled {
		return apperr.InvalidTransition("fill:"+string(f.Status), "fill:"+string(FillVerified))
	}
	f.Status = FillVerified
	f.VerifiedBy = pharmacistID
	f.VerifiedAt = &at
	f.VerificationNotes = notes
	f.UpdatedAt = at
	return nil
}

// MarkSold closes the fill at pickup; verified -> sold
func (f *Fill) MarkSold(at time.Time) error {
	if f.Status != FillVerified {
		return apperr.InvalidTransition("fill:"+string(f.Status), "fill:"+string(FillSold))
	}
	f.Status = FillSold
	f.UpdatedAt = at
	return nil
}

// Return sends the fill back; it reports whether dispensed product must be restocked
func (f *Fill) Return(reason string, at time.Time) (bool, error) {
	if !f.Status.IsOpen() {
		return false, apperr.InvalidTransition("fill:"+string(f.Status), "fill:"+string(FillReturned))
	}
	restock := f.Status != FillFilling && f.QuantityDispensed > 0
	f.Status = FillReturned
	f.ReturnReason = reason
	f.InventoryRestored = restock
	f.UpdatedAt = at
	return restock, nil
}
