package willcall

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// VerificationTier is how the person picking up proved identity, weakest first
type VerificationTier string

const (
	TierDOB          VerificationTier = "dob"
	TierAddress      VerificationTier = "address"
	TierPhotoID      VerificationTier = "photo_id"
	TierGovernmentID VerificationTier = "government_id"
)

func (t VerificationTier) rank() int {
	switch t {
	case TierDOB:
		return 1
	case TierAddress:
		return 2
	case TierPhotoID:
		return 3
	case TierGovernmentID:
		return 4
	}
	return 0
}

// AtLeast reports whether t is as strong as min
func (t VerificationTier) AtLeast(min VerificationTier) bool {
	return t.rank() > 0 && t.rank() >= min.rank()
}

// MinimumTier is the weakest verification accepted for the prescription
func MinimumTier(controlled bool) VerificationTier {
	if controlled {
		return TierPhotoID
	}
	return TierDOB
}

// PickupRequest is what the counter clerk captures at hand-off
type PickupRequest struct {
	PrescriptionID     string           `json:"prescription_id"`
	PickedUpBy         string           `json:"picked_up_by"`
	Relationship       string           `json:"relationship,omitempty"`
	VerificationTier   VerificationTier `json:"verification_tier"`
	IdentityVerified   bool             `json:"identity_verified"`
	IDNumberLast4      string           `json:"id_number_last4,omitempty"`
	SignatureCaptured  bool             `json:"signature_captured"`
	SignatureReference string           `json:"signature_reference,omitempty"`
	PaymentCollected   bool             `json:"payment_collected"`
	PaymentMethod      string           `json:"payment_method,omitempty"`
	CounselingOffered  bool             `json:"counseling_offered"`
}

// CheckPickup enforces identity, signature and payment rules. Payment is
// checked last so a PAYMENT_REQUIRED error means identity already passed.
func CheckPickup(req *PickupRequest, controlled bool, patientPay decimal.Decimal) error {
	if strings.TrimSpace(req.PickedUpBy) == "" {
		return apperr.Validation("picked_up_by is required")
	}
	min := MinimumTier(controlled)
	if !req.IdentityVerified || !req.VerificationTier.AtLeast(min) {
		return apperr.Precondition(apperr.CodeIdentityNotVerified,
			"pickup requires %s verification or stronger", min).
			WithDetail("minimum_tier", string(min)).
			WithDetail("provided_tier", string(req.VerificationTier))
	}
	if controlled && (!req.SignatureCaptured || strings.TrimSpace(req.SignatureReference) == "") {
		return apperr.Precondition(apperr.CodeSignatureRequired, "controlled substance pickup requires a captured signature")
	}
	if patientPay.IsPositive() && !req.PaymentCollected {
		return apperr.Precondition(apperr.CodePaymentRequired, "patient owes %s", patientPay.StringFixed(2)).
			WithDetail("amount_due", patientPay.StringFixed(2))
	}
	return nil
}

// Pickup is the recorded hand-off
type Pickup struct {
	PrescriptionID    string           `json:"prescription_id"`
	BinID             string           `json:"bin_id"`
	PickedUpBy        string           `json:"picked_up_by"`
	Relationship      string           `json:"relationship,omitempty"`
	VerificationTier  VerificationTier `json:"verification_tier"`
	SignatureCaptured bool             `json:"signature_captured"`
	AmountCollected   decimal.Decimal  `json:"amount_collected"`
	ClerkID           string           `json:"clerk_id"`
	At                time.Time        `json:"at"`
}

// Notification is the fire-and-forget payload sent when a prescription is ready
type Notification struct {
	ID             string    `json:"id"`
	PrescriptionID string    `json:"prescription_id"`
	PatientHash    string    `json:"patient_hash"`
	BinID          string    `json:"bin_id"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}
