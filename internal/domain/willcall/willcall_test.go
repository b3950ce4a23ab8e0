package willcall

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPlaceReusesPatientBin(t *testing.T) {
	bins := NewBins(3, t0)

	b1, err := Place(bins, "pat-1", "rx-1", false, t0)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if b1.ID != "WC-001" || b1.Status != BinReady {
		t.Fatalf("first placement = %s/%s", b1.ID, b1.Status)
	}

	b2, err := Place(bins, "pat-2", "rx-2", false, t0)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if b2.ID != "WC-002" {
		t.Errorf("second patient got %s, want WC-002", b2.ID)
	}

	again, err := Place(bins, "pat-1", "rx-3", true, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if again.ID != b1.ID {
		t.Errorf("patient bin not reused: %s", again.ID)
	}
	if again.PrescriptionCount != 2 || again.Status != BinPartial {
		t.Errorf("bin = count %d status %s", again.PrescriptionCount, again.Status)
	}
	if !again.ReadyAt.Equal(t0) {
		t.Errorf("ReadyAt moved to %v", again.ReadyAt)
	}
}

func TestPlaceNoBinAvailable(t *testing.T) {
	bins := NewBins(1, t0)
	if _, err := Place(bins, "pat-1", "rx-1", false, t0); err != nil {
		t.Fatal(err)
	}
	_, err := Place(bins, "pat-2", "rx-2", false, t0)
	if apperr.CodeOf(err) != apperr.CodeNoBinAvailable {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Error("expected precondition kind")
	}
}

func TestRemoveEmptiesBin(t *testing.T) {
	bins := NewBins(1, t0)
	b, _ := Place(bins, "pat-1", "rx-1", false, t0)
	_, _ = Place(bins, "pat-1", "rx-2", false, t0)

	b.Remove("rx-1", t0)
	if b.IsEmpty() || b.PrescriptionCount != 1 {
		t.Fatalf("bin emptied early: %+v", b)
	}
	b.Remove("rx-2", t0)
	if !b.IsEmpty() || b.PatientID != "" || b.ReadyAt != nil {
		t.Fatalf("bin not reset: %+v", b)
	}
}

func TestExpiryAndSweep(t *testing.T) {
	w := DefaultWindows()
	bins := NewBins(3, t0)
	old, _ := Place(bins, "pat-1", "rx-1", false, t0)
	mid, _ := Place(bins, "pat-2", "rx-2", false, t0.Add(3*24*time.Hour))
	fresh, _ := Place(bins, "pat-3", "rx-3", false, t0.Add(9*24*time.Hour))

	now := t0.Add(10 * 24 * time.Hour)
	if got := old.ExpiryStatus(w, now); got != ExpiryReturnEligible {
		t.Errorf("old = %s", got)
	}
	if got := mid.ExpiryStatus(w, now); got != ExpiryExpiring {
		t.Errorf("mid = %s", got)
	}
	if got := fresh.ExpiryStatus(w, now); got != ExpiryCurrent {
		t.Errorf("fresh = %s", got)
	}

	swept := Sweep(bins, w, now)
	if len(swept) != 1 || swept[0].ID != old.ID {
		t.Fatalf("swept = %v", swept)
	}
	if old.Status != BinScheduledReverse || old.ScheduledReverseAt == nil {
		t.Errorf("old bin = %+v", old)
	}
	if again := Sweep(bins, w, now.Add(time.Hour)); len(again) != 0 {
		t.Errorf("sweep not idempotent: %d", len(again))
	}
}

func TestCheckPickup(t *testing.T) {
	none := decimal.Zero
	owed := decimal.RequireFromString("12.50")

	tests := []struct {
		name       string
		req        PickupRequest
		controlled bool
		pay        decimal.Decimal
		wantCode   string
	}{
		{
			name: "dob ok for non-controlled",
			req:  PickupRequest{PickedUpBy: "self", VerificationTier: TierDOB, IdentityVerified: true},
			pay:  none,
		},
		{
			name:     "unverified identity",
			req:      PickupRequest{PickedUpBy: "self", VerificationTier: TierPhotoID},
			pay:      none,
			wantCode: apperr.CodeIdentityNotVerified,
		},
		{
			name:       "dob too weak for controlled",
			req:        PickupRequest{PickedUpBy: "self", VerificationTier: TierDOB, IdentityVerified: true, SignatureCaptured: true, SignatureReference: "sig-1"},
			controlled: true,
			pay:        none,
			wantCode:   apperr.CodeIdentityNotVerified,
		},
		{
			name:       "controlled needs signature",
			req:        PickupRequest{PickedUpBy: "self", VerificationTier: TierGovernmentID, IdentityVerified: true},
			controlled: true,
			pay:        none,
			wantCode:   apperr.CodeSignatureRequired,
		},
		{
			name:       "controlled with photo and signature",
			req:        PickupRequest{PickedUpBy: "self", VerificationTier: TierPhotoID, IdentityVerified: true, SignatureCaptured: true, SignatureReference: "sig-1"},
			controlled: true,
			pay:        none,
		},
		{
			name:     "payment outstanding",
			req:      PickupRequest{PickedUpBy: "spouse", VerificationTier: TierAddress, IdentityVerified: true},
			pay:      owed,
			wantCode: apperr.CodePaymentRequired,
		},
		{
			name: "payment collected",
			req:  PickupRequest{PickedUpBy: "spouse", VerificationTier: TierAddress, IdentityVerified: true, PaymentCollected: true},
			pay:  owed,
		},
		{
			name:     "unknown tier",
			req:      PickupRequest{PickedUpBy: "self", VerificationTier: "library_card", IdentityVerified: true},
			pay:      none,
			wantCode: apperr.CodeIdentityNotVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := CheckPickup(&req, tt.controlled, tt.pay)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if got := apperr.CodeOf(err); got != tt.wantCode {
				t.Fatalf("code = %q, want %q (%v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestCheckPickupRequiresName(t *testing.T) {
	err := CheckPickup(&PickupRequest{VerificationTier: TierDOB, IdentityVerified: true}, false, decimal.Zero)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestTierOrdering(t *testing.T) {
	if !TierGovernmentID.AtLeast(TierPhotoID) || !TierPhotoID.AtLeast(TierPhotoID) {
		t.Error("stronger tiers must satisfy weaker minimums")
	}
	if TierAddress.AtLeast(TierPhotoID) {
		t.Error("address must not satisfy photo_id")
	}
}
