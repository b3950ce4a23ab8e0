// Package willcall models the will-call bin registry, hold expiry and the
// identity rules checked at pickup.
package willcall

import (
	"fmt"
	"sort"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// BinStatus of a will-call bin
type BinStatus string

const (
	BinEmpty            BinStatus = "empty"
	BinAssigned         BinStatus = "assigned"
	BinReady            BinStatus = "ready"
	BinPartial          BinStatus = "partial"
	BinAwaitingPayment  BinStatus = "awaiting-payment"
	BinScheduledReverse BinStatus = "scheduled-reverse"
)

// Bin is one physical will-call slot. A bin holds one patient's prescriptions.
type Bin struct {
	ID                 string     `json:"id"`
	PatientID          string     `json:"patient_id,omitempty"`
	PrescriptionIDs    []string   `json:"prescription_ids"`
	PrescriptionCount  int        `json:"prescription_count"`
	Status             BinStatus  `json:"status"`
	ReadyAt            *time.Time `json:"ready_at,omitempty"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
	ScheduledReverseAt *time.Time `json:"scheduled_reverse_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// BinID renders the n-th bin label
func BinID(n int) string { return fmt.Sprintf("WC-%03d", n) }

// NewBins creates n empty bins
func NewBins(n int, now time.Time) []*Bin {
	bins := make([]*Bin, 0, n)
	for i := 1; i <= n; i++ {
		bins = append(bins, &Bin{ID: BinID(i), Status: BinEmpty, PrescriptionIDs: []string{}, LastActivityAt: now, UpdatedAt: now})
	}
	return bins
}

// IsEmpty reports whether the bin holds nothing
func (b *Bin) IsEmpty() bool { return b.Status == BinEmpty }

// Holds reports whether the bin holds the prescription
func (b *Bin) Holds(prescriptionID string) bool {
	for _, id := range b.PrescriptionIDs {
		if id == prescriptionID {
			return true
		}
	}
	return false
}

// Place puts a ready prescription into a bin for the patient. otherOpen is
// true when the patient still has prescriptions in progress, which makes the
// bin partial rather than ready.
func Place(bins []*Bin, patientID, prescriptionID string, otherOpen bool, at time.Time) (*Bin, error) {
	sorted := make([]*Bin, len(bins))
	copy(sorted, bins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var target *Bin
	for _, b := range sorted {
		if !b.IsEmpty() && b.PatientID == patientID {
			target = b
			break
		}
	}
	if target == nil {
		for _, b := range sorted {
			if b.IsEmpty() {
				target = b
				break
			}
		}
	}
	if target == nil {
		return nil, apperr.Precondition(apperr.CodeNoBinAvailable, "no empty will-call bin for patient %s", patientID)
	}

	target.PatientID = patientID
	if !target.Holds(prescriptionID) {
		target.PrescriptionIDs = append(target.PrescriptionIDs, prescriptionID)
	}
	target.PrescriptionCount = len(target.PrescriptionIDs)
	if target.ReadyAt == nil {
		target.ReadyAt = &at
	}
	target.ScheduledReverseAt = nil
	target.Status = BinReady
	if otherOpen {
		target.Status = BinPartial
	}
	target.LastActivityAt = at
	target.UpdatedAt = at
	return target, nil
}

// Remove takes a prescription out of the bin and empties it when nothing is left
func (b *Bin) Remove(prescriptionID string, at time.Time) {
	kept := b.PrescriptionIDs[:0]
	for _, id := range b.PrescriptionIDs {
		if id != prescriptionID {
			kept = append(kept, id)
		}
	}
	b.PrescriptionIDs = kept
	b.PrescriptionCount = len(kept)
	b.LastActivityAt = at
	b.UpdatedAt = at
	if b.PrescriptionCount == 0 {
		b.PatientID = ""
		b.Status = BinEmpty
		b.ReadyAt = nil
		b.ScheduledReverseAt = nil
		b.PrescriptionIDs = []string{}
	}
}

// MarkAwaitingPayment flags the bin when the patient came but could not pay
func (b *Bin) MarkAwaitingPayment(at time.Time) {
	b.Status = BinAwaitingPayment
	b.LastActivityAt = at
	b.UpdatedAt = at
}

// Windows are the rolling hold windows measured from when a bin became ready
type Windows struct {
	ExpiringAfter time.Duration
	ReturnAfter   time.Duration
}

// DefaultWindows are 7 days to expiring and 10 days to eligible for return
func DefaultWindows() Windows {
	return Windows{ExpiringAfter: 7 * 24 * time.Hour, ReturnAfter: 10 * 24 * time.Hour}
}

// Expiry is the hold state of a bin
type Expiry string

const (
	ExpiryNone           Expiry = "none"
	ExpiryCurrent        Expiry = "current"
	ExpiryExpiring       Expiry = "expiring"
	ExpiryReturnEligible Expiry = "return_eligible"
)

// ExpiryStatus evaluates the bin against the windows at now
func (b *Bin) ExpiryStatus(w Windows, now time.Time) Expiry {
	if b.IsEmpty() || b.ReadyAt == nil {
		return ExpiryNone
	}
	age := now.Sub(*b.ReadyAt)
	switch {
	case age >= w.ReturnAfter:
		return ExpiryReturnEligible
	case age >= w.ExpiringAfter:
		return ExpiryExpiring
	default:
		return ExpiryCurrent
	}
}

// Sweep marks return-eligible bins scheduled-reverse and returns them
func Sweep(bins []*Bin, w Windows, now time.Time) []*Bin {
	var out []*Bin
	for _, b := range bins {
		if b.Status == BinScheduledReverse {
			continue
		}
		if b.ExpiryStatus(w, now) != ExpiryReturnEligible {
			continue
		}
		b.Status = BinScheduledReverse
		b.ScheduledReverseAt = &now
		b.UpdatedAt = now
		out = append(out, b)
	}
	return out
}
