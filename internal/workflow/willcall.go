package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/auth"
	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/domain/willcall"
	"github.com/drfirst/go-rxworkflow/internal/store"
)

// WillCallManager owns the will-call bins. Bins are only ever changed inside
// the same unit of work as the prescription that moves in or out of them.
type WillCallManager struct {
	engine   *Engine
	windows  willcall.Windows
	binCount int
}

// BinView is a bin with its expiry evaluated at query time
type BinView struct {
	*willcall.Bin
	Expiry willcall.Expiry `json:"expiry"`
}

// PickupResult is returned by a successful pickup
type PickupResult struct {
	Prescription *prescription.Prescription `json:"prescription"`
	Pickup       *willcall.Pickup           `json:"pickup"`
}

// bins returns the registry, creating it on first use
func (m *WillCallManager) bins(ctx context.Context, tx store.Tx, u *unit) ([]*willcall.Bin, error) {
	bins, err := tx.ListBins(ctx)
	if err != nil {
		return nil, err
	}
	if len(bins) > 0 {
		return bins, nil
	}
	bins = willcall.NewBins(m.binCount, u.now)
	if err := tx.SaveBins(ctx, bins...); err != nil {
		return nil, fmt.Errorf("create bins: %w", err)
	}
	return bins, nil
}

// EnsureBins creates the bin registry if it does not exist yet
func (m *WillCallManager) EnsureBins(ctx context.Context, actor auth.Actor) error {
	_, err := m.engine.run(ctx, "ensure_bins", actor, auth.LevelManager, func(ctx context.Context, tx store.Tx, u *unit) error {
		_, err := m.bins(ctx, tx, u)
		return err
	})
	return err
}

// register places a READY prescription into a bin and queues the pickup notification
func (m *WillCallManager) register(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
	bins, err := m.bins(ctx, tx, u)
	if err != nil {
		return err
	}
	otherOpen, err := m.hasOtherOpen(ctx, tx, p)
	if err != nil {
		return err
	}
	b, err := willcall.Place(bins, p.PatientID, p.ID, otherOpen, u.now)
	if err != nil {
		return err
	}
	if err := tx.SaveBins(ctx, b); err != nil {
		return fmt.Errorf("save bin: %w", err)
	}
	return u.emit(prescription.TopicPickupNotifications, p, prescription.EventPrescriptionReady, prescription.ReadyData{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		DrugName:       p.DrugName,
		BinID:          b.ID,
		PromiseTime:    p.PromiseTime,
		ReadyAt:        u.now,
	})
}

// hasOtherOpen reports whether the patient has other prescriptions still being worked
func (m *WillCallManager) hasOtherOpen(ctx context.Context, r store.Reader, p *prescription.Prescription) (bool, error) {
	others, err := r.ListPrescriptions(ctx, store.PrescriptionFilter{PatientID: p.PatientID})
	if err != nil {
		return false, err
	}
	for _, o := range others {
		if o.ID == p.ID || o.State.IsTerminal() || o.State == prescription.StateReady {
			continue
		}
		return true, nil
	}
	return false, nil
}

// release takes the prescription out of whatever bin holds it
func (m *WillCallManager) release(ctx context.Context, tx store.Tx, prescriptionID string, u *unit) (*willcall.Bin, error) {
	bins, err := tx.ListBins(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bins {
		if !b.Holds(prescriptionID) {
			continue
		}
		b.Remove(prescriptionID, u.now)
		if err := tx.SaveBins(ctx, b); err != nil {
			return nil, fmt.Errorf("save bin: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

// patientPay is what the counter must collect: the paid claim's patient
// share, or the cash price when no claim paid.
func (m *WillCallManager) patientPay(ctx context.Context, r store.Reader, p *prescription.Prescription, f *prescription.Fill) (decimal.Decimal, error) {
	c, err := latestClaim(ctx, r, p.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if c != nil && c.Status.IsPaid() {
		return c.Pay.Total, nil
	}
	ingredient, fee := m.engine.pricer.Price(p.DrugNDC, f.QuantityDispensed)
	return ingredient.Add(fee).Round(2), nil
}

// Pickup hands a READY prescription to the patient or their agent. When the
// patient owes money that was not collected the bin is flagged
// awaiting-payment and PAYMENT_REQUIRED is returned.
func (m *WillCallManager) Pickup(ctx context.Context, actor auth.Actor, req willcall.PickupRequest) (*PickupResult, error) {
	var (
		out        *PickupResult
		paymentErr error
	)
	_, err := m.engine.run(ctx, "pickup", actor, auth.LevelClerk, func(ctx context.Context, tx store.Tx, u *unit) error {
		p, err := m.engine.load(ctx, tx, u, req.PrescriptionID)
		if err != nil {
			return err
		}
		if err := requireState(p, prescription.StateReady, prescription.StateSold); err != nil {
			return err
		}
		f, err := currentFill(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		pay, err := m.patientPay(ctx, tx, p, f)
		if err != nil {
			return err
		}
		if err := willcall.CheckPickup(&req, p.IsControlled(), pay); err != nil {
			if apperr.CodeOf(err) == apperr.CodePaymentRequired {
				paymentErr = err
			}
			return err
		}

		if err := f.MarkSold(u.now); err != nil {
			return err
		}
		if err := tx.UpdateFill(ctx, f); err != nil {
			return fmt.Errorf("update fill: %w", err)
		}
		b, err := m.release(ctx, tx, p.ID, u)
		if err != nil {
			return err
		}
		if err := m.engine.transition(u, p, prescription.StateSold, "picked up by "+req.PickedUpBy, ""); err != nil {
			return err
		}

		record := &willcall.Pickup{
			PrescriptionID:    p.ID,
			PickedUpBy:        strings.TrimSpace(req.PickedUpBy),
			Relationship:      req.Relationship,
			VerificationTier:  req.VerificationTier,
			SignatureCaptured: req.SignatureCaptured,
			AmountCollected:   pay,
			ClerkID:           actor.StaffID,
			At:                u.now,
		}
		if b != nil {
			record.BinID = b.ID
		}
		u.record(p.ID, &audit.Pickup{
			PrescriptionID:    p.ID,
			PickedUpBy:        record.PickedUpBy,
			VerificationTier:  string(req.VerificationTier),
			SignatureCaptured: req.SignatureCaptured,
			AmountCollected:   pay.StringFixed(2),
		})
		out = &PickupResult{Prescription: p, Pickup: record}
		return u.emit(prescription.TopicWorkflowEvents, p, prescription.EventPrescriptionSold, record)
	})
	if err == nil {
		return out, nil
	}
	if paymentErr != nil {
		if flagErr := m.markAwaitingPayment(ctx, actor, req.PrescriptionID); flagErr != nil {
			return nil, flagErr
		}
	}
	return nil, err
}

func (m *WillCallManager) markAwaitingPayment(ctx context.Context, actor auth.Actor, prescriptionID string) error {
	_, err := m.engine.run(ctx, "mark_awaiting_payment", actor, auth.LevelClerk, func(ctx context.Context, tx store.Tx, u *unit) error {
		bins, err := tx.ListBins(ctx)
		if err != nil {
			return err
		}
		for _, b := range bins {
			if b.Holds(prescriptionID) {
				b.MarkAwaitingPayment(u.now)
				return tx.SaveBins(ctx, b)
			}
		}
		return nil
	})
	return err
}

// ReturnToStock takes an unclaimed READY prescription back: the fill is
// returned and restocked, a paid claim is reversed and the bin is released.
func (m *WillCallManager) ReturnToStock(ctx context.Context, actor auth.Actor, prescriptionID, reason string) (*prescription.Prescription, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "not picked up"
	}
	p, err := m.engine.step(ctx, "return_to_stock", actor, auth.LevelTechnician, prescriptionID, func(ctx context.Context, tx store.Tx, u *unit, p *prescription.Prescription) error {
		if err := requireState(p, prescription.StateReady, prescription.StateReturnedToStock); err != nil {
			return err
		}
		f, err := currentFill(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := m.engine.returnFill(ctx, tx, u, p, f, reason); err != nil {
			return err
		}

		reversed := false
		c, err := latestClaim(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if c != nil && c.Status.IsPaid() {
			if err := c.Reverse(u.now); err != nil {
				return err
			}
			if err := tx.UpdateClaim(ctx, c); err != nil {
				return fmt.Errorf("update claim: %w", err)
			}
			reversed = true
			u.record(c.ID, &audit.ClaimResolution{PrescriptionID: p.ID, Resolution: "reversed_on_return"})
		}

		if _, err := m.release(ctx, tx, p.ID, u); err != nil {
			return err
		}
		if err := m.engine.transition(u, p, prescription.StateReturnedToStock, reason, ""); err != nil {
			return err
		}
		restocked := 0.0
		if f.InventoryRestored {
			restocked = f.QuantityDispensed
		}
		u.record(p.ID, &audit.ReturnToStock{
			PrescriptionID:    p.ID,
			FillID:            f.ID,
			QuantityRestocked: restocked,
			ClaimReversed:     reversed,
		})
		return u.emit(prescription.TopicWorkflowEvents, p, prescription.EventPrescriptionReturned, prescription.TransitionedData{
			PrescriptionID: p.ID,
			FromState:      prescription.StateReady,
			ToState:        prescription.StateReturnedToStock,
			ActorStaffID:   actor.StaffID,
			Reason:         reason,
			At:             u.now,
		})
	})
	if err != nil {
		return nil, err
	}
	m.engine.metrics.RecordWillCallReturn()
	return p, nil
}

// Sweep marks every return-eligible bin scheduled-reverse and returns the newly marked bins
func (m *WillCallManager) Sweep(ctx context.Context, actor auth.Actor) ([]*willcall.Bin, error) {
	var swept []*willcall.Bin
	_, err := m.engine.run(ctx, "sweep_bins", actor, auth.LevelTechnician, func(ctx context.Context, tx store.Tx, u *unit) error {
		bins, err := tx.ListBins(ctx)
		if err != nil {
			return err
		}
		swept = willcall.Sweep(bins, m.windows, u.now)
		if len(swept) == 0 {
			return nil
		}
		if err := tx.SaveBins(ctx, swept...); err != nil {
			return fmt.Errorf("save bins: %w", err)
		}
		for _, b := range swept {
			u.record(b.ID, &audit.BinSwept{
				PatientHash:     prescription.HashPatient(b.PatientID),
				PrescriptionIDs: append([]string(nil), b.PrescriptionIDs...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

// Bins lists the occupied bins with their expiry evaluated now
func (m *WillCallManager) Bins(ctx context.Context, actor auth.Actor) ([]BinView, error) {
	if err := actor.Require(auth.LevelClerk, "list_bins"); err != nil {
		return nil, err
	}
	bins, err := m.engine.store.ListBins(ctx)
	if err != nil {
		return nil, err
	}
	now := m.engine.now()
	out := make([]BinView, 0, len(bins))
	for _, b := range bins {
		if b.IsEmpty() {
			continue
		}
		out = append(out, BinView{Bin: b, Expiry: b.ExpiryStatus(m.windows, now)})
	}
	return out, nil
}

// AmountDue returns what the patient owes at the counter for a READY prescription
func (m *WillCallManager) AmountDue(ctx context.Context, actor auth.Actor, prescriptionID string) (decimal.Decimal, error) {
	if err := actor.Require(auth.LevelClerk, "amount_due"); err != nil {
		return decimal.Zero, err
	}
	p, err := m.engine.store.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return decimal.Zero, err
	}
	f, err := currentFill(ctx, m.engine.store, p.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return m.patientPay(ctx, m.engine.store, p, f)
}
