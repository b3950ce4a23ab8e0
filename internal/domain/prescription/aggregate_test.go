package prescription

import (
	"errors"
	"testing"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func validRequest() *CreateRequest {
	return &CreateRequest{
		PatientID:         "pat-1",
		PrescriberID:      "doc-1",
		PrescriberNPI:     "1234567893",
		PrescriberDEA:     "AB1234563",
		DrugNDC:           "0002-3227-30",
		DrugName:          "Lisinopril 10mg",
		QuantityWritten:   30,
		DaysSupply:        30,
		RefillsAuthorized: 2,
		WrittenDate:       testNow.Add(-48 * time.Hour),
	}
}

// expected legal edges, written out independently of the implementation table
var expectedEdges = [][2]State{
	{StateIntake, StateDataEntry},
	{StateDataEntry, StateInsurancePending},
	{StateDataEntry, StateFilling},
	{StateInsurancePending, StateFilling},
	{StateInsurancePending, StateInsuranceRejected},
	{StateInsurancePending, StatePriorAuthPending},
	{StateInsuranceRejected, StateInsurancePending},
	{StateInsuranceRejected, StateFilling},
	{StateInsuranceRejected, StatePriorAuthPending},
	{StatePriorAuthPending, StatePriorAuthApproved},
	{StatePriorAuthPending, StateInsuranceRejected},
	{StatePriorAuthApproved, StateFilling},
	{StateFilling, StateVerification},
	{StateVerification, StateReady},
	{StateVerification, StateFilling},
	{StateReady, StateSold},
	{StateReady, StateReturnedToStock},
}

func TestTransitionLegalityAllPairs(t *testing.T) {
	legalSet := make(map[[2]State]bool, len(expectedEdges))
	for _, e := range expectedEdges {
		legalSet[e] = true
	}
	for _, from := range AllStates {
		for _, to := range AllStates {
			legal := legalSet[[2]State{from, to}] || (to == StateCancelled && !from.IsTerminal())

			p := New(validRequest(), testNow)
			p.State = from
			before := *p

			entry, err := p.Transition(to, "tech-1", "reason text", "", testNow)
			if legal {
				if err != nil {
					t.Errorf("%s -> %s: unexpected error %v", from, to, err)
					continue
				}
				if p.State != to || entry.FromState != from || entry.ToState != to {
					t.Errorf("%s -> %s: state %s entry %+v", from, to, p.State, entry)
				}
				if entry.Sequence != before.Version+1 {
					t.Errorf("%s -> %s: sequence %d", from, to, entry.Sequence)
				}
				continue
			}

			if err == nil {
				t.Errorf("%s -> %s: expected InvalidTransition", from, to)
				continue
			}
			if !errors.Is(err, apperr.ErrInvalidTransition) {
				t.Errorf("%s -> %s: wrong error %v", from, to, err)
			}
			if entry != nil || p.State != before.State || p.Version != before.Version {
				t.Errorf("%s -> %s: aggregate mutated on failure", from, to)
			}
		}
	}
}

func TestTransitionBlockedWhileOnHold(t *testing.T) {
	p := New(validRequest(), testNow)
	if err := p.PlaceOnHold("patient requested hold", testNow); err != nil {
		t.Fatal(err)
	}
	_, err := p.Transition(StateDataEntry, "tech-1", "", "", testNow)
	if apperr.CodeOf(err) != apperr.CodeOnHold {
		t.Fatalf("expected ON_HOLD, got %v", err)
	}
	if p.State != StateIntake {
		t.Fatalf("state changed to %s", p.State)
	}
	if _, err := p.Transition(StateCancelled, "tech-1", "patient went elsewhere", "", testNow); err != nil {
		t.Fatalf("cancel while on hold should succeed: %v", err)
	}
	if p.CancelReason != "patient went elsewhere" {
		t.Errorf("cancel reason not recorded")
	}
}

func TestAssignIdempotentAndOverwriteLogged(t *testing.T) {
	p := New(validRequest(), testNow)

	entry, changed := p.Assign("tech-1", "tech-1", testNow)
	if !changed || entry == nil || !entry.IsAssignment() {
		t.Fatalf("first assignment should produce an entry")
	}
	version := p.Version

	if entry, changed := p.Assign("tech-1", "tech-1", testNow); changed || entry != nil {
		t.Fatalf("re-assigning the same staff must be a no-op")
	}
	if p.Version != version {
		t.Fatalf("version moved on idempotent assign")
	}

	entry, changed = p.Assign("tech-2", "tech-2", testNow)
	if !changed || p.AssignedToStaffID != "tech-2" {
		t.Fatalf("overwrite should win")
	}
	if entry.Reason != "reassigned from tech-1 to tech-2" {
		t.Errorf("reason = %q", entry.Reason)
	}
}

func TestSetField(t *testing.T) {
	p := New(validRequest(), testNow)

	if _, err := p.SetField("drug_ndc", "00002322730", testNow); !errors.Is(err, apperr.ErrFieldNotEditable) {
		t.Fatalf("expected FieldNotEditable, got %v", err)
	}

	old, err := p.SetField(FieldPriority, "stat", testNow)
	if err != nil || old != string(PriorityNormal) || p.Priority != PriorityStat {
		t.Fatalf("priority edit: old=%q err=%v priority=%s", old, err, p.Priority)
	}

	if _, err := p.SetField(FieldDaysSupply, "400", testNow); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := p.SetField(FieldDaysSupply, "60", testNow); err != nil || p.DaysSupply != 60 {
		t.Fatalf("days supply edit failed: %v", err)
	}

	p.State = StateFilling
	if _, err := p.SetField(FieldDaysSupply, "30", testNow); !errors.Is(err, apperr.ErrFieldNotEditable) {
		t.Fatalf("days supply must be locked once filling, got %v", err)
	}
	if _, err := p.SetField(FieldNotes, "call before ready", testNow); err != nil {
		t.Fatalf("notes stay editable: %v", err)
	}

	p.State = StateSold
	if _, err := p.SetField(FieldNotes, "late", testNow); !errors.Is(err, apperr.ErrFieldNotEditable) {
		t.Fatalf("terminal prescriptions are frozen, got %v", err)
	}
}

func TestNewRefill(t *testing.T) {
	p := New(validRequest(), testNow)
	if _, err := p.NewRefill(testNow); apperr.CodeOf(err) != apperr.CodeNotRefillable {
		t.Fatalf("unsold prescription refilled: %v", err)
	}

	p.State = StateSold
	refill, err := p.NewRefill(testNow)
	if err != nil {
		t.Fatal(err)
	}
	if refill.State != StateIntake || refill.RefillNumber != 1 || refill.RefillsRemaining != 1 {
		t.Errorf("refill = %+v", refill)
	}
	if refill.OriginalPrescriptionID != p.ID || refill.ID == p.ID {
		t.Errorf("refill not linked to original")
	}

	p.RefillsRemaining = 0
	if _, err := p.NewRefill(testNow); apperr.CodeOf(err) != apperr.CodeNotRefillable {
		t.Fatalf("expected NOT_REFILLABLE, got %v", err)
	}
}

func TestFillLifecycle(t *testing.T) {
	p := New(validRequest(), testNow)
	f := NewFill(p, 0, testNow)

	if err := f.Verify("rph-1", "", testNow); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("verify before fill: %v", err)
	}
	if err := f.Complete(FillDetails{DispensedNDC: p.DrugNDC, LotNumber: "L1", QuantityDispensed: 30}, "tech-1", testNow); err != nil {
		t.Fatal(err)
	}
	if err := f.Verify("rph-1", "ok", testNow); err != nil {
		t.Fatal(err)
	}
	restock, err := f.Return("pharmacist reject", testNow)
	if err != nil || !restock {
		t.Fatalf("return: restock=%v err=%v", restock, err)
	}
	if _, err := f.Return("again", testNow); err == nil {
		t.Fatal("returned fill returned twice")
	}
}
