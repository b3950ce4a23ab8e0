package claims

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

type fakeSwitch struct {
	calls int32
	delay time.Duration
	resp  *Response
	err   error
}

func (f *fakeSwitch) Adjudicate(ctx context.Context, req *Request) (*Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

func goodRequest() *Request {
	return &Request{
		ClaimID:        "claim-1",
		PrescriptionID: "rx-1",
		BIN:            "610014",
		PCN:            "MEDDPRIME",
		MemberID:       "ZX123456",
		NDC:            "0002-3227-30",
		Quantity:       30,
		DaysSupply:     30,
		PrescriberNPI:  "1234567893",
		PharmacyNPI:    "1245319599",
		IngredientCost: decimal.NewFromInt(90),
		DispensingFee:  decimal.NewFromInt(10),
	}
}

func TestValidateOneRejectPerRule(t *testing.T) {
	req := goodRequest()
	if rejects := req.Validate(); len(rejects) != 0 {
		t.Fatalf("good request rejected: %+v", rejects)
	}

	req.BIN = "61001"
	req.NDC = "123"
	req.PrescriberNPI = "1234567890"
	req.PharmacyNPI = "12345"
	req.Quantity = 0
	req.DaysSupply = 400

	rejects := req.Validate()
	want := []string{RejectInvalidBIN, RejectInvalidNDC, RejectInvalidPrescriber, RejectInvalidPharmacy,
		RejectInvalidQuantity, RejectInvalidDaysSupply}
	if len(rejects) != len(want) {
		t.Fatalf("got %d rejects, want %d: %+v", len(rejects), len(want), rejects)
	}
	for i, code := range want {
		if rejects[i].Code != code {
			t.Errorf("reject %d = %s, want %s", i, rejects[i].Code, code)
		}
		if rejects[i].ActionRequired == "" {
			t.Errorf("reject %s has no action", code)
		}
	}
}

func TestSubmitShapeFailureSkipsSwitch(t *testing.T) {
	sw := &fakeSwitch{resp: &Response{Status: StatusPaid}}
	a := NewAdjudicator(sw, nil, DefaultConfig(), nil)

	req := goodRequest()
	req.BIN = "abc"
	resp, err := a.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusRejected || !resp.HasRejectCode(RejectInvalidBIN) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if atomic.LoadInt32(&sw.calls) != 0 {
		t.Fatal("switch must not be called for malformed requests")
	}
}

func TestSubmitExpandsRejectCodes(t *testing.T) {
	sw := &fakeSwitch{resp: &Response{Status: StatusRejected, Rejects: []Reject{{Code: RejectPriorAuthRequired}}}}
	a := NewAdjudicator(sw, nil, DefaultConfig(), nil)

	resp, err := a.Submit(context.Background(), goodRequest())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Rejects[0].Category != CategoryCoverage || resp.Rejects[0].ActionRequired == "" {
		t.Fatalf("reject not expanded: %+v", resp.Rejects[0])
	}
}

func TestSubmitTimeoutIsRecoverable(t *testing.T) {
	sw := &fakeSwitch{delay: 200 * time.Millisecond, resp: &Response{Status: StatusPaid}}
	a := NewAdjudicator(sw, nil, Config{Timeout: 20 * time.Millisecond}, nil)

	_, err := a.Submit(context.Background(), goodRequest())
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	if apperr.CodeOf(err) != apperr.CodeExternalTimeout || !apperr.IsRecoverable(err) {
		t.Fatalf("expected recoverable timeout, got %v", err)
	}
}

type openBreaker struct{}

func (openBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	return nil, errors.New("circuit breaker is open")
}

func TestSubmitOpenCircuit(t *testing.T) {
	sw := &fakeSwitch{resp: &Response{Status: StatusPaid}}
	a := NewAdjudicator(sw, openBreaker{}, DefaultConfig(), nil)

	_, err := a.Submit(context.Background(), goodRequest())
	if apperr.CodeOf(err) != apperr.CodeExternalUnavailable || !apperr.IsRecoverable(err) {
		t.Fatalf("expected recoverable unavailable, got %v", err)
	}
	if atomic.LoadInt32(&sw.calls) != 0 {
		t.Fatal("switch called through an open breaker")
	}
}

func TestRulesSwitch(t *testing.T) {
	rules := DefaultPlanRules()
	rules.PriorAuthNDCs = []string{"00002-3227-30"}
	rules.RefillTooSoonNDCs = []string{"12345-6789-01"}
	sw := NewRulesSwitch(rules)
	ctx := context.Background()

	resp, err := sw.Adjudicate(ctx, goodRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasRejectCode(RejectPriorAuthRequired) {
		t.Fatalf("expected 75, got %+v", resp)
	}

	req := goodRequest()
	req.NDC = "12345-6789-01"
	resp, _ = sw.Adjudicate(ctx, req)
	if !resp.HasRejectCode(RejectRefillTooSoon) {
		t.Fatalf("expected 79, got %+v", resp)
	}
	req.ClarificationCode = "3"
	resp, _ = sw.Adjudicate(ctx, req)
	if resp.Status != StatusPaid {
		t.Fatalf("override should pay, got %+v", resp)
	}
	if !resp.InsurancePaid.Equal(decimal.NewFromInt(90)) {
		t.Errorf("insurance paid = %s, want 90", resp.InsurancePaid)
	}
}

func TestClaimLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := NewClaim("rx-1", 0, Coverage{BIN: "610014", MemberID: "M1"}, now)

	if err := c.MarkSubmitted(now); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkSubmitted(now); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("double submit should conflict, got %v", err)
	}

	req := goodRequest()
	resp := &Response{Status: StatusPaid, InsurancePaid: d("60"), Copay: d("10"), DeductibleRemaining: d("30")}
	if err := c.ApplyResponse(req, resp, now); err != nil {
		t.Fatal(err)
	}
	if !c.Pay.Total.Equal(d("40")) {
		t.Errorf("patient pay = %s", c.Pay.Total)
	}
	if _, err := c.Resolve(ActionResubmit, "", now); apperr.CodeOf(err) != apperr.CodeClaimNotResolvable {
		t.Fatalf("paid claims cannot be resolved, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rejected := func() *Claim {
		c := NewClaim("rx-1", 0, Coverage{BIN: "610014", MemberID: "M1"}, now)
		c.Status = StatusRejected
		c.Rejects = []Reject{LookupReject(RejectRefillTooSoon)}
		return c
	}

	c := rejected()
	out, err := c.Resolve(ActionOverride, "", now)
	if apperr.CodeOf(err) != apperr.CodeInvalidClarification {
		t.Fatalf("override without code: %v", err)
	}
	out, err = c.Resolve(ActionOverride, "03", now)
	if err != nil || out != OutcomeResubmit || c.Status != StatusPending || c.ClarificationCode != "03" {
		t.Fatalf("override: out=%v err=%v claim=%+v", out, err, c)
	}

	c = rejected()
	if _, err := c.Resolve(ActionResubmit, "123", now); apperr.CodeOf(err) != apperr.CodeInvalidClarification {
		t.Fatalf("bad code accepted: %v", err)
	}

	c = rejected()
	out, err = c.Resolve(ActionPriorAuth, "", now)
	if err != nil || out != OutcomePriorAuth || c.Status != StatusRejected {
		t.Fatalf("prior auth: out=%v err=%v status=%s", out, err, c.Status)
	}

	c = rejected()
	out, err = c.Resolve(ActionCash, "", now)
	if err != nil || out != OutcomeCash || c.Status != StatusReversed {
		t.Fatalf("cash: out=%v err=%v status=%s", out, err, c.Status)
	}
}

func TestBuildQueue(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	later := NewClaim("rx-2", 0, Coverage{}, now)
	later.Status = StatusRejected
	later.Rejects = []Reject{LookupReject(RejectPriorAuthRequired)}
	later.UpdatedAt = now.Add(time.Hour)

	earlier := NewClaim("rx-1", 0, Coverage{}, now)
	earlier.Status = StatusRejected
	earlier.Rejects = []Reject{LookupReject(RejectPlanLimits)}

	paid := NewClaim("rx-3", 0, Coverage{}, now)
	paid.Status = StatusPaid

	q := BuildQueue([]*Claim{later, paid, earlier})
	if len(q) != 2 {
		t.Fatalf("queue length %d", len(q))
	}
	if q[0].PrescriptionID != "rx-1" || q[1].PrescriptionID != "rx-2" {
		t.Fatalf("queue not oldest first: %+v", q)
	}
	if q[1].SuggestedActions[0] != ActionPriorAuth {
		t.Errorf("75 should suggest prior auth first, got %v", q[1].SuggestedActions)
	}
	if q[0].PrimaryCategory != CategoryQuantity {
		t.Errorf("primary category = %s", q[0].PrimaryCategory)
	}
}
