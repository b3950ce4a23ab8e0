package claims

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxworkflow/internal/domain/codes"
)

// PlanRules drive the built-in rules switch. Outcomes are a pure function of
// the request so runs are reproducible.
type PlanRules struct {
	NotCoveredNDCs      []string
	PriorAuthNDCs       []string
	RefillTooSoonNDCs   []string
	MaxQuantity         float64
	MaxDaysSupply       int
	Copay               decimal.Decimal
	DeductibleRemaining decimal.Decimal
	CoinsurancePercent  decimal.Decimal
	// PartialAbove pays only up to this amount when set
	PartialAbove decimal.Decimal
}

// DefaultPlanRules returns a commercial plan with a flat copay
func DefaultPlanRules() PlanRules {
	return PlanRules{
		MaxQuantity:   360,
		MaxDaysSupply: 90,
		Copay:         decimal.NewFromInt(10),
	}
}

// RulesSwitch is an in-process switch used when no external processor is configured
type RulesSwitch struct {
	rules      PlanRules
	notCovered map[string]bool
	priorAuth  map[string]bool
	tooSoon    map[string]bool
}

// NewRulesSwitch builds a rules switch
func NewRulesSwitch(rules PlanRules) *RulesSwitch {
	return &RulesSwitch{
		rules:      rules,
		notCovered: ndcSet(rules.NotCoveredNDCs),
		priorAuth:  ndcSet(rules.PriorAuthNDCs),
		tooSoon:    ndcSet(rules.RefillTooSoonNDCs),
	}
}

func ndcSet(ndcs []string) map[string]bool {
	out := make(map[string]bool, len(ndcs))
	for _, n := range ndcs {
		if norm, ok := codes.NormalizeNDC(n); ok {
			out[norm] = true
		}
	}
	return out
}

// Adjudicate implements Switch
func (s *RulesSwitch) Adjudicate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ndc, _ := codes.NormalizeNDC(req.NDC)
	overridden := req.ClarificationCode != ""

	var rejects []Reject
	switch {
	case s.notCovered[ndc]:
		rejects = append(rejects, LookupReject(RejectProductNotCovered))
	case s.priorAuth[ndc]:
		rejects = append(rejects, LookupReject(RejectPriorAuthRequired))
	}
	if s.tooSoon[ndc] && !overridden {
		rejects = append(rejects, LookupReject(RejectRefillTooSoon))
	}
	if !overridden {
		if s.rules.MaxQuantity > 0 && req.Quantity > s.rules.MaxQuantity {
			rejects = append(rejects, LookupReject(RejectPlanLimits))
		} else if s.rules.MaxDaysSupply > 0 && req.DaysSupply > s.rules.MaxDaysSupply {
			rejects = append(rejects, LookupReject(RejectPlanLimits))
		}
	}
	if len(rejects) > 0 {
		return &Response{Status: StatusRejected, Rejects: rejects}, nil
	}

	total := req.TotalCost()
	pay := CalculatePatientPay(total, decimal.Zero, s.rules.Copay, s.rules.DeductibleRemaining, s.rules.CoinsurancePercent)
	insurancePaid := total.Sub(pay.Total)
	status := StatusPaid
	if s.rules.PartialAbove.IsPositive() && insurancePaid.GreaterThan(s.rules.PartialAbove) {
		insurancePaid = s.rules.PartialAbove
		status = StatusPartial
	}

	return &Response{
		Status:              status,
		AuthorizationNumber: authNumber(req),
		InsurancePaid:       insurancePaid,
		Copay:               s.rules.Copay,
		DeductibleRemaining: s.rules.DeductibleRemaining,
		CoinsurancePercent:  s.rules.CoinsurancePercent,
	}, nil
}

func authNumber(req *Request) string {
	id := strings.ReplaceAll(req.ClaimID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("RS%s%02d", strings.ToUpper(id), req.FillNumber)
}
