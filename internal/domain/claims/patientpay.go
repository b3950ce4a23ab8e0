package claims

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PatientPay is the patient-responsibility breakdown. The three components
// always sum to Total.
type PatientPay struct {
	DeductibleApplied  decimal.Decimal `json:"deductible_applied"`
	CopayApplied       decimal.Decimal `json:"copay_applied"`
	CoinsuranceApplied decimal.Decimal `json:"coinsurance_applied"`
	Total              decimal.Decimal `json:"total"`
}

// CalculatePatientPay applies deductible, then copay, then coinsurance, each
// against what is left of totalCost. insurancePaid is informational; the
// payer's share is whatever the patient does not owe.
func CalculatePatientPay(totalCost, insurancePaid, copay, deductibleRemaining, coinsurancePercent decimal.Decimal) PatientPay {
	total := nonNegative(totalCost).Round(2)
	pct := decimal.Min(nonNegative(coinsurancePercent), hundred)

	deductible := decimal.Min(total, nonNegative(deductibleRemaining).Round(2))
	remainder := total.Sub(deductible)

	copayApplied := decimal.Min(nonNegative(copay).Round(2), remainder)
	remainder = remainder.Sub(copayApplied)

	coinsurance := remainder.Mul(pct).Div(hundred).Round(2)
	if coinsurance.GreaterThan(remainder) {
		coinsurance = remainder
	}

	return PatientPay{
		DeductibleApplied:  deductible,
		CopayApplied:       copayApplied,
		CoinsuranceApplied: coinsurance,
		Total:              deductible.Add(copayApplied).Add(coinsurance),
	}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
