package claims

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is an insurance plan linked to a prescription
type Plan struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Name      string    `json:"name,omitempty"`
	Coverage  Coverage  `json:"coverage"`
	CreatedAt time.Time `json:"created_at"`
}

// Pricer prices a dispense for billing
type Pricer interface {
	Price(ndc string, quantity float64) (ingredientCost, dispensingFee decimal.Decimal)
}

// FlatPricer charges a fixed unit cost plus a dispensing fee
type FlatPricer struct {
	UnitCost      decimal.Decimal
	DispensingFee decimal.Decimal
}

// DefaultPricer bills 0.50 per unit plus a 2.00 fee
func DefaultPricer() FlatPricer {
	return FlatPricer{UnitCost: decimal.RequireFromString("0.50"), DispensingFee: decimal.RequireFromString("2.00")}
}

func (p FlatPricer) Price(_ string, quantity float64) (decimal.Decimal, decimal.Decimal) {
	cost := p.UnitCost.Mul(decimal.NewFromFloat(quantity)).Round(2)
	return cost, p.DispensingFee
}
