package risk

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/domain/codes"
)

const day = 24 * time.Hour

// Payment types reported by PDMP feeds
const (
	PaymentCash        = "cash"
	PaymentInsurance   = "insurance"
	PaymentMedicaid    = "medicaid"
	PaymentMedicare    = "medicare"
	PaymentWorkersComp = "workers_comp"
)

// Record is one dispensing event from the external history
type Record struct {
	PrescriptionID string    `json:"prescription_id"`
	DrugName       string    `json:"drug_name"`
	NDC            string    `json:"ndc,omitempty"`
	Strength       float64   `json:"strength"`
	Quantity       float64   `json:"quantity"`
	DaysSupply     int       `json:"days_supply"`
	RefillNumber   int       `json:"refill_number"`
	WrittenDate    time.Time `json:"written_date"`
	DispensedDate  time.Time `json:"dispensed_date"`
	PrescriberName string    `json:"prescriber_name,omitempty"`
	PrescriberDEA  string    `json:"prescriber_dea,omitempty"`
	PrescriberNPI  string    `json:"prescriber_npi,omitempty"`
	PharmacyName   string    `json:"pharmacy_name,omitempty"`
	PharmacyDEA    string    `json:"pharmacy_dea,omitempty"`
	PharmacyNPI    string    `json:"pharmacy_npi,omitempty"`
	PaymentType    string    `json:"payment_type,omitempty"`
}

// End is when the supply runs out
func (r Record) End() time.Time {
	return r.DispensedDate.Add(time.Duration(r.DaysSupply) * day)
}

// IsActive reports whether supply remains at now
func (r Record) IsActive(now time.Time) bool {
	return !r.End().Before(now)
}

// IsCash reports whether the patient paid out of pocket
func (r Record) IsCash() bool {
	return strings.EqualFold(r.PaymentType, PaymentCash)
}

// MME computes the record's dose equivalence
func (r Record) MME() MMEResult {
	return CalculateMME(r.DrugName, r.Strength, r.Quantity, r.DaysSupply)
}

func (r Record) drugKey() string {
	if ndc, ok := codes.NormalizeNDC(r.NDC); ok {
		return ndc
	}
	return strings.ToLower(strings.TrimSpace(r.DrugName))
}

func prescriberKey(r Record) string {
	return businessKey(r.PrescriberDEA, r.PrescriberNPI, r.PrescriberName)
}

func pharmacyKey(r Record) string {
	return businessKey(r.PharmacyDEA, r.PharmacyNPI, r.PharmacyName)
}

// businessKey prefers registration numbers over display names
func businessKey(dea, npi, name string) string {
	if dea = strings.ToUpper(strings.TrimSpace(dea)); dea != "" {
		return "dea:" + dea
	}
	if npi = strings.TrimSpace(npi); npi != "" {
		return "npi:" + npi
	}
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		return "name:" + name
	}
	return ""
}

// CalculateTotalDailyMME sums daily MME across records still active at now
func CalculateTotalDailyMME(history []Record, now time.Time) float64 {
	total := 0.0
	for _, r := range history {
		if r.IsActive(now) {
			total += r.MME().DailyMME
		}
	}
	return total
}

// Overlap is a pair of records whose supply windows intersect
type Overlap struct {
	First  string `json:"first_prescription_id"`
	Second string `json:"second_prescription_id"`
	Days   int    `json:"days"`
}

// DetectOverlappingPrescriptions reports every unordered pair whose
// [dispensed, dispensed+daysSupply) windows intersect and the summed overlap
// days. A record overlapping several others is counted once per pair.
func DetectOverlappingPrescriptions(history []Record) ([]Overlap, int) {
	var overlaps []Overlap
	total := 0
	for i := 0; i < len(history); i++ {
		for j := i + 1; j < len(history); j++ {
			a, b := history[i], history[j]
			start := a.DispensedDate
			if b.DispensedDate.After(start) {
				start = b.DispensedDate
			}
			end := a.End()
			if b.End().Before(end) {
				end = b.End()
			}
			if !end.After(start) {
				continue
			}
			days := int(math.Ceil(end.Sub(start).Hours() / 24))
			overlaps = append(overlaps, Overlap{First: a.PrescriptionID, Second: b.PrescriptionID, Days: days})
			total += days
		}
	}
	return overlaps, total
}

// CountUniquePrescribers dedupes prescribers by DEA, then NPI, then name
func CountUniquePrescribers(history []Record) int {
	return countUnique(history, prescriberKey)
}

// CountUniquePharmacies dedupes pharmacies by DEA, then NPI, then name
func CountUniquePharmacies(history []Record) int {
	return countUnique(history, pharmacyKey)
}

func countUnique(history []Record, key func(Record) string) int {
	seen := make(map[string]bool)
	for _, r := range history {
		if k := key(r); k != "" {
			seen[k] = true
		}
	}
	return len(seen)
}

// CountCashTransactions counts cash-paid records
func CountCashTransactions(history []Record) int {
	n := 0
	for _, r := range history {
		if r.IsCash() {
			n++
		}
	}
	return n
}

// EarlyRefill is a fill dispensed before the previous supply should have run out
type EarlyRefill struct {
	DrugKey        string  `json:"drug_key"`
	PreviousID     string  `json:"previous_prescription_id"`
	CurrentID      string  `json:"current_prescription_id"`
	DaysEarly      float64 `json:"days_early"`
	PreviousRefill int     `json:"previous_refill_number"`
	CurrentRefill  int     `json:"current_refill_number"`
}

// DetectEarlyRefills groups records by drug and flags consecutive fills
// (by refill number) where the later one came before the previous supply,
// less gracePercent of it, had elapsed.
func DetectEarlyRefills(history []Record, gracePercent float64) []EarlyRefill {
	groups := make(map[string][]Record)
	var keys []string
	for _, r := range history {
		k := r.drugKey()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Strings(keys)

	var out []EarlyRefill
	for _, k := range keys {
		fills := groups[k]
		sort.SliceStable(fills, func(i, j int) bool {
			if fills[i].RefillNumber != fills[j].RefillNumber {
				return fills[i].RefillNumber < fills[j].RefillNumber
			}
			return fills[i].DispensedDate.Before(fills[j].DispensedDate)
		})
		for i := 1; i < len(fills); i++ {
			prev, cur := fills[i-1], fills[i]
			graceDays := float64(prev.DaysSupply) * gracePercent / 100
			due := prev.DispensedDate.Add(time.Duration((float64(prev.DaysSupply) - graceDays) * float64(day)))
			if cur.DispensedDate.Before(due) {
				out = append(out, EarlyRefill{
					DrugKey:        k,
					PreviousID:     prev.PrescriptionID,
					CurrentID:      cur.PrescriptionID,
					DaysEarly:      due.Sub(cur.DispensedDate).Hours() / 24,
					PreviousRefill: prev.RefillNumber,
					CurrentRefill:  cur.RefillNumber,
				})
			}
		}
	}
	return out
}
