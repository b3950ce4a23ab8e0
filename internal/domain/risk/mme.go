// Package risk scores controlled-substance risk from a patient's dispensing
// history: opioid dose equivalence, overlapping therapy, prescriber and
// pharmacy diversity, cash payment and early refills.
package risk

import (
	"sort"
	"strings"
)

// MME thresholds in morphine milligram equivalents per day
const (
	MMEWarning  = 50.0
	MMEDanger   = 90.0
	MMECritical = 120.0
)

// CDC conversion factors by active ingredient. Fentanyl is the transdermal
// factor per mcg/hr. Methadone is banded separately.
var conversionFactors = map[string]float64{
	"codeine":        0.15,
	"dihydrocodeine": 0.25,
	"fentanyl":       2.4,
	"hydrocodone":    1,
	"hydromorphone":  4,
	"levorphanol":    11,
	"meperidine":     0.1,
	"morphine":       1,
	"oxycodone":      1.5,
	"oxymorphone":    3,
	"pentazocine":    0.37,
	"tapentadol":     0.4,
	"tramadol":       0.1,
}

// ingredients sorted longest first so the most specific name wins
var ingredients = func() []string {
	keys := make([]string, 0, len(conversionFactors)+1)
	for k := range conversionFactors {
		keys = append(keys, k)
	}
	keys = append(keys, "methadone")
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Ingredient extracts the opioid ingredient from a drug name or class, "" if none
func Ingredient(drug string) string {
	name := strings.ToLower(drug)
	for _, k := range ingredients {
		if strings.Contains(name, k) {
			return k
		}
	}
	return ""
}

// MethadoneFactor returns the dose-banded conversion factor for a daily methadone dose in mg
func MethadoneFactor(dailyDose float64) float64 {
	switch {
	case dailyDose <= 0:
		return 0
	case dailyDose <= 20:
		return 4
	case dailyDose <= 40:
		return 8
	case dailyDose <= 60:
		return 10
	default:
		return 12
	}
}

// ConversionFactor returns the MME factor for an ingredient at a daily dose
func ConversionFactor(ingredient string, dailyDose float64) float64 {
	if ingredient == "methadone" {
		return MethadoneFactor(dailyDose)
	}
	return conversionFactors[ingredient]
}

// MMELevel buckets a daily MME
type MMELevel string

const (
	MMENormal       MMELevel = "normal"
	MMELevelWarning MMELevel = "warning"
	MMELevelDanger  MMELevel = "danger"
	MMELevelCrit    MMELevel = "critical"
)

// LevelFor buckets a daily MME against the thresholds
func LevelFor(dailyMME float64) MMELevel {
	switch {
	case dailyMME >= MMECritical:
		return MMELevelCrit
	case dailyMME >= MMEDanger:
		return MMELevelDanger
	case dailyMME >= MMEWarning:
		return MMELevelWarning
	default:
		return MMENormal
	}
}

// MMEResult is the dose equivalence of one prescription
type MMEResult struct {
	Ingredient       string   `json:"ingredient"`
	DailyDose        float64  `json:"daily_dose"`
	ConversionFactor float64  `json:"conversion_factor"`
	DailyMME         float64  `json:"daily_mme"`
	IsHighDose       bool     `json:"is_high_dose"`
	Level            MMELevel `json:"level"`
}

// CalculateMME computes daily dose and MME. strength is mg (or mcg/hr for
// patches) per unit. Unknown drugs convert at 0.
func CalculateMME(drug string, strength, quantity float64, daysSupply int) MMEResult {
	res := MMEResult{Ingredient: Ingredient(drug), Level: MMENormal}
	if daysSupply <= 0 || strength <= 0 || quantity <= 0 {
		return res
	}
	res.DailyDose = strength * quantity / float64(daysSupply)
	res.ConversionFactor = ConversionFactor(res.Ingredient, res.DailyDose)
	res.DailyMME = res.DailyDose * res.ConversionFactor
	res.IsHighDose = res.DailyMME >= MMEWarning
	res.Level = LevelFor(res.DailyMME)
	return res
}
