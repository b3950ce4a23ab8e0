package risk

import (
	"fmt"
	"time"
)

// Config tunes the analysis thresholds
type Config struct {
	PrescriberThreshold int
	PharmacyThreshold   int
	CashThreshold       int
	// EarlyRefillGracePercent of the previous days supply may remain when a refill is still on time
	EarlyRefillGracePercent float64
}

// DefaultConfig returns the reference thresholds
func DefaultConfig() Config {
	return Config{
		PrescriberThreshold: 4,
		PharmacyThreshold:   4,
		CashThreshold:       3,
	}
}

// AlertType names a risk flag
type AlertType string

const (
	AlertHighMME             AlertType = "high_mme"
	AlertMultiplePrescribers AlertType = "multiple_prescribers"
	AlertMultiplePharmacies  AlertType = "multiple_pharmacies"
	AlertCashPattern         AlertType = "cash_pattern"
	AlertEarlyRefill         AlertType = "early_refill"
	AlertOverlappingTherapy  AlertType = "overlapping_prescriptions"
)

// Severity of a risk alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one triggered risk flag
type Alert struct {
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`
	Title    string    `json:"title"`
	Detail   string    `json:"detail,omitempty"`
}

// Level is the aggregate risk bucket
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// RequiresReview reports whether a pharmacist must review before dispensing a controlled substance
func (l Level) RequiresReview() bool {
	return l == LevelHigh || l == LevelCritical
}

// LevelForScore maps a score onto a level; it is monotonic in score
func LevelForScore(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 40:
		return LevelHigh
	case score >= 20:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Assessment is the computed result of analyzing a history
type Assessment struct {
	TotalDailyMME     float64       `json:"total_daily_mme"`
	MMELevel          MMELevel      `json:"mme_level"`
	UniquePrescribers int           `json:"unique_prescribers"`
	UniquePharmacies  int           `json:"unique_pharmacies"`
	CashTransactions  int           `json:"cash_transactions"`
	Overlaps          []Overlap     `json:"overlaps,omitempty"`
	OverlappingDays   int           `json:"overlapping_days"`
	EarlyRefills      []EarlyRefill `json:"early_refills,omitempty"`
	Alerts            []Alert       `json:"alerts"`
	RiskScore         int           `json:"risk_score"`
	RiskLevel         Level         `json:"risk_level"`
}

// Analyzer runs the risk analysis
type Analyzer struct {
	config Config
}

// NewAnalyzer creates an analyzer; zero thresholds fall back to defaults
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.PrescriberThreshold <= 0 {
		cfg.PrescriberThreshold = def.PrescriberThreshold
	}
	if cfg.PharmacyThreshold <= 0 {
		cfg.PharmacyThreshold = def.PharmacyThreshold
	}
	if cfg.CashThreshold <= 0 {
		cfg.CashThreshold = def.CashThreshold
	}
	return &Analyzer{config: cfg}
}

// Analyze computes every metric and scores the flags it triggers. Each flag
// adds a non-negative weight that grows with its own metric, so adding
// evidence never lowers the score.
func (a *Analyzer) Analyze(history []Record, now time.Time) Assessment {
	as := Assessment{
		TotalDailyMME:     CalculateTotalDailyMME(history, now),
		UniquePrescribers: CountUniquePrescribers(history),
		UniquePharmacies:  CountUniquePharmacies(history),
		CashTransactions:  CountCashTransactions(history),
		EarlyRefills:      DetectEarlyRefills(history, a.config.EarlyRefillGracePercent),
		Alerts:            []Alert{},
	}
	as.Overlaps, as.OverlappingDays = DetectOverlappingPrescriptions(history)
	as.MMELevel = LevelFor(as.TotalDailyMME)

	score := 0

	switch as.MMELevel {
	case MMELevelCrit:
		score += 40
		as.Alerts = append(as.Alerts, Alert{AlertHighMME, SeverityCritical, "Daily MME at or above 120",
			fmt.Sprintf("%.1f MME/day", as.TotalDailyMME)})
	case MMELevelDanger:
		score += 30
		as.Alerts = append(as.Alerts, Alert{AlertHighMME, SeverityHigh, "Daily MME at or above 90",
			fmt.Sprintf("%.1f MME/day", as.TotalDailyMME)})
	case MMELevelWarning:
		score += 20
		as.Alerts = append(as.Alerts, Alert{AlertHighMME, SeverityMedium, "Daily MME at or above 50",
			fmt.Sprintf("%.1f MME/day", as.TotalDailyMME)})
	}

	if n, t := as.UniquePrescribers, a.config.PrescriberThreshold; n >= t {
		score += 20 + 5*(n-t)
		as.Alerts = append(as.Alerts, Alert{AlertMultiplePrescribers, severityForCount(n, t), "Multiple prescribers",
			fmt.Sprintf("%d unique prescribers", n)})
	}
	if n, t := as.UniquePharmacies, a.config.PharmacyThreshold; n >= t {
		score += 20 + 5*(n-t)
		as.Alerts = append(as.Alerts, Alert{AlertMultiplePharmacies, severityForCount(n, t), "Multiple pharmacies",
			fmt.Sprintf("%d unique pharmacies", n)})
	}
	if n, t := as.CashTransactions, a.config.CashThreshold; n >= t {
		score += 15 + 3*(n-t)
		as.Alerts = append(as.Alerts, Alert{AlertCashPattern, SeverityMedium, "Cash payment pattern",
			fmt.Sprintf("%d cash transactions", n)})
	}
	if n := len(as.EarlyRefills); n > 0 {
		score += 10 * minInt(n, 3)
		sev := SeverityMedium
		if n > 1 {
			sev = SeverityHigh
		}
		as.Alerts = append(as.Alerts, Alert{AlertEarlyRefill, sev, "Early refills",
			fmt.Sprintf("%d fills before prior supply ran out", n)})
	}
	if n := len(as.Overlaps); n > 0 {
		score += 10 + 2*minInt(n, 10)
		as.Alerts = append(as.Alerts, Alert{AlertOverlappingTherapy, SeverityMedium, "Overlapping prescriptions",
			fmt.Sprintf("%d overlapping pairs, %d days", n, as.OverlappingDays)})
	}

	if score > 100 {
		score = 100
	}
	as.RiskScore = score
	as.RiskLevel = LevelForScore(score)
	return as
}

func severityForCount(n, threshold int) Severity {
	if n >= threshold*2 {
		return SeverityCritical
	}
	return SeverityHigh
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
