// Package dur is the drug utilization review engine: it evaluates a candidate
// drug against a patient's medications, conditions, allergies, age and
// pregnancy status.
package dur

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// Severity of a DUR alert
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AlertType classifies a DUR alert
type AlertType string

const (
	AlertInteraction      AlertType = "drug_interaction"
	AlertAllergy          AlertType = "allergy"
	AlertContraindication AlertType = "contraindication"
	AlertDosing           AlertType = "dosing"
	AlertDuplicateTherapy AlertType = "duplicate_therapy"
)

// NCPDP result-of-service codes accepted on an override
var overrideCodes = map[string]string{
	"1A": "Filled as is, false positive",
	"1B": "Filled prescription as is",
	"1G": "Filled with prescriber approval",
	"3E": "Therapy changed",
	"M0": "Prescriber consulted",
	"R0": "Pharmacist consulted other source",
}

// ValidOverrideCode reports whether code is an accepted result-of-service code
func ValidOverrideCode(code string) bool {
	_, ok := overrideCodes[strings.ToUpper(code)]
	return ok
}

// Alert is one DUR finding for a (patient, drug) pair
type Alert struct {
	ID             string     `json:"id"`
	PrescriptionID string     `json:"prescription_id,omitempty"`
	PatientID      string     `json:"patient_id"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	Drug           string     `json:"drug"`
	Conflict       string     `json:"conflict,omitempty"`
	Message        string     `json:"message"`
	IsOverridden   bool       `json:"is_overridden"`
	OverriddenBy   string     `json:"overridden_by,omitempty"`
	OverrideReason string     `json:"override_reason,omitempty"`
	OverrideCode   string     `json:"override_code,omitempty"`
	OverriddenAt   *time.Time `json:"overridden_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsBlocking reports whether the alert blocks prescription creation
func (a *Alert) IsBlocking() bool {
	return a.Severity == SeverityHigh && !a.IsOverridden
}

// Override records a pharmacist's decision to proceed
func (a *Alert) Override(staffID, reason, code string, minReasonLen int, at time.Time) error {
	if a.IsOverridden {
		return apperr.Conflict(apperr.CodeAlreadyReviewed, "alert %s already overridden by %s", a.ID, a.OverriddenBy)
	}
	if len(strings.TrimSpace(reason)) < minReasonLen {
		return apperr.Validation("override reason must be at least %d characters", minReasonLen)
	}
	if !ValidOverrideCode(code) {
		return apperr.Validation("unknown override code %q", code)
	}
	a.IsOverridden = true
	a.OverriddenBy = staffID
	a.OverrideReason = strings.TrimSpace(reason)
	a.OverrideCode = strings.ToUpper(code)
	a.OverriddenAt = &at
	return nil
}

// PatientProfile is the clinical context a review runs against
type PatientProfile struct {
	PatientID         string   `json:"patient_id"`
	AgeYears          int      `json:"age_years"`
	IsPregnant        bool     `json:"is_pregnant"`
	Allergies         []string `json:"allergies,omitempty"`
	Conditions        []string `json:"conditions,omitempty"`
	ActiveMedications []string `json:"active_medications,omitempty"`
}

// Result is the outcome of one review
type Result struct {
	Alerts                []*Alert `json:"alerts"`
	Passed                bool     `json:"passed"`
	HasHighSeverityAlerts bool     `json:"has_high_severity_alerts"`
}

// Blocking returns the high-severity alerts not yet overridden
func (r *Result) Blocking() []*Alert {
	var out []*Alert
	for _, a := range r.Alerts {
		if a.IsBlocking() {
			out = append(out, a)
		}
	}
	return out
}

type drugInfo struct {
	name        string
	ingredients []string
	classes     []string
}

// Engine evaluates candidate drugs
type Engine struct {
	classifier Classifier
	now        func() time.Time
}

// NewEngine creates an engine; a nil classifier uses the built-in table
func NewEngine(classifier Classifier) *Engine {
	if classifier == nil {
		classifier = StaticClassifier{}
	}
	return &Engine{classifier: classifier, now: time.Now}
}

func (e *Engine) info(drug string) drugInfo {
	ingredients, classes := e.classifier.Classify(drug)
	return drugInfo{name: drug, ingredients: ingredients, classes: classes}
}

// Evaluate reviews drug for the patient. Alerts are ordered by severity,
// highest first, keeping rule order within a severity.
func (e *Engine) Evaluate(drug string, p PatientProfile) *Result {
	cand := e.info(drug)
	now := e.now().UTC()
	var alerts []*Alert
	add := func(t AlertType, sev Severity, conflict, msg string) {
		alerts = append(alerts, &Alert{
			ID:        uuid.New().String(),
			PatientID: p.PatientID,
			Type:      t,
			Severity:  sev,
			Drug:      drug,
			Conflict:  conflict,
			Message:   msg,
			CreatedAt: now,
		})
	}

	for _, med := range p.ActiveMedications {
		other := e.info(med)
		for _, ix := range interactions {
			if (ix.a.matches(cand) && ix.b.matches(other)) || (ix.b.matches(cand) && ix.a.matches(other)) {
				add(AlertInteraction, ix.severity, med, ix.message)
			}
		}
		for _, c := range sharedClasses(cand, other) {
			add(AlertDuplicateTherapy, SeverityMedium, med,
				fmt.Sprintf("Duplicate %s therapy with %s", strings.ReplaceAll(c, "_", " "), med))
		}
	}

	for _, allergy := range p.Allergies {
		key := strings.ToLower(allergy)
		direct := false
		for _, ingredient := range cand.ingredients {
			if strings.Contains(key, ingredient) {
				direct = true
				add(AlertAllergy, SeverityHigh, allergy, fmt.Sprintf("Patient is allergic to %s", ingredient))
			}
		}
		if direct {
			continue
		}
		for _, kw := range allergyKeywords {
			if !strings.Contains(key, kw) {
				continue
			}
			for _, cr := range allergyRules[kw] {
				for _, c := range cr.classes {
					if contains(cand.classes, c) {
						add(AlertAllergy, cr.severity, allergy, cr.message)
					}
				}
			}
		}
	}

	for _, cond := range p.Conditions {
		key := strings.ToLower(cond)
		for _, ci := range contraindications {
			if strings.Contains(key, ci.condition) && ci.rule.matches(cand) {
				add(AlertContraindication, ci.severity, cond, ci.message)
			}
		}
	}
	if p.IsPregnant {
		for _, ci := range pregnancyRules {
			if ci.rule.matches(cand) {
				add(AlertContraindication, ci.severity, "pregnancy", ci.message)
			}
		}
	}

	if p.AgeYears > 0 {
		for _, ar := range ageRules {
			if ar.applies(p.AgeYears) && ar.rule.matches(cand) {
				add(AlertDosing, ar.severity, fmt.Sprintf("age %d", p.AgeYears), ar.message)
			}
		}
	}

	alerts = dedupe(alerts)
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.rank() > alerts[j].Severity.rank()
	})

	res := &Result{Alerts: alerts}
	for _, a := range alerts {
		if a.Severity == SeverityHigh {
			res.HasHighSeverityAlerts = true
		}
	}
	res.Passed = !res.HasHighSeverityAlerts
	if res.Alerts == nil {
		res.Alerts = []*Alert{}
	}
	return res
}

func sharedClasses(a, b drugInfo) []string {
	var out []string
	for _, c := range a.classes {
		if c == ClassAnalgesic {
			continue
		}
		if contains(b.classes, c) {
			out = append(out, c)
		}
	}
	return out
}

// dedupe drops repeats of the same type and message against the same conflict
func dedupe(alerts []*Alert) []*Alert {
	seen := make(map[string]bool)
	out := alerts[:0]
	for _, a := range alerts {
		k := string(a.Type) + "|" + a.Conflict + "|" + a.Message
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
