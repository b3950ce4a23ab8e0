package dur

import (
	"errors"
	"testing"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

func hasAlert(r *Result, t AlertType, sev Severity) bool {
	for _, a := range r.Alerts {
		if a.Type == t && a.Severity == sev {
			return true
		}
	}
	return false
}

func TestEvaluate(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name     string
		drug     string
		patient  PatientProfile
		wantType AlertType
		wantSev  Severity
		passed   bool
	}{
		{"warfarin with ibuprofen", "Ibuprofen 800mg", PatientProfile{ActiveMedications: []string{"Warfarin 5mg"}},
			AlertInteraction, SeverityHigh, false},
		{"opioid with benzodiazepine", "Oxycodone 10mg", PatientProfile{ActiveMedications: []string{"alprazolam 1mg"}},
			AlertInteraction, SeverityHigh, false},
		{"combination product keeps opioid class", "Hydrocodone/Acetaminophen 10-325", PatientProfile{ActiveMedications: []string{"Lorazepam"}},
			AlertInteraction, SeverityHigh, false},
		{"ssri with maoi", "Sertraline 50mg", PatientProfile{ActiveMedications: []string{"phenelzine"}},
			AlertInteraction, SeverityHigh, false},
		{"penicillin allergy", "Amoxicillin 500mg", PatientProfile{Allergies: []string{"Penicillin"}},
			AlertAllergy, SeverityHigh, false},
		{"cephalosporin cross-sensitivity", "Cephalexin 500mg", PatientProfile{Allergies: []string{"penicillin"}},
			AlertAllergy, SeverityMedium, true},
		{"nsaid in renal failure", "Naproxen", PatientProfile{Conditions: []string{"Chronic renal failure"}},
			AlertContraindication, SeverityHigh, false},
		{"statin in pregnancy", "Atorvastatin 20mg", PatientProfile{IsPregnant: true},
			AlertContraindication, SeverityHigh, false},
		{"codeine in child", "Acetaminophen/Codeine", PatientProfile{AgeYears: 8},
			AlertDosing, SeverityHigh, false},
		{"benzodiazepine in older adult", "Diazepam 5mg", PatientProfile{AgeYears: 78},
			AlertDosing, SeverityMedium, true},
		{"duplicate ssri", "Fluoxetine", PatientProfile{ActiveMedications: []string{"citalopram"}},
			AlertDuplicateTherapy, SeverityMedium, true},
		{"ace inhibitor with nsaid is low", "Lisinopril", PatientProfile{ActiveMedications: []string{"meloxicam"}},
			AlertInteraction, SeverityLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(tt.drug, tt.patient)
			if !hasAlert(r, tt.wantType, tt.wantSev) {
				t.Fatalf("missing %s/%s alert: %+v", tt.wantType, tt.wantSev, r.Alerts)
			}
			if r.Passed != tt.passed || r.HasHighSeverityAlerts == tt.passed {
				t.Fatalf("passed=%v high=%v, want passed=%v", r.Passed, r.HasHighSeverityAlerts, tt.passed)
			}
		})
	}
}

func TestEvaluateCleanAndOrdered(t *testing.T) {
	e := NewEngine(nil)

	r := e.Evaluate("Lisinopril 10mg", PatientProfile{AgeYears: 45})
	if !r.Passed || len(r.Alerts) != 0 {
		t.Fatalf("expected clean review, got %+v", r.Alerts)
	}

	r = e.Evaluate("Ibuprofen 400mg", PatientProfile{
		AgeYears:          70,
		Conditions:        []string{"heart failure", "peptic ulcer"},
		ActiveMedications: []string{"lisinopril", "sertraline"},
	})
	if len(r.Alerts) < 3 {
		t.Fatalf("expected several alerts, got %+v", r.Alerts)
	}
	for i := 1; i < len(r.Alerts); i++ {
		if r.Alerts[i].Severity.rank() > r.Alerts[i-1].Severity.rank() {
			t.Fatalf("alerts not ordered by severity: %+v", r.Alerts)
		}
	}
	if len(r.Blocking()) == 0 {
		t.Fatal("ulcer contraindication should block")
	}
}

func TestOverride(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Alert{ID: "a1", Severity: SeverityHigh}

	if err := a.Override("rph-1", "too short", "1G", 10, at); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("short reason accepted: %v", err)
	}
	if err := a.Override("rph-1", "prescriber confirmed therapy", "ZZ", 10, at); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad code accepted: %v", err)
	}
	if err := a.Override("rph-1", "prescriber confirmed therapy", "1g", 10, at); err != nil {
		t.Fatal(err)
	}
	if a.IsBlocking() || a.OverrideCode != "1G" || a.OverriddenBy != "rph-1" {
		t.Fatalf("override not recorded: %+v", a)
	}
	if err := a.Override("rph-2", "prescriber confirmed therapy", "1G", 10, at); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second override should conflict: %v", err)
	}
}
