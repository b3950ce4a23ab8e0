package risk

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCalculateMME(t *testing.T) {
	tests := []struct {
		drug                 string
		strength, qty        float64
		days                 int
		wantDose, wantFactor float64
		wantMME              float64
		wantHigh             bool
	}{
		{"Hydrocodone/APAP 10-325", 10, 60, 30, 20, 1, 20, false},
		{"Oxycodone HCl 30mg", 30, 60, 30, 60, 1.5, 90, true},
		{"Morphine ER 15mg", 15, 60, 30, 30, 1, 30, false},
		{"Methadone 10mg", 10, 30, 30, 10, 4, 40, false},
		{"Methadone 10mg", 10, 90, 30, 30, 8, 240, true},
		{"Methadone 10mg", 10, 150, 30, 50, 10, 500, true},
		{"Methadone 10mg", 10, 210, 30, 70, 12, 840, true},
		{"Hydromorphone 4mg", 4, 30, 30, 4, 4, 16, false},
		{"Lisinopril 10mg", 10, 30, 30, 10, 0, 0, false},
	}
	for _, tt := range tests {
		got := CalculateMME(tt.drug, tt.strength, tt.qty, tt.days)
		if !approx(got.DailyDose, tt.wantDose) || !approx(got.ConversionFactor, tt.wantFactor) ||
			!approx(got.DailyMME, tt.wantMME) || got.IsHighDose != tt.wantHigh {
			t.Errorf("%s: got %+v", tt.drug, got)
		}
	}
}

func TestMethadoneBands(t *testing.T) {
	bands := map[float64]float64{1: 4, 20: 4, 20.5: 8, 40: 8, 41: 10, 60: 10, 61: 12, 200: 12}
	for dose, want := range bands {
		if got := MethadoneFactor(dose); got != want {
			t.Errorf("MethadoneFactor(%v) = %v, want %v", dose, got, want)
		}
	}
}

func TestIngredientPrefersLongestMatch(t *testing.T) {
	cases := map[string]string{
		"HYDROMORPHONE 2MG":       "hydromorphone",
		"oxymorphone er":          "oxymorphone",
		"Acetaminophen/Codeine":   "codeine",
		"Dihydrocodeine compound": "dihydrocodeine",
		"sertraline":              "",
	}
	for in, want := range cases {
		if got := Ingredient(in); got != want {
			t.Errorf("Ingredient(%q) = %q, want %q", in, got, want)
		}
	}
}

func rec(id, drug string, dispensedDaysAgo, days int) Record {
	return Record{
		PrescriptionID: id,
		DrugName:       drug,
		Strength:       10,
		Quantity:       float64(days),
		DaysSupply:     days,
		DispensedDate:  now.Add(-time.Duration(dispensedDaysAgo) * day),
		PrescriberDEA:  "AB1234563",
		PharmacyDEA:    "FP7654321",
		PaymentType:    PaymentInsurance,
	}
}

func TestTotalDailyMMEOnlyActive(t *testing.T) {
	history := []Record{
		rec("a", "oxycodone 10mg", 10, 30),   // active, 10mg/day * 1.5
		rec("b", "hydrocodone 10mg", 40, 30), // ended 10 days ago
		rec("c", "morphine 10mg", 30, 30),    // ends exactly now
	}
	if got := CalculateTotalDailyMME(history, now); !approx(got, 25) {
		t.Fatalf("total MME = %v, want 25", got)
	}
}

func TestDetectOverlappingPrescriptions(t *testing.T) {
	history := []Record{
		rec("a", "oxycodone", 30, 30),
		rec("b", "hydrocodone", 20, 30),
		rec("c", "morphine", 10, 5),
		rec("d", "tramadol", 100, 10),
	}
	overlaps, days := DetectOverlappingPrescriptions(history)
	// a=[-30,0) b=[-20,10) c=[-10,-5): a&b 20, a&c 5, b&c 5
	if len(overlaps) != 3 || days != 30 {
		t.Fatalf("overlaps=%+v days=%d", overlaps, days)
	}
}

func TestCountUniqueByBusinessKey(t *testing.T) {
	a := rec("a", "oxycodone", 5, 30)
	a.PrescriberName = "Dr Smith"
	b := rec("b", "oxycodone", 5, 30)
	b.PrescriberName = "SMITH, JOHN MD"
	c := rec("c", "oxycodone", 5, 30)
	c.PrescriberDEA = "BS7654320"
	c.PharmacyDEA = ""
	c.PharmacyNPI = "1245319599"

	history := []Record{a, b, c}
	if got := CountUniquePrescribers(history); got != 2 {
		t.Errorf("prescribers = %d, want 2", got)
	}
	if got := CountUniquePharmacies(history); got != 2 {
		t.Errorf("pharmacies = %d, want 2", got)
	}
}

func TestDetectEarlyRefills(t *testing.T) {
	base := now.Add(-100 * day)
	fill := func(id string, refill, offset int) Record {
		return Record{PrescriptionID: id, NDC: "12345-6789-01", DrugName: "oxycodone", DaysSupply: 30,
			RefillNumber: refill, DispensedDate: base.Add(time.Duration(offset) * day)}
	}

	early := DetectEarlyRefills([]Record{fill("r0", 0, 0), fill("r1", 1, 20)}, 0)
	if len(early) != 1 || early[0].CurrentID != "r1" || !approx(early[0].DaysEarly, 10) {
		t.Fatalf("day 20 should be flagged: %+v", early)
	}

	if early := DetectEarlyRefills([]Record{fill("r0", 0, 0), fill("r1", 1, 35)}, 0); len(early) != 0 {
		t.Fatalf("day 35 should not be flagged: %+v", early)
	}

	// 10% grace of 30 days: due on day 27
	if early := DetectEarlyRefills([]Record{fill("r0", 0, 0), fill("r1", 1, 28)}, 10); len(early) != 0 {
		t.Fatalf("day 28 is inside the grace window: %+v", early)
	}

	// different drugs never pair
	other := fill("x", 1, 5)
	other.NDC = "00002-3227-30"
	if early := DetectEarlyRefills([]Record{fill("r0", 0, 0), other}, 0); len(early) != 0 {
		t.Fatalf("different NDCs paired: %+v", early)
	}
}

func TestAnalyzeScoreIsMonotonic(t *testing.T) {
	an := NewAnalyzer(DefaultConfig())

	old := func(id string, offset int) Record {
		r := rec(id, "lisinopril", 300+offset*40, 30)
		r.NDC = ""
		r.DrugName = "drug-" + id
		return r
	}
	history := []Record{old("a", 0), old("b", 1), old("c", 2)}
	prev := an.Analyze(history, now).RiskScore

	steps := []func(i int) Record{
		func(i int) Record { // new prescriber
			r := old("p"+string(rune('a'+i)), 3+i)
			r.PrescriberDEA = "PX" + string(rune('A'+i)) + "000000"
			return r
		},
		func(i int) Record { // cash payment
			r := old("c"+string(rune('a'+i)), 10+i)
			r.PaymentType = PaymentCash
			return r
		},
		func(i int) Record { // overlaps the first record
			r := history[0]
			r.PrescriptionID = "o" + string(rune('a'+i))
			r.DrugName = "overlap-" + r.PrescriptionID
			return r
		},
		func(i int) Record { // new pharmacy
			r := old("ph"+string(rune('a'+i)), 20+i)
			r.PharmacyDEA = "FX" + string(rune('A'+i)) + "000000"
			return r
		},
	}

	for round := 0; round < 5; round++ {
		for s, step := range steps {
			history = append(history, step(round))
			got := an.Analyze(history, now)
			if got.RiskScore < prev {
				t.Fatalf("round %d step %d: score dropped %d -> %d", round, s, prev, got.RiskScore)
			}
			if got.RiskScore > 100 {
				t.Fatalf("score above cap: %d", got.RiskScore)
			}
			prev = got.RiskScore
		}
	}
	if LevelForScore(prev) != LevelCritical {
		t.Errorf("expected the accumulated history to be critical, score %d", prev)
	}
}

func TestAnalyzeAlerts(t *testing.T) {
	history := []Record{
		{PrescriptionID: "a", DrugName: "oxycodone 30mg", Strength: 30, Quantity: 120, DaysSupply: 30,
			DispensedDate: now.Add(-5 * day), PrescriberDEA: "A1", PharmacyDEA: "P1", PaymentType: PaymentCash},
	}
	as := NewAnalyzer(DefaultConfig()).Analyze(history, now)
	if as.TotalDailyMME != 180 || as.MMELevel != MMELevelCrit {
		t.Fatalf("mme = %v level = %s", as.TotalDailyMME, as.MMELevel)
	}
	if len(as.Alerts) != 1 || as.Alerts[0].Type != AlertHighMME || as.Alerts[0].Severity != SeverityCritical {
		t.Fatalf("alerts = %+v", as.Alerts)
	}
	if as.RiskLevel != LevelHigh {
		t.Errorf("risk level = %s (score %d)", as.RiskLevel, as.RiskScore)
	}
}

func TestSnapshotReviewOnce(t *testing.T) {
	s := &Snapshot{ID: "s1", Assessment: Assessment{RiskLevel: LevelHigh}}
	if !s.NeedsReview() {
		t.Fatal("high risk snapshot should need review")
	}
	if err := s.AttachReview(Review{ReviewerID: "rph", Decision: "maybe"}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad decision accepted: %v", err)
	}
	if err := s.AttachReview(Review{ReviewerID: "rph", Decision: DecisionProceedWithCaution, ReviewedAt: now}); err != nil {
		t.Fatal(err)
	}
	if s.NeedsReview() {
		t.Fatal("reviewed snapshot still blocks")
	}
	err := s.AttachReview(Review{ReviewerID: "rph2", Decision: DecisionRefuse})
	if !errors.Is(err, apperr.ErrConflict) || s.Review.ReviewerID != "rph" {
		t.Fatalf("second review must conflict: %v", err)
	}
}

type slowProvider struct{}

func (slowProvider) FetchHistory(ctx context.Context, q Query) ([]Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func validQuery() Query {
	return Query{
		PatientID:   "pat-1",
		FirstName:   "Ana",
		LastName:    "Ruiz",
		DateOfBirth: time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC),
		States:      []string{"OH", "PA"},
		Purpose:     "controlled substance dispensing",
	}
}

func TestMonitorQuery(t *testing.T) {
	provider := StaticProvider{"pat-1": {rec("a", "oxycodone 10mg", 5, 30)}}
	m := NewMonitor(provider, nil, nil, time.Second, nil)

	snap, err := m.Query(context.Background(), validQuery(), "rph-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ID == "" || len(snap.Records) != 1 || snap.QueriedBy != "rph-1" {
		t.Fatalf("snapshot = %+v", snap)
	}

	bad := validQuery()
	bad.States = []string{"Ohio"}
	if _, err := m.Query(context.Background(), bad, "rph-1", now); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad query accepted: %v", err)
	}

	slow := NewMonitor(slowProvider{}, nil, nil, 10*time.Millisecond, nil)
	_, err = slow.Query(context.Background(), validQuery(), "rph-1", now)
	if apperr.CodeOf(err) != apperr.CodeExternalTimeout || !apperr.IsRecoverable(err) {
		t.Fatalf("expected recoverable timeout, got %v", err)
	}
}
