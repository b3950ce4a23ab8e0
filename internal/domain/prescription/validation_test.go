package prescription

import (
	"testing"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		kind   apperr.Kind
		code   string
	}{
		{"valid", func(r *CreateRequest) {}, "", ""},
		{"zero quantity", func(r *CreateRequest) { r.QuantityWritten = 0 }, apperr.KindValidation, apperr.CodeValidation},
		{"days supply too long", func(r *CreateRequest) { r.DaysSupply = 366 }, apperr.KindValidation, apperr.CodeValidation},
		{"too many refills", func(r *CreateRequest) { r.RefillsAuthorized = 100 }, apperr.KindValidation, apperr.CodeValidation},
		{"bad npi", func(r *CreateRequest) { r.PrescriberNPI = "1234567890" }, apperr.KindValidation, apperr.CodeValidation},
		{"bad ndc", func(r *CreateRequest) { r.DrugNDC = "12-3" }, apperr.KindValidation, apperr.CodeValidation},
		{"schedule II with refills", func(r *CreateRequest) {
			r.DEASchedule = ScheduleII
			r.RefillsAuthorized = 1
		}, apperr.KindValidation, apperr.CodeValidation},
		{"schedule II without refills", func(r *CreateRequest) {
			r.DEASchedule = ScheduleII
			r.RefillsAuthorized = 0
		}, "", ""},
		{"controlled without dea", func(r *CreateRequest) {
			r.DEASchedule = ScheduleIV
			r.PrescriberDEA = ""
		}, apperr.KindValidation, apperr.CodeValidation},
		{"schedule II expired at 91 days", func(r *CreateRequest) {
			r.DEASchedule = ScheduleII
			r.RefillsAuthorized = 0
			r.WrittenDate = testNow.Add(-91 * 24 * time.Hour)
		}, apperr.KindPreconditionFailed, apperr.CodePrescriptionExpired},
		{"schedule II valid at 89 days", func(r *CreateRequest) {
			r.DEASchedule = ScheduleII
			r.RefillsAuthorized = 0
			r.WrittenDate = testNow.Add(-89 * 24 * time.Hour)
		}, "", ""},
		{"schedule IV expired at 181 days", func(r *CreateRequest) {
			r.DEASchedule = ScheduleIV
			r.WrittenDate = testNow.Add(-181 * 24 * time.Hour)
		}, apperr.KindPreconditionFailed, apperr.CodePrescriptionExpired},
		{"schedule III valid at 120 days", func(r *CreateRequest) {
			r.DEASchedule = ScheduleIII
			r.WrittenDate = testNow.Add(-120 * 24 * time.Hour)
		}, "", ""},
		{"non-controlled expired after a year", func(r *CreateRequest) {
			r.WrittenDate = testNow.Add(-366 * 24 * time.Hour)
		}, apperr.KindPreconditionFailed, apperr.CodePrescriptionExpired},
		{"future written date", func(r *CreateRequest) {
			r.WrittenDate = testNow.Add(24 * time.Hour)
		}, apperr.KindValidation, apperr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(r)
			err := r.Validate(testNow)
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if apperr.KindOf(err) != tt.kind || apperr.CodeOf(err) != tt.code {
				t.Fatalf("got %v, want %s/%s", err, tt.kind, tt.code)
			}
		})
	}
}

func TestNewNormalizesNDCAndQuantity(t *testing.T) {
	p := New(validRequest(), testNow)
	if p.DrugNDC != "00002322730" {
		t.Errorf("DrugNDC = %s", p.DrugNDC)
	}
	if p.QuantityRemaining != 90 {
		t.Errorf("QuantityRemaining = %v", p.QuantityRemaining)
	}
	if p.State != StateIntake || p.Version != 1 || p.Priority != PriorityNormal {
		t.Errorf("unexpected initial aggregate %+v", p)
	}
}
