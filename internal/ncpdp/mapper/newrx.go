// Package mapper turns SCRIPT transactions into workflow intake requests.
package mapper

import (
	"strconv"
	"strings"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	script "github.com/drfirst/go-rxworkflow/internal/ncpdp/script2023011"
)

var nciSchedules = map[string]prescription.DEASchedule{
	script.DEAScheduleII:   prescription.ScheduleII,
	script.DEAScheduleIII:  prescription.ScheduleIII,
	script.DEAScheduleIV:   prescription.ScheduleIV,
	script.DEAScheduleV:    prescription.ScheduleV,
	script.DEAScheduleNone: prescription.ScheduleNone,
}

// MapSchedule accepts NCI thesaurus codes as well as roman and C-notation
func MapSchedule(code string) (prescription.DEASchedule, bool) {
	code = strings.TrimSpace(code)
	if s, ok := nciSchedules[code]; ok {
		return s, true
	}
	return prescription.ParseSchedule(strings.ToUpper(code))
}

// NewRxToCreateRequest maps a validated NewRx onto the intake request. The
// insurance plan is left empty; the caller links the patient's plan when the
// message carries benefits coordination.
func NewRxToCreateRequest(n *script.NewRx) (*prescription.CreateRequest, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	med := n.MedicationPrescribed

	var problems []string
	qty, err := strconv.ParseFloat(strings.TrimSpace(med.Quantity.Value), 64)
	if err != nil {
		problems = append(problems, "quantity must be numeric")
	}
	days := 0
	if v := strings.TrimSpace(med.DaysSupply.Value); v != "" {
		if days, err = strconv.Atoi(v); err != nil {
			problems = append(problems, "days supply must be an integer")
		}
	}
	refills := 0
	if v := strings.TrimSpace(med.Refills.Value); v != "" {
		if refills, err = strconv.Atoi(v); err != nil {
			problems = append(problems, "refills must be an integer")
		}
	}
	schedule, ok := MapSchedule(n.DEAScheduleCode())
	if !ok {
		problems = append(problems, "unknown DEA schedule "+n.DEAScheduleCode())
	}
	daw := 0
	if med.Substitutions != nil && med.Substitutions.NoSubstitution != "" {
		if daw, err = strconv.Atoi(med.Substitutions.NoSubstitution); err != nil {
			problems = append(problems, "substitution code must be 0-9")
		}
	}
	written, err := script.ParseDate(med.WrittenDate.Date)
	if err != nil {
		problems = append(problems, "written date must be CCYYMMDD")
	}
	if len(problems) > 0 {
		return nil, apperr.Validation("%s", strings.Join(problems, "; ")).WithDetail("violations", problems)
	}

	drugName := med.Product.DrugDescription
	if drugName == "" {
		drugName = med.Product.DrugCoded.ProductCode.Code
	}
	return &prescription.CreateRequest{
		PatientID:         n.PatientFileID(),
		PrescriberID:      n.Prescriber.Identification.NPI,
		PrescriberNPI:     n.Prescriber.Identification.NPI,
		PrescriberDEA:     n.Prescriber.Identification.DEANumber,
		DrugNDC:           med.Product.DrugCoded.ProductCode.Code,
		DrugName:          drugName,
		DEASchedule:       schedule,
		QuantityWritten:   qty,
		DaysSupply:        days,
		RefillsAuthorized: refills,
		SigText:           med.Sig.SigText,
		DAWCode:           daw,
		Notes:             med.Note,
		WrittenDate:       written,
	}, nil
}
