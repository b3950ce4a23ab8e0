package claims

// Category groups reject codes by who has to act
type Category string

const (
	CategoryCoverage   Category = "coverage"
	CategoryDUR        Category = "dur"
	CategoryPrescriber Category = "prescriber"
	CategoryPatient    Category = "patient"
	CategoryPharmacy   Category = "pharmacy"
	CategoryDrug       Category = "drug"
	CategoryQuantity   Category = "quantity"
	CategoryOther      Category = "other"
)

// Reject is one reason a claim was refused
type Reject struct {
	Code           string   `json:"code"`
	Description    string   `json:"description"`
	Category       Category `json:"category"`
	ActionRequired string   `json:"action_required"`
	Field          string   `json:"field,omitempty"`
}

type rejectInfo struct {
	description string
	category    Category
	action      string
}

// Well-known reject codes
const (
	RejectInvalidBIN        = "1"
	RejectInvalidPCN        = "4"
	RejectInvalidPharmacy   = "05"
	RejectInvalidCardholder = "07"
	RejectInvalidDaysSupply = "19"
	RejectInvalidNDC        = "21"
	RejectInvalidPrescriber = "25"
	RejectBillPrimary       = "41"
	RejectNonMatchedMember  = "52"
	RejectNonMatchedNPI     = "56"
	RejectNotCovered        = "65"
	RejectProductNotCovered = "70"
	RejectPriorAuthRequired = "75"
	RejectPlanLimits        = "76"
	RejectRefillTooSoon     = "79"
	RejectNotProcessed      = "85"
	RejectDURReject         = "88"
	RejectInvalidQuantity   = "E7"
	RejectNonFormulary      = "MR"
)

var rejectTaxonomy = map[string]rejectInfo{
	RejectInvalidBIN:        {"M/I BIN number", CategoryOther, "Verify the BIN on the patient's insurance card"},
	RejectInvalidPCN:        {"M/I processor control number", CategoryOther, "Verify the PCN on the patient's insurance card"},
	RejectInvalidPharmacy:   {"M/I pharmacy number", CategoryPharmacy, "Verify the pharmacy NPI on file with the processor"},
	RejectInvalidCardholder: {"M/I cardholder ID", CategoryPatient, "Confirm the member ID with the patient"},
	RejectInvalidDaysSupply: {"M/I days supply", CategoryQuantity, "Correct the days supply and resubmit"},
	RejectInvalidNDC:        {"M/I product/service ID", CategoryDrug, "Verify the dispensed NDC"},
	RejectInvalidPrescriber: {"M/I prescriber ID", CategoryPrescriber, "Verify the prescriber NPI"},
	RejectBillPrimary:       {"Submit bill to other processor/primary payer", CategoryCoverage, "Bill the primary plan first"},
	RejectNonMatchedMember:  {"Non-matched cardholder ID", CategoryPatient, "Confirm member ID and date of birth with the patient"},
	RejectNonMatchedNPI:     {"Non-matched prescriber ID", CategoryPrescriber, "Confirm the prescriber is enrolled with the plan"},
	RejectNotCovered:        {"Patient is not covered", CategoryCoverage, "Verify eligibility or convert to cash"},
	RejectProductNotCovered: {"Product/service not covered", CategoryCoverage, "Request a formulary alternative or convert to cash"},
	RejectPriorAuthRequired: {"Prior authorization required", CategoryCoverage, "Submit a prior authorization request to the payer"},
	RejectPlanLimits:        {"Plan limitations exceeded", CategoryQuantity, "Reduce quantity to the plan limit or request an override"},
	RejectRefillTooSoon:     {"Refill too soon", CategoryDUR, "Wait for the refill date or resubmit with a clarification code"},
	RejectNotProcessed:      {"Claim not processed", CategoryOther, "Resubmit the claim"},
	RejectDURReject:         {"DUR reject error", CategoryDUR, "Review the DUR conflict and resubmit with DUR/PPS codes"},
	RejectInvalidQuantity:   {"M/I quantity dispensed", CategoryQuantity, "Correct the quantity and resubmit"},
	RejectNonFormulary:      {"Product not on formulary", CategoryDrug, "Contact the prescriber for a formulary alternative"},
}

// LookupReject resolves a reject code into its taxonomy entry. Unknown codes
// fall into the other category.
func LookupReject(code string) Reject {
	info, ok := rejectTaxonomy[code]
	if !ok {
		return Reject{
			Code:           code,
			Description:    "Unrecognized reject code",
			Category:       CategoryOther,
			ActionRequired: "Contact the processor help desk",
		}
	}
	return Reject{
		Code:           code,
		Description:    info.description,
		Category:       info.category,
		ActionRequired: info.action,
	}
}

func rejectFor(code, field string) Reject {
	r := LookupReject(code)
	r.Field = field
	return r
}
