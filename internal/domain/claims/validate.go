package claims

import (
	"github.com/drfirst/go-rxworkflow/internal/domain/codes"
)

// Validate checks request shape and returns one reject per violated rule.
// An empty result means the request may be sent to the switch.
func (r *Request) Validate() []Reject {
	var rejects []Reject
	if !codes.ValidBIN(r.BIN) {
		rejects = append(rejects, rejectFor(RejectInvalidBIN, "bin"))
	}
	if _, ok := codes.NormalizeNDC(r.NDC); !ok {
		rejects = append(rejects, rejectFor(RejectInvalidNDC, "ndc"))
	}
	if !codes.ValidNPI(r.PrescriberNPI) {
		rejects = append(rejects, rejectFor(RejectInvalidPrescriber, "prescriber_npi"))
	}
	if !codes.ValidNPI(r.PharmacyNPI) {
		rejects = append(rejects, rejectFor(RejectInvalidPharmacy, "pharmacy_npi"))
	}
	if r.Quantity <= 0 {
		rejects = append(rejects, rejectFor(RejectInvalidQuantity, "quantity"))
	}
	if r.DaysSupply < 1 || r.DaysSupply > 365 {
		rejects = append(rejects, rejectFor(RejectInvalidDaysSupply, "days_supply"))
	}
	if r.MemberID == "" {
		rejects = append(rejects, rejectFor(RejectInvalidCardholder, "member_id"))
	}
	return rejects
}

// ValidClarificationCode reports whether code is an NCPDP submission clarification code (1-99)
func ValidClarificationCode(code string) bool {
	if len(code) < 1 || len(code) > 2 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return code != "0" && code != "00"
}
