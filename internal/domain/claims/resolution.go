package claims

import (
	"sort"
	"time"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// Action is how a rejected claim is worked
type Action string

const (
	ActionResubmit  Action = "resubmit"
	ActionOverride  Action = "override"
	ActionPriorAuth Action = "prior_auth"
	ActionCash      Action = "cash"
)

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	switch a {
	case ActionResubmit, ActionOverride, ActionPriorAuth, ActionCash:
		return true
	}
	return false
}

// Outcome tells the workflow where the prescription goes after a resolution
type Outcome int

const (
	// OutcomeResubmit sends the prescription back to insurance pending
	OutcomeResubmit Outcome = iota
	// OutcomePriorAuth parks the prescription until the payer approves
	OutcomePriorAuth
	// OutcomeCash unlinks insurance and releases the prescription to filling
	OutcomeCash
)

// Resolve applies a resolution action to a rejected claim
func (c *Claim) Resolve(action Action, clarificationCode string, at time.Time) (Outcome, error) {
	if !action.IsValid() {
		return 0, apperr.Validation("unknown resolution action %q", action)
	}
	if c.Status != StatusRejected {
		return 0, apperr.Precondition(apperr.CodeClaimNotResolvable,
			"claim %s is %s, only rejected claims can be resolved", c.ID, c.Status)
	}
	if clarificationCode != "" && !ValidClarificationCode(clarificationCode) {
		e := apperr.Validation("clarification code %q must be 1-99", clarificationCode)
		e.Code = apperr.CodeInvalidClarification
		return 0, e
	}

	switch action {
	case ActionOverride:
		if clarificationCode == "" {
			e := apperr.Validation("override requires a submission clarification code")
			e.Code = apperr.CodeInvalidClarification
			return 0, e
		}
		fallthrough
	case ActionResubmit:
		c.Status = StatusPending
		if clarificationCode != "" {
			c.ClarificationCode = clarificationCode
		}
		c.UpdatedAt = at
		return OutcomeResubmit, nil
	case ActionPriorAuth:
		c.UpdatedAt = at
		return OutcomePriorAuth, nil
	default:
		if err := c.Reverse(at); err != nil {
			return 0, err
		}
		return OutcomeCash, nil
	}
}

// QueueItem is one rejected claim awaiting staff attention
type QueueItem struct {
	ClaimID          string    `json:"claim_id"`
	PrescriptionID   string    `json:"prescription_id"`
	Rejects          []Reject  `json:"rejects"`
	PrimaryCategory  Category  `json:"primary_category"`
	SuggestedActions []Action  `json:"suggested_actions"`
	RejectedAt       time.Time `json:"rejected_at"`
}

var suggestionsByCategory = map[Category][]Action{
	CategoryCoverage:   {ActionPriorAuth, ActionCash},
	CategoryDUR:        {ActionOverride, ActionResubmit},
	CategoryPrescriber: {ActionResubmit},
	CategoryPatient:    {ActionResubmit, ActionCash},
	CategoryPharmacy:   {ActionResubmit},
	CategoryDrug:       {ActionResubmit, ActionCash},
	CategoryQuantity:   {ActionResubmit, ActionOverride},
	CategoryOther:      {ActionResubmit, ActionCash},
}

// SuggestActions returns the resolution actions worth offering for a set of rejects
func SuggestActions(rejects []Reject) []Action {
	seen := make(map[Action]bool)
	var out []Action
	add := func(a Action) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, rj := range rejects {
		if rj.Code == RejectPriorAuthRequired {
			add(ActionPriorAuth)
		}
	}
	for _, rj := range rejects {
		for _, a := range suggestionsByCategory[rj.Category] {
			add(a)
		}
	}
	if len(out) == 0 {
		out = append(out, ActionResubmit)
	}
	return out
}

// BuildQueue lists rejected claims oldest first
func BuildQueue(claims []*Claim) []QueueItem {
	var items []QueueItem
	for _, c := range claims {
		if c.Status != StatusRejected {
			continue
		}
		at := c.UpdatedAt
		if c.AdjudicatedAt != nil {
			at = *c.AdjudicatedAt
		}
		primary := CategoryOther
		if len(c.Rejects) > 0 {
			primary = c.Rejects[0].Category
		}
		items = append(items, QueueItem{
			ClaimID:          c.ID,
			PrescriptionID:   c.PrescriptionID,
			Rejects:          c.Rejects,
			PrimaryCategory:  primary,
			SuggestedActions: SuggestActions(c.Rejects),
			RejectedAt:       at,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].RejectedAt.Before(items[j].RejectedAt) })
	return items
}
