package prescription

import "sort"

// State is the workflow state of a prescription
type State string

const (
	StateIntake            State = "INTAKE"
	StateDataEntry         State = "DATA_ENTRY"
	StateDataEntryComplete State = "DATA_ENTRY_COMPLETE"
	StateInsurancePending  State = "INSURANCE_PENDING"
	StateInsuranceRejected State = "INSURANCE_REJECTED"
	StateDURReview         State = "DUR_REVIEW"
	StatePriorAuthPending  State = "PRIOR_AUTH_PENDING"
	StatePriorAuthApproved State = "PRIOR_AUTH_APPROVED"
	StateFilling           State = "FILLING"
	StateVerification      State = "VERIFICATION"
	StateReady             State = "READY"
	StateSold              State = "SOLD"
	StateCancelled         State = "CANCELLED"
	StateReturnedToStock   State = "RETURNED_TO_STOCK"
	StateDelivered         State = "DELIVERED"
)

// AllStates lists every workflow state
var AllStates = []State{
	StateIntake, StateDataEntry, StateDataEntryComplete, StateInsurancePending,
	StateInsuranceRejected, StateDURReview, StatePriorAuthPending, StatePriorAuthApproved,
	StateFilling, StateVerification, StateReady, StateSold, StateCancelled,
	StateReturnedToStock, StateDelivered,
}

var terminalStates = map[State]bool{
	StateSold:            true,
	StateCancelled:       true,
	StateReturnedToStock: true,
	StateDelivered:       true,
}

// legalEdges is the complete transition graph apart from cancellation
var legalEdges = map[State][]State{
	StateIntake:            {StateDataEntry},
	StateDataEntry:         {StateInsurancePending, StateFilling},
	StateInsurancePending:  {StateFilling, StateInsuranceRejected, StatePriorAuthPending},
	StateInsuranceRejected: {StateInsurancePending, StateFilling, StatePriorAuthPending},
	StatePriorAuthPending:  {StatePriorAuthApproved, StateInsuranceRejected},
	StatePriorAuthApproved: {StateFilling},
	StateFilling:           {StateVerification},
	StateVerification:      {StateReady, StateFilling},
	StateReady:             {StateSold, StateReturnedToStock},
}

// IsValid reports whether s is a known state
func (s State) IsValid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool { return terminalStates[s] }

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to State) bool {
	if !from.IsValid() || !to.IsValid() || from.IsTerminal() {
		return false
	}
	if to == StateCancelled {
		return true
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the legal destinations from s, sorted
func NextStates(s State) []State {
	var out []State
	for _, to := range AllStates {
		if CanTransition(s, to) {
			out = append(out, to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Priority orders the work queue
type Priority string

const (
	PriorityStat   Priority = "STAT"
	PriorityUrgent Priority = "URGENT"
	PriorityNormal Priority = "NORMAL"
)

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	return p == PriorityStat || p == PriorityUrgent || p == PriorityNormal
}

// Rank orders priorities for the work queue, most urgent first
func (p Priority) Rank() int {
	switch p {
	case PriorityStat:
		return 0
	case PriorityUrgent:
		return 1
	}
	return 2
}

// DEASchedule is the controlled-substance schedule, empty when not controlled
type DEASchedule string

const (
	ScheduleNone DEASchedule = ""
	ScheduleII   DEASchedule = "II"
	ScheduleIII  DEASchedule = "III"
	ScheduleIV   DEASchedule = "IV"
	ScheduleV    DEASchedule = "V"
)

// ParseSchedule accepts roman (II) or NCPDP (C2/CII) notations
func ParseSchedule(s string) (DEASchedule, bool) {
	switch s {
	case "", "none", "NONE":
		return ScheduleNone, true
	case "II", "2", "C2", "CII":
		return ScheduleII, true
	case "III", "3", "C3", "CIII":
		return ScheduleIII, true
	case "IV", "4", "C4", "CIV":
		return ScheduleIV, true
	case "V", "5", "C5", "CV":
		return ScheduleV, true
	}
	return ScheduleNone, false
}

// IsControlled reports whether the schedule is II through V
func (d DEASchedule) IsControlled() bool { return d != ScheduleNone }
