package prescription

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one immutable step in a prescription's state history.
// Sequence is the prescription version produced by the step, so entries
// order totally per prescription.
type HistoryEntry struct {
	ID             string    `json:"id"`
	PrescriptionID string    `json:"prescription_id"`
	Sequence       int       `json:"sequence"`
	FromState      State     `json:"from_state"`
	ToState        State     `json:"to_state"`
	ActorStaffID   string    `json:"actor_staff_id"`
	Reason         string    `json:"reason,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsAssignment reports whether the entry records a reassignment rather than a state change
func (h *HistoryEntry) IsAssignment() bool { return h.FromState == h.ToState }

func newHistoryEntry(p *Prescription, from, to State, actorID, reason, notes string, at time.Time) *HistoryEntry {
	return &HistoryEntry{
		ID:             uuid.New().String(),
		PrescriptionID: p.ID,
		Sequence:       p.Version,
		FromState:      from,
		ToState:        to,
		ActorStaffID:   actorID,
		Reason:         reason,
		Notes:          notes,
		Timestamp:      at,
	}
}
