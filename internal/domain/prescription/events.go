package prescription

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionCreated      EventType = "PrescriptionCreated"
	EventPrescriptionTransitioned EventType = "PrescriptionTransitioned"
	EventPrescriptionReady        EventType = "PrescriptionReadyForPickup"
	EventPrescriptionSold         EventType = "PrescriptionSold"
	EventPrescriptionCancelled    EventType = "PrescriptionCancelled"
	EventPrescriptionReturned     EventType = "PrescriptionReturnedToStock"
	EventClaimAdjudicated         EventType = "ClaimAdjudicated"
)

// Topics the outbox routes events to
const (
	TopicWorkflowEvents      = "rx.workflow.events"
	TopicPickupNotifications = "rx.pickup.notifications"
)

// Event is a domain event written to the outbox in the same unit of work as the change
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientHash   string          `json:"patient_hash,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event for p at its current version
func NewEvent(p *Prescription, eventType EventType, data interface{}, at time.Time) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   p.ID,
		AggregateType: "Prescription",
		EventType:     eventType,
		EventData:     eventData,
		Version:       p.Version,
		Timestamp:     at.UTC(),
		PatientHash:   HashPatient(p.PatientID),
	}, nil
}

// HashPatient pseudonymizes a patient identifier for event payloads
func HashPatient(patientID string) string {
	sum := sha256.Sum256([]byte(patientID))
	return hex.EncodeToString(sum[:16])
}

// CreatedData describes a newly opened prescription
type CreatedData struct {
	PrescriptionID         string      `json:"prescription_id"`
	DrugNDC                string      `json:"drug_ndc"`
	DrugName               string      `json:"drug_name"`
	DEASchedule            DEASchedule `json:"dea_schedule,omitempty"`
	Priority               Priority    `json:"priority"`
	RefillNumber           int         `json:"refill_number"`
	OriginalPrescriptionID string      `json:"original_prescription_id,omitempty"`
}

// TransitionedData mirrors one history entry
type TransitionedData struct {
	PrescriptionID string    `json:"prescription_id"`
	FromState      State     `json:"from_state"`
	ToState        State     `json:"to_state"`
	ActorStaffID   string    `json:"actor_staff_id"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// ReadyData is consumed by the pickup notification worker
type ReadyData struct {
	PrescriptionID string     `json:"prescription_id"`
	PatientID      string     `json:"patient_id"`
	DrugName       string     `json:"drug_name"`
	BinID          string     `json:"bin_id"`
	PromiseTime    *time.Time `json:"promise_time,omitempty"`
	ReadyAt        time.Time  `json:"ready_at"`
}

// ClaimAdjudicatedData summarizes a claim outcome
type ClaimAdjudicatedData struct {
	PrescriptionID string   `json:"prescription_id"`
	ClaimID        string   `json:"claim_id"`
	Status         string   `json:"status"`
	RejectCodes    []string `json:"reject_codes,omitempty"`
}
