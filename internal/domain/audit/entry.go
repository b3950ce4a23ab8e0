// Package audit defines the typed audit trail written for every mutating
// workflow action and the sinks that receive it.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names a kind of audited mutation
type Action string

const (
	ActionPrescriptionCreated Action = "prescription.created"
	ActionStateTransition     Action = "prescription.transition"
	ActionAssigned            Action = "prescription.assigned"
	ActionHold                Action = "prescription.hold"
	ActionFieldUpdated        Action = "prescription.field_updated"
	ActionRefillRequested     Action = "prescription.refill_requested"
	ActionClaimAdjudicated    Action = "claim.adjudicated"
	ActionClaimResolved       Action = "claim.resolved"
	ActionPriorAuthRecorded   Action = "claim.prior_auth"
	ActionFillUpdated         Action = "fill.updated"
	ActionDUROverridden       Action = "dur.overridden"
	ActionPDMPQueried         Action = "pdmp.queried"
	ActionPDMPReviewed        Action = "pdmp.reviewed"
	ActionPickup              Action = "willcall.pickup"
	ActionReturnToStock       Action = "willcall.return_to_stock"
	ActionBinSwept            Action = "willcall.swept"
)

// Resource types
const (
	ResourcePrescription = "prescription"
	ResourceClaim        = "claim"
	ResourceFill         = "fill"
	ResourceDURAlert     = "dur_alert"
	ResourcePDMPSnapshot = "pdmp_snapshot"
	ResourceBin          = "will_call_bin"
)

// Payload is one member of the closed set of audit detail shapes
type Payload interface {
	Action() Action
	ResourceType() string
}

// Entry is an immutable audit record
type Entry struct {
	ID           string    `json:"id"`
	Action       Action    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	ActorID      string    `json:"actor_id"`
	Details      Payload   `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEntry wraps a payload for the resource
func NewEntry(actorID, resourceID string, p Payload, at time.Time) *Entry {
	return &Entry{
		ID:           uuid.New().String(),
		Action:       p.Action(),
		ResourceType: p.ResourceType(),
		ResourceID:   resourceID,
		ActorID:      actorID,
		Details:      p,
		Timestamp:    at,
	}
}

// UnmarshalJSON decodes details into the payload type registered for the action
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           string          `json:"id"`
		Action       Action          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		ActorID      string          `json:"actor_id"`
		Details      json.RawMessage `json:"details"`
		Timestamp    time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := DecodePayload(raw.Action, raw.Details)
	if err != nil {
		return err
	}
	*e = Entry{
		ID:           raw.ID,
		Action:       raw.Action,
		ResourceType: raw.ResourceType,
		ResourceID:   raw.ResourceID,
		ActorID:      raw.ActorID,
		Details:      p,
		Timestamp:    raw.Timestamp,
	}
	return nil
}

// DecodePayload decodes raw details for a known action
func DecodePayload(action Action, raw []byte) (Payload, error) {
	var p Payload
	switch action {
	case ActionPrescriptionCreated:
		p = &Created{}
	case ActionStateTransition:
		p = &Transition{}
	case ActionAssigned:
		p = &Assignment{}
	case ActionHold:
		p = &Hold{}
	case ActionFieldUpdated:
		p = &FieldUpdate{}
	case ActionRefillRequested:
		p = &Refill{}
	case ActionClaimAdjudicated:
		p = &ClaimAdjudication{}
	case ActionClaimResolved:
		p = &ClaimResolution{}
	case ActionPriorAuthRecorded:
		p = &PriorAuth{}
	case ActionFillUpdated:
		p = &FillUpdate{}
	case ActionDUROverridden:
		p = &DUROverride{}
	case ActionPDMPQueried:
		p = &PDMPQuery{}
	case ActionPDMPReviewed:
		p = &PDMPReview{}
	case ActionPickup:
		p = &Pickup{}
	case ActionReturnToStock:
		p = &ReturnToStock{}
	case ActionBinSwept:
		p = &BinSwept{}
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", action, err)
		}
	}
	return p, nil
}
