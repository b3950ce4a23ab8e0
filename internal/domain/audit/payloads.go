package audit

// Created is written when a prescription enters INTAKE
type Created struct {
	DrugNDC          string `json:"drug_ndc"`
	DrugName         string `json:"drug_name"`
	DEASchedule      string `json:"dea_schedule,omitempty"`
	Priority         string `json:"priority"`
	Source           string `json:"source"`
	DURAlerts        int    `json:"dur_alerts"`
	OverriddenAlerts int    `json:"overridden_alerts"`
}

func (*Created) Action() Action       { return ActionPrescriptionCreated }
func (*Created) ResourceType() string { return ResourcePrescription }

// Transition mirrors a state history entry
type Transition struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason,omitempty"`
	Sequence int    `json:"sequence"`
}

func (*Transition) Action() Action       { return ActionStateTransition }
func (*Transition) ResourceType() string { return ResourcePrescription }

// Assignment records who now owns the work
type Assignment struct {
	Previous string `json:"previous,omitempty"`
	Assigned string `json:"assigned"`
}

func (*Assignment) Action() Action       { return ActionAssigned }
func (*Assignment) ResourceType() string { return ResourcePrescription }

// Hold records placing or releasing a hold
type Hold struct {
	Placed bool   `json:"placed"`
	Reason string `json:"reason,omitempty"`
}

func (*Hold) Action() Action       { return ActionHold }
func (*Hold) ResourceType() string { return ResourcePrescription }

// FieldUpdate records one allow-listed edit
type FieldUpdate struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

func (*FieldUpdate) Action() Action       { return ActionFieldUpdated }
func (*FieldUpdate) ResourceType() string { return ResourcePrescription }

// Refill links the refill prescription to its source
type Refill struct {
	RefillPrescriptionID string `json:"refill_prescription_id"`
	RefillNumber         int    `json:"refill_number"`
}

func (*Refill) Action() Action       { return ActionRefillRequested }
func (*Refill) ResourceType() string { return ResourcePrescription }

// ClaimAdjudication is the outcome of one submission
type ClaimAdjudication struct {
	PrescriptionID  string   `json:"prescription_id"`
	Status          string   `json:"status"`
	RejectCodes     []string `json:"reject_codes,omitempty"`
	SubmissionCount int      `json:"submission_count"`
	InsurancePaid   string   `json:"insurance_paid,omitempty"`
	PatientPay      string   `json:"patient_pay,omitempty"`
}

func (*ClaimAdjudication) Action() Action       { return ActionClaimAdjudicated }
func (*ClaimAdjudication) ResourceType() string { return ResourceClaim }

// ClaimResolution records the action taken on a rejected claim
type ClaimResolution struct {
	PrescriptionID    string `json:"prescription_id"`
	Resolution        string `json:"resolution"`
	ClarificationCode string `json:"clarification_code,omitempty"`
}

func (*ClaimResolution) Action() Action       { return ActionClaimResolved }
func (*ClaimResolution) ResourceType() string { return ResourceClaim }

// PriorAuth records the payer's prior authorization decision
type PriorAuth struct {
	PrescriptionID string `json:"prescription_id"`
	Approved       bool   `json:"approved"`
	AuthNumber     string `json:"auth_number,omitempty"`
}

func (*PriorAuth) Action() Action       { return ActionPriorAuthRecorded }
func (*PriorAuth) ResourceType() string { return ResourceClaim }

// FillUpdate records a fill status change
type FillUpdate struct {
	PrescriptionID    string  `json:"prescription_id"`
	FillNumber        int     `json:"fill_number"`
	Status            string  `json:"status"`
	DispensedNDC      string  `json:"dispensed_ndc,omitempty"`
	LotNumber         string  `json:"lot_number,omitempty"`
	QuantityDispensed float64 `json:"quantity_dispensed,omitempty"`
	Notes             string  `json:"notes,omitempty"`
}

func (*FillUpdate) Action() Action       { return ActionFillUpdated }
func (*FillUpdate) ResourceType() string { return ResourceFill }

// DUROverride records a pharmacist override of a DUR alert
type DUROverride struct {
	PrescriptionID string `json:"prescription_id"`
	AlertType      string `json:"alert_type"`
	Severity       string `json:"severity"`
	Code           string `json:"code"`
	Reason         string `json:"reason"`
}

func (*DUROverride) Action() Action       { return ActionDUROverridden }
func (*DUROverride) ResourceType() string { return ResourceDURAlert }

// PDMPQuery records a registry lookup; the patient is carried as a hash
type PDMPQuery struct {
	PatientHash string   `json:"patient_hash"`
	Purpose     string   `json:"purpose"`
	States      []string `json:"states"`
	RecordCount int      `json:"record_count"`
	RiskScore   int      `json:"risk_score"`
	RiskLevel   string   `json:"risk_level"`
}

func (*PDMPQuery) Action() Action       { return ActionPDMPQueried }
func (*PDMPQuery) ResourceType() string { return ResourcePDMPSnapshot }

// PDMPReview records the reviewer decision attached to a snapshot
type PDMPReview struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

func (*PDMPReview) Action() Action       { return ActionPDMPReviewed }
func (*PDMPReview) ResourceType() string { return ResourcePDMPSnapshot }

// Pickup records the hand-off at the counter
type Pickup struct {
	PrescriptionID    string `json:"prescription_id"`
	PickedUpBy        string `json:"picked_up_by"`
	VerificationTier  string `json:"verification_tier"`
	SignatureCaptured bool   `json:"signature_captured"`
	AmountCollected   string `json:"amount_collected"`
}

func (*Pickup) Action() Action       { return ActionPickup }
func (*Pickup) ResourceType() string { return ResourceBin }

// ReturnToStock records a will-call reversal
type ReturnToStock struct {
	PrescriptionID    string  `json:"prescription_id"`
	FillID            string  `json:"fill_id,omitempty"`
	QuantityRestocked float64 `json:"quantity_restocked"`
	ClaimReversed     bool    `json:"claim_reversed"`
}

func (*ReturnToStock) Action() Action       { return ActionReturnToStock }
func (*ReturnToStock) ResourceType() string { return ResourceBin }

// BinSwept records a bin scheduled for reversal
type BinSwept struct {
	PatientHash     string   `json:"patient_hash"`
	PrescriptionIDs []string `json:"prescription_ids"`
}

func (*BinSwept) Action() Action       { return ActionBinSwept }
func (*BinSwept) ResourceType() string { return ResourceBin }
