package script2023011

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

// NewRx is a new prescription transmitted by the prescriber
type NewRx struct {
	Prescriber           Prescriber            `xml:"Prescriber"`
	Pharmacy             Pharmacy              `xml:"Pharmacy"`
	Patient              Patient               `xml:"Patient"`
	MedicationPrescribed MedicationPrescribed  `xml:"MedicationPrescribed"`
	BenefitsCoordination *BenefitsCoordination `xml:"BenefitsCoordination,omitempty"`
}

// MedicationPrescribed follows the v2023011 Product/DrugCoded hierarchy
type MedicationPrescribed struct {
	Product                     Product        `xml:"Product"`
	Quantity                    Quantity       `xml:"Quantity"`
	DaysSupply                  DaysSupply     `xml:"DaysSupply"`
	WrittenDate                 WrittenDate    `xml:"WrittenDate"`
	Sig                         Sig            `xml:"Sig"`
	Refills                     Refills        `xml:"Refills"`
	Substitutions               *Substitutions `xml:"Substitutions,omitempty"`
	Note                        string         `xml:"Note,omitempty"`
	ControlledSubstanceSchedule string         `xml:"ControlledSubstanceSchedule,omitempty"`
}

type Product struct {
	DrugCoded       DrugCoded `xml:"DrugCoded"`
	DrugDescription string    `xml:"DrugDescription,omitempty"`
}

type DrugCoded struct {
	ProductCode          ProductCode  `xml:"ProductCode"`
	ProductCodeQualifier string       `xml:"ProductCodeQualifier"`
	DEASchedule          *DEASchedule `xml:"DEASchedule,omitempty"`
}

type ProductCode struct {
	Code      string `xml:"Code"`
	Qualifier string `xml:"Qualifier,omitempty"`
}

type DEASchedule struct {
	Code string `xml:"Code"`
}

type Quantity struct {
	Value string `xml:"Value"`
}

type DaysSupply struct {
	Value string `xml:"Value"`
}

type WrittenDate struct {
	Date string `xml:"Date"`
}

type Sig struct {
	SigText string `xml:"SigText"`
}

type Refills struct {
	Value string `xml:"Value"`
}

// Substitutions carries the dispense-as-written code
type Substitutions struct {
	NoSubstitution string `xml:"NoSubstitution,omitempty"`
}

// BenefitsCoordination names the plan the prescriber has on file
type BenefitsCoordination struct {
	PBMMemberID  string `xml:"PBMMemberID,omitempty"`
	CardholderID string `xml:"CardholderID,omitempty"`
	GroupID      string `xml:"GroupID,omitempty"`
}

// FromXML decodes a SCRIPT envelope
func FromXML(data []byte) (*Message, error) {
	var msg Message
	if err := xml.Unmarshal(data, &msg); err != nil {
		return nil, apperr.Validation("malformed SCRIPT message: %v", err)
	}
	return &msg, nil
}

// ToXML marshals the message with indentation and the XML declaration
func (m *Message) ToXML() ([]byte, error) {
	out, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SCRIPT message: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Validate checks the fields intake cannot do without
func (n *NewRx) Validate() error {
	var problems []string
	if n.Prescriber.Name.LastName == "" {
		problems = append(problems, "prescriber last name is required")
	}
	if n.Prescriber.Identification.NPI == "" {
		problems = append(problems, "prescriber NPI is required")
	}
	if n.Pharmacy.Identification.NCPDPID == "" && n.Pharmacy.Identification.NPI == "" {
		problems = append(problems, "pharmacy NCPDP ID or NPI is required")
	}
	if n.PatientFileID() == "" {
		problems = append(problems, "patient FileID or MutuallyDefined identifier is required")
	}
	if n.MedicationPrescribed.Product.DrugCoded.ProductCode.Code == "" {
		problems = append(problems, "medication product code (NDC) is required")
	}
	if strings.TrimSpace(n.MedicationPrescribed.Sig.SigText) == "" {
		problems = append(problems, "sig text is required")
	}
	if n.MedicationPrescribed.Quantity.Value == "" {
		problems = append(problems, "quantity is required")
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; ")).WithDetail("violations", problems)
	}
	return nil
}

// PatientFileID is the pharmacy patient ID echoed by the prescriber
func (n *NewRx) PatientFileID() string {
	if id := n.Patient.Identification.FileID; id != "" {
		return id
	}
	return n.Patient.Identification.MutuallyDefined
}

// DEAScheduleCode returns the schedule from the medication or the coded product
func (n *NewRx) DEAScheduleCode() string {
	if n.MedicationPrescribed.ControlledSubstanceSchedule != "" {
		return n.MedicationPrescribed.ControlledSubstanceSchedule
	}
	if n.MedicationPrescribed.Product.DrugCoded.DEASchedule != nil {
		return n.MedicationPrescribed.Product.DrugCoded.DEASchedule.Code
	}
	return ""
}
