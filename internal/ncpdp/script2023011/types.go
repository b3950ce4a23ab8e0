// Package script2023011 reads NCPDP SCRIPT v2023011 messages accepted at
// electronic intake and builds the Status and Error replies sent back to the
// prescriber's system.
package script2023011

import (
	"encoding/xml"
	"time"
)

// XML namespace constants for NCPDP SCRIPT v2023011
const (
	NamespaceScript = "http://www.ncpdp.org/schema/SCRIPT"
	NamespaceXSI    = "http://www.w3.org/2001/XMLSchema-instance"
	SchemaLocation  = "http://www.ncpdp.org/schema/SCRIPT SCRIPT_v2023011.xsd"
	Version         = "2023011"
)

// Status code constants
const (
	StatusCodeSuccess           = "000"
	StatusCodeAccepted          = "010"
	StatusCodeValidationError   = "600"
	StatusCodeUnableToProcess   = "601"
	StatusCodeTransmissionError = "900"
)

// DEA schedule codes (NCI thesaurus) used in DrugCoded/DEASchedule
const (
	DEAScheduleII   = "C48675"
	DEAScheduleIII  = "C48676"
	DEAScheduleIV   = "C48677"
	DEAScheduleV    = "C48679"
	DEAScheduleNone = "C48680"
)

// Message is the root SCRIPT envelope
type Message struct {
	XMLName        xml.Name    `xml:"Message"`
	Xmlns          string      `xml:"xmlns,attr"`
	XmlnsXsi       string      `xml:"xmlns:xsi,attr,omitempty"`
	SchemaLocation string      `xml:"xsi:schemaLocation,attr,omitempty"`
	Version        string      `xml:"version,attr"`
	Header         Header      `xml:"Header"`
	Body           MessageBody `xml:"Body"`
}

// MessageBody holds exactly one transaction
type MessageBody struct {
	NewRx  *NewRx  `xml:"NewRx,omitempty"`
	Status *Status `xml:"Status,omitempty"`
	Error  *Error  `xml:"Error,omitempty"`
}

// Header carries routing and identification
type Header struct {
	To                 To              `xml:"To"`
	From               From            `xml:"From"`
	MessageID          string          `xml:"MessageID"`
	RelatesToMessageID string          `xml:"RelatesToMessageID,omitempty"`
	SentTime           string          `xml:"SentTime"`
	SenderSoftware     *SenderSoftware `xml:"SenderSoftware,omitempty"`
	TestMessage        string          `xml:"TestMessage,omitempty"`
}

// To is the recipient pharmacy
type To struct {
	Pharmacy *Pharmacy `xml:"Pharmacy,omitempty"`
}

// From is the sending prescriber
type From struct {
	Prescriber *Prescriber `xml:"Prescriber,omitempty"`
}

// SenderSoftware identifies the sending application
type SenderSoftware struct {
	SenderSoftwareDeveloper      string `xml:"SenderSoftwareDeveloper"`
	SenderSoftwareProduct        string `xml:"SenderSoftwareProduct"`
	SenderSoftwareVersionRelease string `xml:"SenderSoftwareVersionRelease"`
}

// Identification holds the identifier variants SCRIPT allows
type Identification struct {
	NPI             string `xml:"NPI,omitempty"`
	DEANumber       string `xml:"DEANumber,omitempty"`
	NCPDPID         string `xml:"NCPDPID,omitempty"`
	FileID          string `xml:"FileID,omitempty"`
	MutuallyDefined string `xml:"MutuallyDefined,omitempty"`
}

type Name struct {
	LastName   string `xml:"LastName"`
	FirstName  string `xml:"FirstName"`
	MiddleName string `xml:"MiddleName,omitempty"`
}

type Address struct {
	AddressLine1 string `xml:"AddressLine1"`
	City         string `xml:"City"`
	State        string `xml:"State,omitempty"`
	PostalCode   string `xml:"PostalCode,omitempty"`
}

// Pharmacy is the dispensing pharmacy
type Pharmacy struct {
	Identification Identification `xml:"Identification"`
	StoreName      string         `xml:"StoreName,omitempty"`
}

// Prescriber is the prescribing provider
type Prescriber struct {
	Identification Identification `xml:"Identification"`
	Name           Name           `xml:"Name"`
	Address        *Address       `xml:"Address,omitempty"`
}

// Patient as sent by the prescriber. The pharmacy's own patient ID travels
// in Identification.FileID or MutuallyDefined.
type Patient struct {
	Name           Name           `xml:"Name"`
	Identification Identification `xml:"Identification,omitempty"`
	Gender         string         `xml:"Gender,omitempty"`
	DateOfBirth    *DateOfBirth   `xml:"DateOfBirth,omitempty"`
	Address        *Address       `xml:"Address,omitempty"`
}

type DateOfBirth struct {
	Date string `xml:"Date"`
}

// FormatDateTime formats to SCRIPT datetime (CCYYMMDDHHMMSS)
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// ParseDate accepts SCRIPT dates (CCYYMMDD) and ISO dates
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("20060102", s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
