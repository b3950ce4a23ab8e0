package script2023011

import "time"

// Status acknowledges a transaction
type Status struct {
	Code               string `xml:"Code"`
	Description        string `xml:"Description,omitempty"`
	RelatesToMessageID string `xml:"RelatesToMessageID,omitempty"`
}

// Error rejects a transaction
type Error struct {
	Code               string `xml:"Code"`
	DescriptionCode    string `xml:"DescriptionCode,omitempty"`
	Description        string `xml:"Description,omitempty"`
	RelatesToMessageID string `xml:"RelatesToMessageID,omitempty"`
}

// Error description codes returned to prescribers
const (
	ErrorCodeInvalidMessage        = "002"
	ErrorCodeSystemError           = "004"
	ErrorCodeInvalidPrescriber     = "010"
	ErrorCodeInvalidPatient        = "012"
	ErrorCodeInvalidMedication     = "013"
	ErrorCodeDuplicatePrescription = "040"
)

var senderSoftware = &SenderSoftware{
	SenderSoftwareDeveloper:      "DrFirst",
	SenderSoftwareProduct:        "go-rxworkflow",
	SenderSoftwareVersionRelease: "1.0.0",
}

func reply(messageID, relatesTo string, now time.Time) *Message {
	return &Message{
		Xmlns:          NamespaceScript,
		XmlnsXsi:       NamespaceXSI,
		SchemaLocation: SchemaLocation,
		Version:        Version,
		Header: Header{
			MessageID:          messageID,
			RelatesToMessageID: relatesTo,
			SentTime:           FormatDateTime(now),
			SenderSoftware:     senderSoftware,
		},
	}
}

// NewStatusMessage builds a Status reply
func NewStatusMessage(messageID, relatesTo, code, description string, now time.Time) *Message {
	m := reply(messageID, relatesTo, now)
	m.Body.Status = &Status{Code: code, Description: description, RelatesToMessageID: relatesTo}
	return m
}

// NewErrorMessage builds an Error reply
func NewErrorMessage(messageID, relatesTo, code, descriptionCode, description string, now time.Time) *Message {
	m := reply(messageID, relatesTo, now)
	m.Body.Error = &Error{
		Code:               code,
		DescriptionCode:    descriptionCode,
		Description:        description,
		RelatesToMessageID: relatesTo,
	}
	return m
}
