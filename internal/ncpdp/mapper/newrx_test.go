package mapper

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	script "github.com/drfirst/go-rxworkflow/internal/ncpdp/script2023011"
)

const newRxXML = `<?xml version="1.0" encoding="UTF-8"?>
<Message xmlns="http://www.ncpdp.org/schema/SCRIPT" version="2023011">
  <Header>
    <To><Pharmacy><Identification><NCPDPID>3677955</NCPDPID></Identification></Pharmacy></To>
    <From><Prescriber><Identification><NPI>1234567893</NPI></Identification><Name><LastName>Hopper</LastName><FirstName>Grace</FirstName></Name></Prescriber></From>
    <MessageID>MSG-001</MessageID>
    <SentTime>20260310140000</SentTime>
  </Header>
  <Body>
    <NewRx>
      <Prescriber>
        <Identification><NPI>1234567893</NPI><DEANumber>AH1234563</DEANumber></Identification>
        <Name><LastName>Hopper</LastName><FirstName>Grace</FirstName></Name>
      </Prescriber>
      <Pharmacy><Identification><NCPDPID>3677955</NCPDPID></Identification></Pharmacy>
      <Patient>
        <Name><LastName>Lovelace</LastName><FirstName>Ada</FirstName></Name>
        <Identification><FileID>pat-42</FileID></Identification>
      </Patient>
      <MedicationPrescribed>
        <Product>
          <DrugCoded>
            <ProductCode><Code>00093005801</Code><Qualifier>ND</Qualifier></ProductCode>
            <ProductCodeQualifier>ND</ProductCodeQualifier>
            <DEASchedule><Code>C48677</Code></DEASchedule>
          </DrugCoded>
          <DrugDescription>Tramadol 50 MG Oral Tablet</DrugDescription>
        </Product>
        <Quantity><Value>30</Value></Quantity>
        <DaysSupply><Value>10</Value></DaysSupply>
        <WrittenDate><Date>20260309</Date></WrittenDate>
        <Sig><SigText>Take 1 tablet every 8 hours as needed</SigText></Sig>
        <Refills><Value>2</Value></Refills>
        <Substitutions><NoSubstitution>1</NoSubstitution></Substitutions>
      </MedicationPrescribed>
    </NewRx>
  </Body>
</Message>`

func TestNewRxToCreateRequest(t *testing.T) {
	msg, err := script.FromXML([]byte(newRxXML))
	require.NoError(t, err)
	require.NotNil(t, msg.Body.NewRx)
	assert.Equal(t, "MSG-001", msg.Header.MessageID)

	req, err := NewRxToCreateRequest(msg.Body.NewRx)
	require.NoError(t, err)

	assert.Equal(t, "pat-42", req.PatientID)
	assert.Equal(t, "1234567893", req.PrescriberNPI)
	assert.Equal(t, "AH1234563", req.PrescriberDEA)
	assert.Equal(t, "00093005801", req.DrugNDC)
	assert.Equal(t, "Tramadol 50 MG Oral Tablet", req.DrugName)
	assert.Equal(t, prescription.ScheduleIV, req.DEASchedule)
	assert.Equal(t, 30.0, req.QuantityWritten)
	assert.Equal(t, 10, req.DaysSupply)
	assert.Equal(t, 2, req.RefillsAuthorized)
	assert.Equal(t, 1, req.DAWCode)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), req.WrittenDate)
	assert.Empty(t, req.InsurancePlanID)
}

func TestNewRxMissingFields(t *testing.T) {
	doc := strings.Replace(newRxXML, "<FileID>pat-42</FileID>", "", 1)
	doc = strings.Replace(doc, "<SigText>Take 1 tablet every 8 hours as needed</SigText>", "<SigText> </SigText>", 1)
	msg, err := script.FromXML([]byte(doc))
	require.NoError(t, err)

	_, err = NewRxToCreateRequest(msg.Body.NewRx)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "patient FileID")
	assert.Contains(t, err.Error(), "sig text")
}

func TestNewRxBadNumbers(t *testing.T) {
	doc := strings.Replace(newRxXML, "<Value>30</Value>", "<Value>thirty</Value>", 1)
	doc = strings.Replace(doc, "<Code>C48677</Code>", "<Code>C99999</Code>", 1)
	msg, err := script.FromXML([]byte(doc))
	require.NoError(t, err)

	_, err = NewRxToCreateRequest(msg.Body.NewRx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity must be numeric")
	assert.Contains(t, err.Error(), "unknown DEA schedule C99999")
}

func TestMapSchedule(t *testing.T) {
	tests := []struct {
		in   string
		want prescription.DEASchedule
		ok   bool
	}{
		{"C48675", prescription.ScheduleII, true},
		{"C48680", prescription.ScheduleNone, true},
		{"CIII", prescription.ScheduleIII, true},
		{"iv", prescription.ScheduleIV, true},
		{"", prescription.ScheduleNone, true},
		{"VI", prescription.ScheduleNone, false},
	}
	for _, tt := range tests {
		got, ok := MapSchedule(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestMalformedEnvelope(t *testing.T) {
	_, err := script.FromXML([]byte("<Message><Header>"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStatusReply(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	out, err := script.NewStatusMessage("R-1", "MSG-001", script.StatusCodeAccepted, "accepted", now).ToXML()
	require.NoError(t, err)
	body := string(out)
	assert.True(t, strings.HasPrefix(body, "<?xml"))
	assert.Contains(t, body, "<RelatesToMessageID>MSG-001</RelatesToMessageID>")
	assert.Contains(t, body, "<Code>010</Code>")
	assert.Contains(t, body, "<SentTime>20260310150000</SentTime>")
}
