package handlers

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
	"github.com/drfirst/go-rxworkflow/internal/ncpdp/mapper"
	script "github.com/drfirst/go-rxworkflow/internal/ncpdp/script2023011"
	"github.com/drfirst/go-rxworkflow/internal/workflow"
)

const scriptContentType = "application/xml"

// IntakeNewRx handles POST /intake/ncpdp. The body is a SCRIPT envelope
// carrying a NewRx; the reply is a SCRIPT Status or Error.
func (h *Handler) IntakeNewRx(w http.ResponseWriter, r *http.Request) {
	ctx, actor, err := h.call(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.scriptError(w, "", apperr.Validation("read body: %v", err))
		return
	}
	msg, err := script.FromXML(data)
	if err != nil {
		h.scriptError(w, "", err)
		return
	}
	relatesTo := msg.Header.MessageID
	if msg.Body.NewRx == nil {
		h.scriptError(w, relatesTo, apperr.Validation("only NewRx transactions are accepted"))
		return
	}

	req, err := mapper.NewRxToCreateRequest(msg.Body.NewRx)
	if err != nil {
		h.scriptError(w, relatesTo, err)
		return
	}
	if msg.Body.NewRx.BenefitsCoordination != nil {
		pat, err := h.engine.Patient(ctx, actor, req.PatientID)
		if err != nil {
			h.scriptError(w, relatesTo, err)
			return
		}
		req.InsurancePlanID = pat.InsurancePlanID
	}

	res, err := h.engine.CreatePrescription(ctx, actor, req, nil, workflow.SourceNCPDP)
	if err != nil {
		h.scriptError(w, relatesTo, err)
		return
	}
	h.logger.Info("newrx accepted",
		zap.String("message_id", relatesTo),
		zap.String("prescription_id", res.Prescription.ID))

	w.Header().Set("Location", "/prescriptions/"+res.Prescription.ID)
	h.writeScript(w, http.StatusCreated, script.NewStatusMessage(uuid.New().String(), relatesTo,
		script.StatusCodeAccepted, "accepted as prescription "+res.Prescription.ID, h.clock()))
}

// descriptionCode picks the SCRIPT error description closest to the failure
func descriptionCode(err error) string {
	e, ok := apperr.As(err)
	if !ok {
		return script.ErrorCodeSystemError
	}
	switch {
	case e.Kind == apperr.KindNotFound && e.Details["resource"] == "patient":
		return script.ErrorCodeInvalidPatient
	case e.Code == apperr.CodeDURHighSeverity:
		return script.ErrorCodeInvalidMedication
	case e.Kind == apperr.KindConflict:
		return script.ErrorCodeDuplicatePrescription
	case e.Kind == apperr.KindUnavailable:
		return script.ErrorCodeSystemError
	}
	return script.ErrorCodeInvalidMessage
}

func (h *Handler) scriptError(w http.ResponseWriter, relatesTo string, err error) {
	status := statusFor(err)
	code := script.StatusCodeTransmissionError
	message := "internal error"
	if e, ok := apperr.As(err); ok {
		message = e.Message
	}
	if status >= http.StatusInternalServerError {
		code = script.StatusCodeUnableToProcess
		h.logger.Error("newrx intake failed", zap.String("message_id", relatesTo), zap.Error(err))
	}
	h.writeScript(w, status, script.NewErrorMessage(uuid.New().String(), relatesTo,
		code, descriptionCode(err), message, h.clock()))
}

func (h *Handler) writeScript(w http.ResponseWriter, status int, msg *script.Message) {
	out, err := msg.ToXML()
	if err != nil {
		h.logger.Error("marshal SCRIPT reply", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", scriptContentType)
	w.WriteHeader(status)
	w.Write(out)
}
