package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSentinels(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidTransition("INTAKE", "SOLD"))

	if !errors.Is(err, ErrPreconditionFailed) {
		t.Error("expected invalid transition to match PreconditionFailed")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("expected code match against ErrInvalidTransition")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("did not expect Conflict match")
	}
	if CodeOf(err) != CodeInvalidTransition {
		t.Errorf("unexpected code %q", CodeOf(err))
	}
}

func TestFieldNotEditable(t *testing.T) {
	err := FieldNotEditable("patient_id")
	if !errors.Is(err, ErrFieldNotEditable) {
		t.Error("expected FieldNotEditable match")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("expected validation kind, got %s", KindOf(err))
	}
}

func TestUnavailableIsRecoverable(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := Unavailable(CodeExternalTimeout, cause, "adjudicator timed out")

	if !IsRecoverable(err) {
		t.Error("expected recoverable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrapped")
	}
	if IsRecoverable(errors.New("plain")) {
		t.Error("plain errors are not recoverable")
	}
}
