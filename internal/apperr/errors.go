// Package apperr defines the error taxonomy shared by the workflow engine and its transports.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse error category callers branch on
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindNotFound           Kind = "NotFound"
	KindForbidden          Kind = "Forbidden"
	KindPreconditionFailed Kind = "PreconditionFailed"
	KindConflict           Kind = "Conflict"
	KindUnavailable        Kind = "Unavailable"
)

// Stable machine-readable codes
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeFieldNotEditable     = "FIELD_NOT_EDITABLE"
	CodeDURHighSeverity      = "DUR_HIGH_SEVERITY"
	CodeClaimActive          = "CLAIM_ACTIVE"
	CodePrescriptionExpired  = "PRESCRIPTION_EXPIRED"
	CodeInsufficientStock    = "INSUFFICIENT_INVENTORY"
	CodeIdentityNotVerified  = "IDENTITY_NOT_VERIFIED"
	CodeSignatureRequired    = "SIGNATURE_REQUIRED"
	CodePaymentRequired      = "PAYMENT_REQUIRED"
	CodePDMPReviewRequired   = "PDMP_REVIEW_REQUIRED"
	CodeOnHold               = "ON_HOLD"
	CodeNoBinAvailable       = "NO_BIN_AVAILABLE"
	CodeAlreadyReviewed      = "ALREADY_REVIEWED"
	CodeNotRefillable        = "NOT_REFILLABLE"
	CodeExternalTimeout      = "EXTERNAL_TIMEOUT"
	CodeExternalUnavailable  = "EXTERNAL_UNAVAILABLE"
	CodeDuplicateSubmission  = "DUPLICATE_SUBMISSION"
	CodeClaimNotResolvable   = "CLAIM_NOT_RESOLVABLE"
	CodeInvalidClarification = "INVALID_CLARIFICATION_CODE"
)

// Error is a classified domain error
type Error struct {
	Kind        Kind
	Code        string
	Message     string
	Recoverable bool
	Details     map[string]interface{}
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches against kind sentinels and against other *Error values with the same code
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case kindSentinel:
		return e.Kind == Kind(t)
	case *Error:
		return t.Code != "" && t.Code == e.Code
	}
	return false
}

// WithDetail attaches a detail field and returns the error for chaining
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinels usable with errors.Is
var (
	ErrValidation         error = kindSentinel(KindValidation)
	ErrNotFound           error = kindSentinel(KindNotFound)
	ErrForbidden          error = kindSentinel(KindForbidden)
	ErrPreconditionFailed error = kindSentinel(KindPreconditionFailed)
	ErrConflict           error = kindSentinel(KindConflict)
	ErrUnavailable        error = kindSentinel(KindUnavailable)
)

// Named errors from the workflow contract
var (
	ErrInvalidTransition = &Error{Kind: KindPreconditionFailed, Code: CodeInvalidTransition}
	ErrFieldNotEditable  = &Error{Kind: KindValidation, Code: CodeFieldNotEditable}
)

// Validation builds a ValidationError
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound error for a resource
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{"resource": resource, "id": id},
	}
}

// Forbidden builds a permission failure
func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Code: CodePermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Precondition builds a PreconditionFailed error with the given code
func Precondition(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a Conflict error with the given code
func Conflict(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a recoverable failure of an external collaborator
func Unavailable(code string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        KindUnavailable,
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: true,
		Err:         err,
	}
}

// InvalidTransition reports an edge outside the legal set
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindPreconditionFailed,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		Details: map[string]interface{}{"from": from, "to": to},
	}
}

// FieldNotEditable reports a mutation outside the allow-list
func FieldNotEditable(field string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeFieldNotEditable,
		Message: fmt.Sprintf("field %q is not editable", field),
		Details: map[string]interface{}{"field": field},
	}
}

// As extracts the *Error from a chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not classified
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// CodeOf returns the stable code of err, or "" when err is not classified
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// IsRecoverable reports whether the caller may retry (possibly with an override)
func IsRecoverable(err error) bool {
	if e, ok := As(err); ok {
		return e.Recoverable
	}
	return false
}
