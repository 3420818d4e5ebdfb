package charge

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/frahmantamala/charge-orchestrator/internal"
	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

type Classification string

const (
	ClassInsufficientFunds  Classification = "insufficient_funds"
	ClassProcessorDeclined  Classification = "processor_declined"
	ClassProcessorAmbiguous Classification = "processor_ambiguous"
	ClassValidationError    Classification = "validation_error"
	ClassUnknownError       Classification = "unknown_error"
)

// Recoverable reports whether a later, independent collection can succeed. Ambiguous charges are
// settled only by reconciliation.
func (c Classification) Recoverable() bool {
	switch c {
	case ClassValidationError, ClassProcessorAmbiguous:
		return false
	default:
		return true
	}
}

func (c Classification) ErrorCode() apperrors.ErrorCode {
	switch c {
	case ClassInsufficientFunds:
		return apperrors.ErrCodeInsufficientFunds
	case ClassProcessorDeclined:
		return apperrors.ErrCodeProcessorDeclined
	case ClassProcessorAmbiguous:
		return apperrors.ErrCodeProcessorAmbiguous
	case ClassValidationError:
		return apperrors.ErrCodeInvalidSource
	default:
		return apperrors.ErrCodeUnknownChargeError
	}
}

// Error is the only error type a Creator returns.
type Error struct {
	Class       Classification
	Reason      string
	SourceID    string
	SourceType  string
	OwnerID     int64
	AttemptID   string
	ReferenceID string
	Processor   string

	// AttemptStatus is the state the attempt is left in.
	AttemptStatus string

	Cause error
	// Primary is the primary source's failure when this error comes from the secondary.
	Primary *Error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("charge %s via %s source %s: %s", e.Class, e.SourceType, e.SourceID, e.Reason)
	if e.Primary != nil {
		msg += fmt.Sprintf(" (primary: %s)", e.Primary.Class)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Recoverable() bool {
	return e.Class.Recoverable()
}

// AppError converts the failure into the structured body API callers receive.
func (e *Error) AppError() *apperrors.AppError {
	status := http.StatusUnprocessableEntity
	switch e.Class {
	case ClassValidationError:
		status = http.StatusBadRequest
	case ClassProcessorAmbiguous:
		status = http.StatusAccepted
	case ClassUnknownError:
		status = http.StatusBadGateway
	}

	details := apperrors.ChargeFailureDetails{
		Classification: string(e.Class),
		Recoverable:    e.Recoverable(),
		AttemptID:      e.AttemptID,
		ReferenceID:    e.ReferenceID,
	}
	if e.Primary != nil {
		details.PrimaryReason = string(e.Primary.Class)
	}

	return apperrors.NewPaymentError(e.Reason, e.Class.ErrorCode(), status).
		WithDetails(details).
		WithCause(e)
}

func newValidationError(src FundingSource, reason string) *Error {
	e := &Error{
		Class:         ClassValidationError,
		Reason:        reason,
		AttemptStatus: model.AttemptStatusCanceled,
	}
	if src != nil {
		e.SourceID = src.SourceID()
		e.SourceType = src.SourceType()
		e.OwnerID = src.Owner()
	}
	return e
}

// AsError returns err as a *Error, classifying it first when it is not one.
func AsError(err error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	class := Classify(err)
	status := model.AttemptStatusCanceled
	if class == ClassProcessorAmbiguous {
		status = model.AttemptStatusUnknown
	}
	return &Error{Class: class, Reason: err.Error(), AttemptStatus: status, Cause: err}
}
