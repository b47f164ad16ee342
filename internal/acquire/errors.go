package acquire

import (
	"errors"
	"fmt"
)

// Code classifies acquisition failures for retry and reporting decisions.
type Code string

// Failure codes surfaced to callers and recorded on jobs.
const (
	CodeInvalidTarget              Code = "InvalidTarget"
	CodeComplianceDenied           Code = "ComplianceDenied"
	CodePathExhausted              Code = "PathExhausted"
	CodeNavigationTimeout          Code = "NavigationTimeout"
	CodeChallengeUnresolved        Code = "ChallengeUnresolved"
	CodeExtractionValidationFailed Code = "ExtractionValidationFailed"
)

// Retryable reports whether the scheduler may retry a failure of this class.
func (c Code) Retryable() bool {
	switch c {
	case CodePathExhausted, CodeNavigationTimeout, CodeChallengeUnresolved, CodeExtractionValidationFailed:
		return true
	default:
		return false
	}
}

// Error is a classified acquisition failure.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

// NewError builds a classified error with a human-readable reason.
func NewError(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// WrapError classifies an underlying error.
func WrapError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the failure code from an error chain. Unclassified errors
// map to NavigationTimeout so they stay retryable.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeNavigationTimeout
}
