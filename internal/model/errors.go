package model

import "fmt"

// ErrorKind is the closed taxonomy named across the error-handling and
// testable-properties sections of the governing specification. It is a
// stable identifier for programmatic handling, distinct from the
// human-readable error message.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindCyclicPlan       ErrorKind = "cyclic_plan"
	ErrorKindInvalidPlan      ErrorKind = "invalid_plan"
	ErrorKindRealityMismatch  ErrorKind = "reality_mismatch"
	ErrorKindUnsafeCommand    ErrorKind = "unsafe_command"
	ErrorKindPathEscape       ErrorKind = "path_escape"
	ErrorKindEditBeforeRead   ErrorKind = "edit_before_read"
	ErrorKindNoTestsExecuted  ErrorKind = "no_tests_executed"
	ErrorKindLeaseExpired     ErrorKind = "lease_expired"
	ErrorKindCancelled        ErrorKind = "cancelled"
	ErrorKindToolTimeout      ErrorKind = "tool_timeout"
	ErrorKindAgentTimeout     ErrorKind = "agent_timeout"
	ErrorKindAgentIterations  ErrorKind = "agent_iterations_exceeded"
	ErrorKindAgentInvalid     ErrorKind = "agent_invalid_output"
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindInvalidTransition ErrorKind = "invalid_transition"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindContractViolated ErrorKind = "contract_violated"
)

// KindedError pairs a stable ErrorKind with a human-readable message and an
// optional wrapped cause, matching the error-handling design's requirement
// that every failed task carry both.
type KindedError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *KindedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KindedError) Unwrap() error { return e.Cause }

// NewError constructs a KindedError.
func NewError(kind ErrorKind, message string) *KindedError {
	return &KindedError{Kind: kind, Message: message}
}

// Wrap constructs a KindedError carrying cause.
func Wrap(kind ErrorKind, message string, cause error) *KindedError {
	return &KindedError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err: ErrorKindNone if err is nil,
// ErrorKindTransient if err is not a *KindedError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var ke *KindedError
	if as, ok := err.(*KindedError); ok {
		ke = as
	} else {
		return ErrorKindTransient
	}
	return ke.Kind
}
