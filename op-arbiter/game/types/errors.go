package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a guarded operation matches one of these with errors.Is.
var (
	ErrInvalidInstantiation = errors.New("invalid instantiation")
	ErrUnknownInstance      = errors.New("unknown instance")
	ErrRoleViolation        = errors.New("role violation")
	ErrPhaseViolation       = errors.New("phase violation")
	ErrDeadlineNotElapsed   = errors.New("deadline not elapsed")
	ErrDeadlineElapsed      = errors.New("deadline elapsed")
	ErrInstanceTerminal     = errors.New("instance terminal")
	ErrUnknownDrive         = errors.New("unknown drive")
	ErrAlreadyProvisioned   = errors.New("drive already provisioned")
	ErrInvalidDriveContent  = errors.New("invalid drive content")
	ErrVerdictNotFinal      = errors.New("verdict not final")
	ErrEscalationFailed     = errors.New("escalation failed")
)

// Reason strings relied upon by existing integrations. Do not reword.
const (
	ReasonDeadlineNotOver  = "Deadline is not over for this specific state"
	ReasonDeadlineOver     = "Deadline is over for this specific state"
	ReasonCannotBeCalled   = "Cannot be called by user"
	ReasonCannotAbort      = "Cannot abort current state"
	ReasonVerdictNotFinal  = "State of VG is not final"
	ReasonUnknownInstance  = "Index not instantiated"
	ReasonUnknownDrive     = "Drive index out of range"
	ReasonAlreadyProvision = "Drive already provisioned"
	ReasonLogNotAvailable  = "Log is not available"
)

// StateShouldBe returns the reason reported when an operation requires phase p.
func StateShouldBe(p Phase) string {
	return "State should be " + p.String()
}

// ArbitrationError is a guard rejection. Error returns the bare reason string.
type ArbitrationError struct {
	Kind   error
	Reason string
	// Terminal is set when the instance was already frozen when the guard ran.
	Terminal bool
	cause    error
}

func (e *ArbitrationError) Error() string {
	return e.Reason
}

func (e *ArbitrationError) Is(target error) bool {
	return target == e.Kind || (e.Terminal && target == ErrInstanceTerminal)
}

func (e *ArbitrationError) Unwrap() error {
	return e.cause
}

func NewError(kind error, reason string) *ArbitrationError {
	return &ArbitrationError{Kind: kind, Reason: reason}
}

func NewErrorf(kind error, format string, args ...any) *ArbitrationError {
	return &ArbitrationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WrapError attaches an underlying cause, e.g. a collaborator failure, to a rejection.
func WrapError(kind error, reason string, cause error) *ArbitrationError {
	return &ArbitrationError{Kind: kind, Reason: fmt.Sprintf("%s: %v", reason, cause), cause: cause}
}

// Reason extracts the reason string of an ArbitrationError, or the plain message otherwise.
func Reason(err error) string {
	var aerr *ArbitrationError
	if errors.As(err, &aerr) {
		return aerr.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
