package api

import (
	"errors"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

// ErrorCode is the JSON-RPC error code reported for a rejected arbiter call.
type ErrorCode int

const (
	InvalidInstantiation ErrorCode = -32602
	UnknownInstance      ErrorCode = -39001
	RoleViolation        ErrorCode = -39002
	PhaseViolation       ErrorCode = -39003
	DeadlineNotElapsed   ErrorCode = -39004
	DeadlineElapsed      ErrorCode = -39005
	InstanceTerminal     ErrorCode = -39006
	UnknownDrive         ErrorCode = -39007
	AlreadyProvisioned   ErrorCode = -39008
	InvalidDriveContent  ErrorCode = -39009
	VerdictNotFinal      ErrorCode = -39010
	EscalationFailed     ErrorCode = -39011
	InternalError        ErrorCode = -32603
)

var errorCodes = []struct {
	kind error
	code ErrorCode
}{
	{types.ErrInvalidInstantiation, InvalidInstantiation},
	{types.ErrUnknownInstance, UnknownInstance},
	{types.ErrRoleViolation, RoleViolation},
	{types.ErrPhaseViolation, PhaseViolation},
	{types.ErrDeadlineNotElapsed, DeadlineNotElapsed},
	{types.ErrDeadlineElapsed, DeadlineElapsed},
	{types.ErrInstanceTerminal, InstanceTerminal},
	{types.ErrUnknownDrive, UnknownDrive},
	{types.ErrAlreadyProvisioned, AlreadyProvisioned},
	{types.ErrInvalidDriveContent, InvalidDriveContent},
	{types.ErrVerdictNotFinal, VerdictNotFinal},
	{types.ErrEscalationFailed, EscalationFailed},
}

// Error carries a rejection over JSON-RPC. The message is the bare reason string and the data
// names the kind of rejection.
type Error struct {
	err  error
	code ErrorCode
}

func (e *Error) Error() string {
	return types.Reason(e.err)
}

func (e *Error) ErrorCode() int {
	return int(e.code)
}

func (e *Error) ErrorData() interface{} {
	return game.RejectionKind(e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// toRPCError attaches a JSON-RPC code to err based on the kind of its ArbitrationError.
// The kind itself decides the code, the terminal flag only shows in the error data.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	var aerr *types.ArbitrationError
	if !errors.As(err, &aerr) {
		return &Error{err: err, code: InternalError}
	}
	for _, c := range errorCodes {
		if errors.Is(aerr.Kind, c.kind) {
			return &Error{err: err, code: c.code}
		}
	}
	return &Error{err: err, code: InternalError}
}
