package rogue

import (
	"errors"
	"fmt"
)

// ErrorCode is a high-level error category, matching spec.md §7's taxonomy.
type ErrorCode string

const (
	CodeBoundary  ErrorCode = "boundary"
	CodeAllocation ErrorCode = "allocation"
	CodeOpen      ErrorCode = "open"
	CodeNetwork   ErrorCode = "network"
	CodeTimeout   ErrorCode = "timeout"
	CodeGeneral   ErrorCode = "general"

	// Memory transaction terminal codes (spec.md §4.D).
	CodeAxiFail       ErrorCode = "axi_fail"
	CodeAxiTimeout    ErrorCode = "axi_timeout"
	CodeBusTimeout    ErrorCode = "bus_timeout"
	CodeProtocolError ErrorCode = "protocol_error"
	CodeSizeError     ErrorCode = "size_error"
	CodeAddressError  ErrorCode = "address_error"
	CodeUnsupported   ErrorCode = "unsupported"
	CodeVerifyError   ErrorCode = "verify_error"
	CodeTimeoutError  ErrorCode = "transaction_timeout"
)

// Error is a structured Rogue error with operation context.
type Error struct {
	Op    string    // operation that failed, e.g. "Pool.ReqFrame"
	Code  ErrorCode // high-level category
	Msg   string    // human-readable detail
	Inner error     // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("rogue: %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("rogue: %s (%s)", msg, e.Code)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by Code.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// NewError constructs a structured error for the given operation and code.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps an existing error under a Rogue operation, preserving
// the code if the inner error is itself a *Error.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if re, ok := inner.(*Error); ok && code == "" {
		code = re.Code
	}
	if code == "" {
		code = CodeGeneral
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
