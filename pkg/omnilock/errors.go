// Package omnilock error types.
//
// Every failure of the signing core is an *Error carrying one of the codes
// below. Callers branch on the code with errors.Is against the sentinel
// values:
//
//	if errors.Is(err, omnilock.ErrIdentityMismatch) { ... }
//
// None of these are retried; they abort the current round and surface
// unmodified. An incomplete multisig is not an error (see Progress).
package omnilock

import "fmt"

// Code identifies a failure class.
type Code string

// Error codes.
const (
	CodeMalformedWitness  Code = "MALFORMED_WITNESS"  // lock bytes do not match the layout of the scheme
	CodeIdentityMismatch  Code = "IDENTITY_MISMATCH"  // key hash is not an authorized identity
	CodeUnlockError       Code = "UNLOCK_ERROR"       // input cells could not be resolved
	CodeInconsistentState Code = "INCONSISTENT_STATE" // lock fill state disagrees with group state
	CodeConfigError       Code = "CONFIG_ERROR"       // scheme construction invariant violated
	CodeInvalidSignature  Code = "INVALID_SIGNATURE"  // filled slot does not verify for its identity
	CodeConflict          Code = "CONFLICT"           // concurrent update of the same envelope
)

// Error is the error type of the signing core.
type Error struct {
	Code    Code   // Failure class
	Message string // Human-readable error message
	Cause   error  // Underlying error (if any)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrMalformedWitness  = &Error{Code: CodeMalformedWitness}
	ErrIdentityMismatch  = &Error{Code: CodeIdentityMismatch}
	ErrUnlockError       = &Error{Code: CodeUnlockError}
	ErrInconsistentState = &Error{Code: CodeInconsistentState}
	ErrConfigError       = &Error{Code: CodeConfigError}
	ErrInvalidSignature  = &Error{Code: CodeInvalidSignature}
	ErrConflict          = &Error{Code: CodeConflict}
)

// NewError creates an *Error with a formatted message.
func NewError(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func malformed(format string, args ...interface{}) *Error {
	return NewError(CodeMalformedWitness, nil, format, args...)
}

func configError(format string, args ...interface{}) *Error {
	return NewError(CodeConfigError, nil, format, args...)
}
