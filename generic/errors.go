/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejection the engine produces is a *Error carrying one of seven
  kinds. Callers branch on the kind, never on message text.

ERROR KINDS:
  NotFound             referenced teacher/student/course/unit/slot/package/booking missing
  Inactive             referenced entity exists but is deactivated
  Conflict             slot already held, leave/reservation overlap, daily package used
  EntitlementExhausted package has no lessons, is unactivated, partially paid or expired
  IllegalTransition    status change not reachable, or actor lacks role/timing permission
  Validation           missing reason, memo fields, quota exceeded, edit after lock
  Internal             invariant violation (data corruption); alerts operators

USAGE:
    if errors.Is(err, generic.ErrConflict) {
        // slot taken, show the calendar again
    }

    if e, ok := generic.AsError(err); ok && e.Code == "start_early" {
        ...
    }

SEE ALSO:
  - booking/resolver.go: Produces NotFound/Inactive/Conflict/EntitlementExhausted
  - booking/machine.go: Produces IllegalTransition/Validation/Internal
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies a domain error.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInactive             Kind = "inactive"
	KindConflict             Kind = "conflict"
	KindEntitlementExhausted Kind = "entitlement_exhausted"
	KindIllegalTransition    Kind = "illegal_transition"
	KindValidation           Kind = "validation_error"
	KindInternal             Kind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound             = errors.New("not found")
	ErrInactive             = errors.New("inactive")
	ErrConflict             = errors.New("conflict")
	ErrEntitlementExhausted = errors.New("entitlement exhausted")
	ErrIllegalTransition    = errors.New("illegal transition")
	ErrValidation           = errors.New("validation error")
	ErrInternal             = errors.New("internal error")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrSlotTaken is returned by the store when a live booking already holds
	// the same (teacher, start) or (student, start) pair.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrSlotLocked is returned by a SlotLocker when another process holds
	// the key. Any other locker error means the lock is unavailable.
	ErrSlotLocked = errors.New("slot locked")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrQuotaReached is returned by capped counters.
	ErrQuotaReached = errors.New("quota reached")
)

var kindSentinels = map[Kind]error{
	KindNotFound:             ErrNotFound,
	KindInactive:             ErrInactive,
	KindConflict:             ErrConflict,
	KindEntitlementExhausted: ErrEntitlementExhausted,
	KindIllegalTransition:    ErrIllegalTransition,
	KindValidation:           ErrValidation,
	KindInternal:             ErrInternal,
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the single structured error type of the engine.
// Code is a short machine-readable reason such as "start_early".
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the kind sentinel and the wrapped cause.
func (e *Error) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError builds a *Error.
func NewError(kind Kind, code, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}

func NotFound(code, format string, args ...any) *Error {
	return NewError(KindNotFound, code, format, args...)
}

func Inactive(code, format string, args ...any) *Error {
	return NewError(KindInactive, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return NewError(KindConflict, code, format, args...)
}

func Exhausted(code, format string, args ...any) *Error {
	return NewError(KindEntitlementExhausted, code, format, args...)
}

func Illegal(code, format string, args ...any) *Error {
	return NewError(KindIllegalTransition, code, format, args...)
}

func Invalid(code, format string, args ...any) *Error {
	return NewError(KindValidation, code, format, args...)
}

// Internal wraps a cause that indicates corrupted state.
func Internal(code string, err error) *Error {
	return &Error{Kind: KindInternal, Code: code, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// AsError extracts the *Error from a chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors that did not originate in the
// engine are Internal.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	if errors.Is(err, ErrSlotTaken) {
		return KindConflict
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindInternal
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
