/*
errors.go - Centralized error types for the core engine

PURPOSE:
  All error conditions the core can surface, in one place. Callers match
  with errors.Is / errors.As; the HTTP layer maps them onto status codes.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any mutation
  2. Conflict errors   - Named business conditions (quota full, duplicate,
     insufficient credit, already approved, already applied); none of them
     leave the ledger or aggregate mutated
  3. Not-found errors  - Missing entity references
  4. Consistency errors - A reconciliation that would corrupt the aggregate;
     fatal to the whole transaction

USAGE:
  if errors.Is(err, ledger.ErrInsufficientCredit) { ... }

  var v *ledger.ValidationError
  if errors.As(err, &v) { ... v.Field ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCredit is returned when a debit exceeds the member's
	// remaining credits.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrAlreadyApplied is returned when a keyed debit or refund is
	// replayed. Expected behavior for retried requests.
	ErrAlreadyApplied = errors.New("operation already applied")

	// ErrAlreadyApproved is returned when approving a package twice.
	ErrAlreadyApproved = errors.New("package already approved")

	// ErrQuotaFull is returned when an event has no remaining capacity.
	ErrQuotaFull = errors.New("event quota full")

	// ErrDuplicateParticipant is returned when a member is already booked
	// into the event.
	ErrDuplicateParticipant = errors.New("member already booked in event")

	// ErrForbidden is returned when the actor role does not permit the
	// operation (e.g. a coach approving a package).
	ErrForbidden = errors.New("operation not permitted for role")

	// ErrMemberNotFound, ErrPackageNotFound, ErrEventNotFound,
	// ErrParticipantNotFound flag missing entity references.
	ErrMemberNotFound      = errors.New("member not found")
	ErrPackageNotFound     = errors.New("package not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrMemberExists is returned when registering an ID already in use.
	ErrMemberExists = errors.New("member already exists")

	// ErrAggregateDrift is returned when applying a delta would drive an
	// aggregate below zero. This is a consistency failure: the transaction
	// must abort, never half-apply.
	ErrAggregateDrift = errors.New("aggregate reconciliation drift")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientCreditError reports a balance shortage on debit.
type InsufficientCreditError struct {
	MemberID  MemberID
	Available int
	Requested int
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for member %s: available %d, requested %d",
		e.MemberID, e.Available, e.Requested)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// DuplicateParticipantError reports which member was already booked.
type DuplicateParticipantError struct {
	EventID  EventID
	MemberID MemberID
}

func (e *DuplicateParticipantError) Error() string {
	return fmt.Sprintf("member %s already booked in event %s", e.MemberID, e.EventID)
}

func (e *DuplicateParticipantError) Unwrap() error { return ErrDuplicateParticipant }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for input errors rejected before any mutation.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict returns true for named business conflicts. These never leave
// the ledger or aggregate mutated.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrAlreadyApplied) ||
		errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrQuotaFull) ||
		errors.Is(err, ErrDuplicateParticipant) ||
		errors.Is(err, ErrMemberExists)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrPackageNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrParticipantNotFound)
}
