/*
errors.go - Centralized error types for the workflow engine

PURPOSE:
  All error kinds in one place. Domain packages and the HTTP layer wrap or
  translate these; guard failures always abort before any mutation.

ERROR CATEGORIES:
  1. Lookup errors      - unknown case / natural key
  2. Authorization      - role or jurisdiction mismatch (never says which)
  3. Stage errors       - illegal action, or a lost transition race
  4. Ledger errors      - approved-total and disbursement invariants
  5. Collaborator errors- blob store / registry / persistence failures

USAGE:
    if errors.Is(err, workflow.ErrStageConflict) {
        // safe to re-read and retry
    }
*/
package workflow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCaseNotFound is returned when no case matches the given id or key.
	ErrCaseNotFound = errors.New("case not found")

	// ErrForbidden covers both role-stage and jurisdiction mismatches.
	// It deliberately does not reveal which check failed.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is returned when no verified actor identity exists.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStageConflict is returned when a conditional stage update matched
	// zero rows: the case moved under the caller. Re-read and retry.
	ErrStageConflict = errors.New("stage conflict")

	// ErrStageIllegal is returned when the requested action is not legal for
	// the case's current stage or status.
	ErrStageIllegal = errors.New("action not legal for current stage")

	// ErrCaseTerminal is returned for any transition on a rejected or
	// completed case.
	ErrCaseTerminal = errors.New("case is terminal")

	// ErrDuplicateNaturalKey is returned when a non-terminal case already
	// holds the natural key.
	ErrDuplicateNaturalKey = errors.New("active case exists for natural key")

	// ErrLedgerViolation is returned when a disbursement would exceed the
	// approved total, or the total is set twice.
	ErrLedgerViolation = errors.New("ledger violation")

	// ErrValidation is returned for malformed or missing payload fields.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientFunds is returned when the treasury for the case's
	// jurisdiction cannot cover a disbursement.
	ErrInsufficientFunds = errors.New("insufficient treasury funds")

	// ErrStorage wraps collaborator and persistence failures. Fatal to the
	// triggering request; the transactional commit guarantees no partial
	// writes reached the stores.
	ErrStorage = errors.New("storage error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LedgerViolationError reports the exact headroom shortfall.
type LedgerViolationError struct {
	CaseID        CaseID
	ApprovedTotal decimal.Decimal
	Disbursed     decimal.Decimal
	Requested     decimal.Decimal
}

func (e *LedgerViolationError) Error() string {
	return fmt.Sprintf("disbursement %v exceeds remaining capacity (approved %v, disbursed %v)",
		e.Requested, e.ApprovedTotal, e.Disbursed)
}

func (e *LedgerViolationError) Unwrap() error { return ErrLedgerViolation }

// TotalAlreadySetError is returned on a second setApprovedTotal attempt.
type TotalAlreadySetError struct {
	CaseID  CaseID
	Current decimal.Decimal
}

func (e *TotalAlreadySetError) Error() string {
	return fmt.Sprintf("approved total already set to %v for case %s", e.Current, e.CaseID)
}

func (e *TotalAlreadySetError) Unwrap() error { return ErrLedgerViolation }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the caller may re-read the case and try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStageConflict)
}

// IsClientError reports whether the error is the caller's fault. These are
// never retried automatically.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrStageIllegal) ||
		errors.Is(err, ErrLedgerViolation) ||
		errors.Is(err, ErrDuplicateNaturalKey) ||
		errors.Is(err, ErrCaseTerminal)
}

// IsNotFound reports whether the error indicates a missing case.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCaseNotFound)
}
