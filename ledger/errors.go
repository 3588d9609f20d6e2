/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can use
  errors.Is without caring about the details.

ERROR CATEGORIES:
  1. Client errors - ValidationError, EntityNotFoundError, SameAccountError,
     InsufficientFundsError. Expected outcomes, returned to the caller.
  2. Conflicts - ErrConcurrentModification is raised by stores and retried
     by the Orchestrator. ConcurrencyConflictError surfaces once retries
     are exhausted.
  3. Defects - ConsistencyViolationError. Unreachable by construction;
     surfaced and flagged for investigation, never retried.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) {
      var ife *ledger.InsufficientFundsError
      errors.As(err, &ife)
      ...
  }

SEE ALSO:
  - orchestrator.go: Retry and defect handling
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (amount <= 0, unknown
	// account, montoPagado > total, ...).
	ErrValidation = errors.New("validation failed")

	// ErrEntityNotFound is returned when an account, sale, order or party
	// does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrSameAccount is returned for a transfer whose origin and destination
	// are the same account.
	ErrSameAccount = errors.New("origin and destination are the same account")

	// ErrInsufficientFunds is returned when a debit exceeds capitalActual.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrentModification is returned by stores when optimistic
	// conflict detection rejects a write. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConcurrencyConflict is returned when retries are exhausted.
	ErrConcurrencyConflict = errors.New("concurrency conflict: retries exhausted")

	// ErrConsistencyViolation is returned when a derived invariant breaks.
	ErrConsistencyViolation = errors.New("consistency violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EntityNotFoundError names the missing entity.
type EntityNotFoundError struct {
	Kind string // "account", "sale", "purchase_order", "party"
	ID   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *EntityNotFoundError) Unwrap() error { return ErrEntityNotFound }

// SameAccountError is returned by Transfer when origin == destination.
type SameAccountError struct {
	AccountID AccountID
}

func (e *SameAccountError) Error() string {
	return fmt.Sprintf("cannot transfer from %s to itself", e.AccountID)
}

func (e *SameAccountError) Unwrap() error { return ErrSameAccount }

// InsufficientFundsError provides details about a capital shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, requested %s, shortfall %s",
		e.AccountID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ConcurrencyConflictError is returned after the retry budget is spent.
type ConcurrencyConflictError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// ConsistencyViolationError reports a broken invariant. It is a defect.
type ConsistencyViolationError struct {
	AccountID AccountID
	Check     string
	Detail    string
}

func (e *ConsistencyViolationError) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("consistency violation (%s): %s", e.Check, e.Detail)
	}
	return fmt.Sprintf("consistency violation on %s (%s): %s", e.AccountID, e.Check, e.Detail)
}

func (e *ConsistencyViolationError) Unwrap() error { return ErrConsistencyViolation }

// NotFound builds an EntityNotFoundError. Stores use it so callers see the
// same error regardless of the backing engine.
func NotFound(kind string, id any) error {
	return &EntityNotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is an expected, caller-recoverable outcome.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsDefect returns true for errors that should never happen.
func IsDefect(err error) bool {
	return errors.Is(err, ErrConsistencyViolation)
}

// =============================================================================
// RESULT - what callers (UI/API) see
// =============================================================================

// Result is the structured outcome of a ledger operation. A failed Result
// never implies partial success.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ResultOf converts an operation error to a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{Success: false, Error: err.Error()}
}
