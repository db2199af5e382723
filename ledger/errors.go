/*
errors.go - Centralized error types for the credit ledger

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the HTTP layer maps these to
  status codes without string inspection.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any mutation (never retried)
  2. Store errors - Missing rows, uniqueness violations, lock conflicts
  3. Generator errors - Code generation exhaustion

PROPAGATION POLICY:
  Validation errors are detected before any side effect and returned
  synchronously. ErrConcurrentModification is the only kind worth an
  automatic bounded retry. Notification hook failures are logged and
  swallowed - they never surface as operation failures.

SEE ALSO:
  - engine.go: Returns these from lifecycle operations
  - store/: Implementations map constraint violations onto sentinels
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
	// ErrInvalidAmount is returned when an issuance or redemption amount
	// is zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// credit's remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCreditNotActive is returned when a balance-changing operation
	// targets a credit that is not in the active state.
	ErrCreditNotActive = errors.New("credit not active")

	// ErrAlreadyTerminal is returned when cancelling or expiring a credit
	// that is already in a terminal state. The first transition wins;
	// nothing is double-recorded.
	ErrAlreadyTerminal = errors.New("credit already in terminal state")

	// ErrAdjustmentOutOfRange is returned when an adjustment would push
	// the balance below zero, or above the original amount while the
	// engine is configured to disallow that.
	ErrAdjustmentOutOfRange = errors.New("adjustment out of range")

	// ErrCreditNotFound is returned when the referenced credit does not exist.
	ErrCreditNotFound = errors.New("credit not found")

	// ErrConcurrentModification is returned by optimistic stores when the
	// credit row changed between read and write. Transient; safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCodeGenerationExhausted is returned when the code generator ran
	// out of collision-retry attempts.
	ErrCodeGenerationExhausted = errors.New("code generation exhausted")

	// ErrDuplicateCode is returned when a generated code already exists.
	// The store's unique constraint is the correctness backstop behind
	// the generator's probabilistic uniqueness.
	ErrDuplicateCode = errors.New("duplicate credit code")

	// ErrCurrencyMismatch is returned when an operation's amount currency
	// does not match the credit's currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidExpiration is returned when an expiration extension is not
	// strictly later than the current expiration date.
	ErrInvalidExpiration = errors.New("invalid expiration date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	CreditID  CreditID
	Available Money
	Requested Money
	Shortfall Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %v, requested %v, shortfall %v",
		e.CreditID, e.Available.Value, e.Requested.Value, e.Shortfall.Value)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// NotActiveError reports the actual status of a credit rejected for not
// being active. Terminal statuses unwrap to ErrAlreadyTerminal so callers
// can distinguish "already cancelled" from plain "not active".
type NotActiveError struct {
	CreditID CreditID
	Status   CreditStatus
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("credit %s is %s, not active", e.CreditID, e.Status)
}

func (e *NotActiveError) Unwrap() error {
	if e.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	return ErrCreditNotActive
}

// AdjustmentOutOfRangeError provides details about a rejected adjustment.
type AdjustmentOutOfRangeError struct {
	CreditID CreditID
	Balance  Money
	Delta    Money
	Original Money
}

func (e *AdjustmentOutOfRangeError) Error() string {
	return fmt.Sprintf("adjustment of %v on %s out of range: balance %v, original %v",
		e.Delta.Value, e.CreditID, e.Balance.Value, e.Original.Value)
}

func (e *AdjustmentOutOfRangeError) Unwrap() error {
	return ErrAdjustmentOutOfRange
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCreditNotActive) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrAdjustmentOutOfRange) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidExpiration)
}

// IsNotFound returns true if the error indicates a missing credit.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCreditNotFound)
}
