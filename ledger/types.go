/*
Package ledger provides the store-credit ledger engine.

PURPOSE:
  This package contains the types and algorithms for issuing, redeeming,
  adjusting, cancelling and expiring store credits while maintaining an
  immutable, auditable transaction history. Balance is never mutated on
  its own - every change appends exactly one ledger transaction, and the
  transaction's BalanceAfter checkpoint lets any historical balance be
  reconstructed without replaying the full history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency (no floats in balances)
  - Credit: The aggregate root - one issued store-credit instrument
  - Transaction: An immutable ledger entry recording a balance change
  - CreditStatus: The state machine (active -> used/expired/cancelled)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never updated or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing credit/customer IDs
  4. Auditability: Every transaction carries provenance (staff, order, note)

INVARIANT (global):
  For any Credit, balance at time T equals OriginalAmount plus the sum of
  signed transaction amounts with Timestamp <= T, and also equals the
  BalanceAfter of the most recent such transaction. The store must never
  let these two derivations diverge.

SEE ALSO:
  - engine.go: Lifecycle operations (Issue, Redeem, Adjust, Cancel, Expire)
  - store.go: Persistence interface
  - projection.go: Read-only reporting over the transaction history
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoney(value float64, currency string) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromDecimal(value decimal.Decimal, currency string) Money {
	return Money{Value: value, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money { return Money{Value: decimal.Zero, Currency: m.Currency} }

func (m Money) Add(b Money) Money {
	return Money{Value: m.Value.Add(b.Value), Currency: m.Currency}
}

func (m Money) Sub(b Money) Money {
	return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency}
}

func (m Money) Neg() Money { return Money{Value: m.Value.Neg(), Currency: m.Currency} }

func (m Money) IsNegative() bool { return m.Value.IsNegative() }

func (m Money) IsZero() bool { return m.Value.IsZero() }

func (m Money) IsPositive() bool { return m.Value.IsPositive() }

func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }

func (m Money) LessThan(b Money) bool { return m.Value.LessThan(b.Value) }

func (m Money) Equal(b Money) bool { return m.Value.Equal(b.Value) }

func (m Money) SameCurrency(b Money) bool { return m.Currency == b.Currency }

func (m Money) String() string { return m.Value.StringFixed(2) + " " + m.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CreditID string
type TransactionID string
type CustomerID string

// NewCreditID returns a fresh unique credit identifier.
func NewCreditID() CreditID { return CreditID(uuid.NewString()) }

// NewTransactionID returns a fresh unique transaction identifier.
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }

// =============================================================================
// CREDIT STATUS - State machine
// =============================================================================

// CreditStatus is the credit lifecycle state.
//
// Transitions:
//   active -> used       (balance reached zero through redemption/adjustment)
//   active -> expired    (expiration sweeper)
//   active -> cancelled  (manual cancellation)
//
// used, expired and cancelled are terminal: no operation transitions out
// of them, and no balance-changing operation is accepted in them.
type CreditStatus string

const (
	StatusActive    CreditStatus = "active"
	StatusUsed      CreditStatus = "used"
	StatusExpired   CreditStatus = "expired"
	StatusCancelled CreditStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s CreditStatus) Terminal() bool {
	return s == StatusUsed || s == StatusExpired || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s CreditStatus) Valid() bool {
	switch s {
	case StatusActive, StatusUsed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

type TransactionType string

const (
	TxIssue  TransactionType = "issue"  // Credit created, amount = +originalAmount
	TxRedeem TransactionType = "redeem" // Balance consumed, amount negative
	TxAdjust TransactionType = "adjust" // Manual correction, amount signed
	TxCancel TransactionType = "cancel" // Remaining balance zeroed, amount = -balance
	TxExpire TransactionType = "expire" // Remaining balance zeroed by sweeper, amount = -balance
	TxExtend TransactionType = "extend" // Expiration extended, zero-amount audit entry
)

// =============================================================================
// CREDIT - Aggregate root
// =============================================================================

// Credit is one issued store-credit instrument. It is created by Issue,
// mutated exclusively through the Engine's operations, and never deleted.
// Terminal credits are retained for audit.
type Credit struct {
	ID             CreditID
	Code           string // Unique human-readable redemption code, immutable
	OriginalAmount Money  // Fixed at issuance, never changes
	Balance        Money  // 0 <= Balance, and <= OriginalAmount unless adjustments above original are enabled
	Status         CreditStatus
	ExpirationDate *time.Time // nil = never expires
	CustomerID     CustomerID // Weak reference - the ledger does not own customer lifecycle
	CreatedAt      time.Time
	UpdatedAt      time.Time // Bumped on every mutation
}

// Currency returns the credit's ISO currency code.
func (c Credit) Currency() string { return c.OriginalAmount.Currency }

// ExpiredAt reports whether the credit's expiration date has passed at now.
// A credit with no expiration date never expires.
func (c Credit) ExpiredAt(now time.Time) bool {
	return c.ExpirationDate != nil && !c.ExpirationDate.After(now)
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

// Transaction is one append-only ledger entry. Once written it is never
// updated or deleted; corrections happen through further entries.
type Transaction struct {
	ID         TransactionID
	CreditID   CreditID
	CustomerID CustomerID // Denormalized for query convenience
	Type       TransactionType
	Amount     Money // Signed: positive for issue/adjust-up, negative for redeem/adjust-down/cancel/expire
	// BalanceAfter is the credit's balance immediately after this transaction.
	// A materialized checkpoint: any historical balance is the BalanceAfter
	// of the newest transaction at or before that time.
	BalanceAfter Money

	// Provenance metadata, all optional.
	StaffID     string
	LocationID  string
	OrderID     string
	OrderNumber string
	Note        string

	Timestamp time.Time
}
