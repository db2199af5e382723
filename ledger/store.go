/*
store.go - Persistence interface for credits and transactions

PURPOSE:
  Defines the interface between the lifecycle engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage; the engine is oblivious to which.

APPEND-ONLY CONTRACT:
  Transactions have exactly one write path: CreditView.AppendTransaction
  inside a credit lock (or the issuing write in CreateCredit). There is
  no Update or Delete on transactions. Ever.

LOCKING CONTRACT:
  WithCreditLock(creditID, fn) acquires exclusive access to one credit
  for the duration of fn. The balance read, balance write, and transaction
  append staged inside fn are applied as one atomic unit; if fn returns an
  error, nothing is applied. Serialization is per credit - different
  credits may be mutated concurrently.

SOFT STATE:
  Terminal credits (used/expired/cancelled) are never deleted. Queries
  that should see only live credits say so explicitly via IncludeTerminal;
  there is no implicit filter injected anywhere.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for tests

SEE ALSO:
  - engine.go: The only writer
  - projection.go: Read-only consumer of QueryTransactions
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// CREDIT VIEW - Staged mutation inside a credit lock
// =============================================================================

// CreditView is the handle passed to a WithCreditLock callback. Writes
// staged through it commit together when the callback returns nil and are
// discarded entirely when it returns an error.
type CreditView interface {
	// Credit returns the locked credit as of lock acquisition.
	Credit() Credit

	// Update stages the credit's new balance, status, expiration and
	// UpdatedAt. ID, Code, OriginalAmount, CustomerID and CreatedAt are
	// immutable; implementations ignore changes to them.
	Update(credit Credit) error

	// AppendTransaction stages one immutable ledger entry.
	AppendTransaction(tx Transaction) error
}

// =============================================================================
// CREDIT STORE - Persistence contract
// =============================================================================

// CreditStore persists credits and their append-only transaction history.
type CreditStore interface {
	// CreateCredit inserts a credit together with its issuing transaction
	// atomically. Returns ErrDuplicateCode if the code already exists.
	CreateCredit(ctx context.Context, credit Credit, issue Transaction) error

	// GetCredit returns a credit by ID. Returns ErrCreditNotFound.
	GetCredit(ctx context.Context, id CreditID) (Credit, error)

	// GetCreditByCode returns a credit by its redemption code.
	// Returns ErrCreditNotFound.
	GetCreditByCode(ctx context.Context, code string) (Credit, error)

	// CodeExists reports whether a redemption code is already assigned.
	// Used by the code generator's collision retry.
	CodeExists(ctx context.Context, code string) (bool, error)

	// WithCreditLock runs fn with exclusive access to one credit.
	// Returns ErrCreditNotFound if the credit does not exist.
	WithCreditLock(ctx context.Context, id CreditID, fn func(CreditView) error) error

	// ListByCustomer returns a customer's credits, newest first.
	// Terminal credits are included only when includeTerminal is set.
	ListByCustomer(ctx context.Context, customerID CustomerID, includeTerminal bool) ([]Credit, error)

	// ListExpired returns active credits whose expiration date is at or
	// before now. Input to the expiration sweeper.
	ListExpired(ctx context.Context, now time.Time) ([]Credit, error)

	// ListExpiring returns active credits expiring in (now, now+within].
	// Input to expiring-soon notifications.
	ListExpiring(ctx context.Context, now time.Time, within time.Duration) ([]Credit, error)

	// Transactions returns a credit's full history, oldest first.
	Transactions(ctx context.Context, creditID CreditID) ([]Transaction, error)

	// QueryTransactions returns transactions matching the filter across
	// credits, oldest first. Read-only; feeds the reporting projection.
	QueryTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// TransactionFilter narrows QueryTransactions. Zero-value fields match all.
type TransactionFilter struct {
	CreditID   CreditID
	CustomerID CustomerID
	Types      []TransactionType
	Currency   string
	From       time.Time // Inclusive; zero = unbounded
	To         time.Time // Inclusive; zero = unbounded
}

// Matches reports whether tx passes the filter. Shared by in-memory
// filtering and tests; SQL stores push the same predicate into the query.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.CreditID != "" && tx.CreditID != f.CreditID {
		return false
	}
	if f.CustomerID != "" && tx.CustomerID != f.CustomerID {
		return false
	}
	if f.Currency != "" && tx.Amount.Currency != f.Currency {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if tx.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Timestamp.After(f.To) {
		return false
	}
	return true
}
