/*
engine.go - Credit lifecycle engine

PURPOSE:
  The single code path for every state transition a credit can take:
  Issue, Redeem, Adjust, Cancel, ExtendExpiration, and (sweeper-only)
  expire. Each operation validates first, then applies the balance
  update and exactly one ledger transaction as a single atomic unit
  through the store's credit lock.

STATE MACHINE:
  active -> used       (redemption/adjustment drained the balance)
  active -> expired    (sweeper; expiration date passed)
  active -> cancelled  (manual cancellation)
  used/expired/cancelled are terminal.

ATOMICITY:
  Validation failures return before any mutation: no partial transaction,
  no balance change, no UpdatedAt bump. The double-spend race (two
  concurrent redemptions that individually fit but jointly exceed the
  balance) resolves to exactly one success because balance is re-read
  under the credit lock.

NOTIFICATIONS:
  Events are collected while the mutation is staged and dispatched only
  after the store commit, best-effort, never blocking the caller on
  delivery.

SEE ALSO:
  - store.go: WithCreditLock contract
  - sweeper.go: Batch expiration on top of the same path
  - hooks.go: Event dispatch
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// ENGINE
// =============================================================================

// EngineConfig carries business-rule toggles.
type EngineConfig struct {
	// AllowBalanceAboveOriginal permits upward adjustments to push the
	// balance past the original amount. Default false: such adjustments
	// fail with ErrAdjustmentOutOfRange.
	AllowBalanceAboveOriginal bool
}

// Engine implements the credit lifecycle. Stateless apart from injected
// collaborators; safe for concurrent use.
type Engine struct {
	store    CreditStore
	codes    *CodeGenerator
	config   EngineConfig
	hooks    *HookDispatcher
	metrics  *Metrics
	now      func() time.Time
}

// EngineOptions configures optional collaborators. Zero values are valid:
// no hooks, no metrics, wall-clock time, default code generator.
type EngineOptions struct {
	Config  EngineConfig
	Hook    NotificationHook
	Metrics *Metrics
	Logger  *logrus.Entry
	Codes   *CodeGenerator
	Now     func() time.Time
}

func NewEngine(store CreditStore, opts EngineOptions) *Engine {
	codes := opts.Codes
	if codes == nil {
		codes = NewCodeGenerator(store)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:   store,
		codes:   codes,
		config:  opts.Config,
		hooks:   NewHookDispatcher(opts.Hook, opts.Logger),
		metrics: opts.Metrics,
		now:     now,
	}
}

// =============================================================================
// ISSUE
// =============================================================================

type IssueInput struct {
	CustomerID     CustomerID
	Amount         Money
	ExpirationDate *time.Time // nil = never expires
	Note           string
	StaffID        string
	LocationID     string
}

// Issue creates a credit with status active and balance equal to the
// original amount, plus the issuing transaction. Fails with
// ErrInvalidAmount if the amount is not strictly positive.
func (e *Engine) Issue(ctx context.Context, in IssueInput) (Credit, Transaction, error) {
	start := e.now()
	credit, tx, err := e.issue(ctx, in)
	e.metrics.observeOperation("issue", start, err)
	if err == nil {
		e.hooks.Dispatch([]Event{IssuedEvent{CreditID: credit.ID}})
	}
	return credit, tx, err
}

func (e *Engine) issue(ctx context.Context, in IssueInput) (Credit, Transaction, error) {
	if !in.Amount.IsPositive() {
		return Credit{}, Transaction{}, fmt.Errorf("issue amount %v: %w", in.Amount.Value, ErrInvalidAmount)
	}
	if in.Amount.Currency == "" {
		return Credit{}, Transaction{}, fmt.Errorf("issue requires a currency: %w", ErrInvalidAmount)
	}

	now := e.now().UTC()
	credit := Credit{
		ID:             NewCreditID(),
		OriginalAmount: in.Amount,
		Balance:        in.Amount,
		Status:         StatusActive,
		ExpirationDate: in.ExpirationDate,
		CustomerID:     in.CustomerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx := Transaction{
		CreditID:     credit.ID,
		CustomerID:   in.CustomerID,
		Type:         TxIssue,
		Amount:       in.Amount,
		BalanceAfter: in.Amount,
		StaffID:      in.StaffID,
		LocationID:   in.LocationID,
		Note:         in.Note,
		Timestamp:    now,
	}

	// The generator's uniqueness is probabilistic; the store's unique
	// constraint is the backstop. One extra round covers the window
	// between CodeExists and CreateCredit.
	for attempt := 0; attempt < 2; attempt++ {
		code, err := e.codes.GenerateCode(ctx)
		if err != nil {
			return Credit{}, Transaction{}, err
		}
		credit.Code = code
		tx.ID = NewTransactionID()

		err = e.store.CreateCredit(ctx, credit, tx)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return Credit{}, Transaction{}, err
		}
		return credit, tx, nil
	}
	return Credit{}, Transaction{}, ErrCodeGenerationExhausted
}

// =============================================================================
// REDEEM
// =============================================================================

type RedeemInput struct {
	CreditID    CreditID
	Amount      Money
	OrderID     string
	OrderNumber string
	StaffID     string
	LocationID  string
	Note        string
}

// Redeem consumes part or all of an active credit's balance. When the
// balance reaches exactly zero the credit transitions to used.
func (e *Engine) Redeem(ctx context.Context, in RedeemInput) (Credit, Transaction, error) {
	start := e.now()
	credit, tx, err := e.redeem(ctx, in)
	e.metrics.observeOperation("redeem", start, err)
	if err == nil {
		e.hooks.Dispatch([]Event{RedeemedEvent{CreditID: credit.ID, TransactionID: tx.ID}})
	}
	return credit, tx, err
}

func (e *Engine) redeem(ctx context.Context, in RedeemInput) (Credit, Transaction, error) {
	if !in.Amount.IsPositive() {
		return Credit{}, Transaction{}, fmt.Errorf("redeem amount %v: %w", in.Amount.Value, ErrInvalidAmount)
	}

	var result Credit
	var appended Transaction
	err := e.store.WithCreditLock(ctx, in.CreditID, func(view CreditView) error {
		credit := view.Credit()
		if err := requireActive(credit); err != nil {
			return err
		}
		if err := requireCurrency(credit, in.Amount); err != nil {
			return err
		}
		if in.Amount.GreaterThan(credit.Balance) {
			return &InsufficientBalanceError{
				CreditID:  credit.ID,
				Available: credit.Balance,
				Requested: in.Amount,
				Shortfall: in.Amount.Sub(credit.Balance),
			}
		}

		now := e.now().UTC()
		credit.Balance = credit.Balance.Sub(in.Amount)
		if credit.Balance.IsZero() {
			credit.Status = StatusUsed
		}
		credit.UpdatedAt = now

		appended = Transaction{
			ID:           NewTransactionID(),
			CreditID:     credit.ID,
			CustomerID:   credit.CustomerID,
			Type:         TxRedeem,
			Amount:       in.Amount.Neg(),
			BalanceAfter: credit.Balance,
			StaffID:      in.StaffID,
			LocationID:   in.LocationID,
			OrderID:      in.OrderID,
			OrderNumber:  in.OrderNumber,
			Note:         in.Note,
			Timestamp:    now,
		}

		if err := view.Update(credit); err != nil {
			return err
		}
		if err := view.AppendTransaction(appended); err != nil {
			return err
		}
		result = credit
		return nil
	})
	if err != nil {
		return Credit{}, Transaction{}, err
	}
	return result, appended, nil
}

// =============================================================================
// ADJUST
// =============================================================================

type AdjustInput struct {
	CreditID CreditID
	Delta    Money // Signed: positive raises the balance, negative lowers it
	Reason   string
	StaffID  string
}

// Adjust applies a manual correction to an active credit. The resulting
// balance must stay at or above zero, and at or below the original amount
// unless AllowBalanceAboveOriginal is set. A balance drained to zero
// transitions the credit to used.
func (e *Engine) Adjust(ctx context.Context, in AdjustInput) (Credit, Transaction, error) {
	start := e.now()
	credit, tx, err := e.adjust(ctx, in)
	e.metrics.observeOperation("adjust", start, err)
	return credit, tx, err
}

func (e *Engine) adjust(ctx context.Context, in AdjustInput) (Credit, Transaction, error) {
	if in.Delta.IsZero() {
		return Credit{}, Transaction{}, fmt.Errorf("zero adjustment: %w", ErrInvalidAmount)
	}

	var result Credit
	var appended Transaction
	err := e.store.WithCreditLock(ctx, in.CreditID, func(view CreditView) error {
		credit := view.Credit()
		if err := requireActive(credit); err != nil {
			return err
		}
		if err := requireCurrency(credit, in.Delta); err != nil {
			return err
		}

		next := credit.Balance.Add(in.Delta)
		if next.IsNegative() {
			return &AdjustmentOutOfRangeError{
				CreditID: credit.ID,
				Balance:  credit.Balance,
				Delta:    in.Delta,
				Original: credit.OriginalAmount,
			}
		}
		if !e.config.AllowBalanceAboveOriginal && next.GreaterThan(credit.OriginalAmount) {
			return &AdjustmentOutOfRangeError{
				CreditID: credit.ID,
				Balance:  credit.Balance,
				Delta:    in.Delta,
				Original: credit.OriginalAmount,
			}
		}

		now := e.now().UTC()
		credit.Balance = next
		if credit.Balance.IsZero() {
			credit.Status = StatusUsed
		}
		credit.UpdatedAt = now

		appended = Transaction{
			ID:           NewTransactionID(),
			CreditID:     credit.ID,
			CustomerID:   credit.CustomerID,
			Type:         TxAdjust,
			Amount:       in.Delta,
			BalanceAfter: credit.Balance,
			StaffID:      in.StaffID,
			Note:         in.Reason,
			Timestamp:    now,
		}

		if err := view.Update(credit); err != nil {
			return err
		}
		if err := view.AppendTransaction(appended); err != nil {
			return err
		}
		result = credit
		return nil
	})
	if err != nil {
		return Credit{}, Transaction{}, err
	}
	return result, appended, nil
}

// =============================================================================
// CANCEL
// =============================================================================

type CancelInput struct {
	CreditID CreditID
	Reason   string
	StaffID  string
}

// Cancel zeroes an active credit's remaining balance and transitions it
// to cancelled. Cancelling an already-terminal credit fails with
// ErrAlreadyTerminal; nothing is double-recorded.
func (e *Engine) Cancel(ctx context.Context, in CancelInput) (Credit, Transaction, error) {
	start := e.now()
	credit, tx, err := e.terminate(ctx, in.CreditID, TxCancel, StatusCancelled, in.Reason, in.StaffID, nil)
	e.metrics.observeOperation("cancel", start, err)
	return credit, tx, err
}

// expire transitions an active, past-due credit to expired. Invoked only
// by the Sweeper; there is no external entry point.
func (e *Engine) expire(ctx context.Context, creditID CreditID, now time.Time) (Credit, Transaction, error) {
	start := e.now()
	credit, tx, err := e.terminate(ctx, creditID, TxExpire, StatusExpired, "expired", "", &now)
	e.metrics.observeOperation("expire", start, err)
	return credit, tx, err
}

// terminate is the shared cancel/expire path: zero the balance by
// recording the negated remainder, move to a terminal status.
func (e *Engine) terminate(ctx context.Context, creditID CreditID, txType TransactionType, terminal CreditStatus, reason, staffID string, dueBy *time.Time) (Credit, Transaction, error) {
	var result Credit
	var appended Transaction
	err := e.store.WithCreditLock(ctx, creditID, func(view CreditView) error {
		credit := view.Credit()
		if err := requireActive(credit); err != nil {
			return err
		}
		if dueBy != nil && !credit.ExpiredAt(*dueBy) {
			// Expiration moved while the sweep batch was in flight.
			return fmt.Errorf("credit %s not past expiration: %w", credit.ID, ErrInvalidExpiration)
		}

		now := e.now().UTC()
		remaining := credit.Balance
		credit.Balance = credit.Balance.Zero()
		credit.Status = terminal
		credit.UpdatedAt = now

		appended = Transaction{
			ID:           NewTransactionID(),
			CreditID:     credit.ID,
			CustomerID:   credit.CustomerID,
			Type:         txType,
			Amount:       remaining.Neg(),
			BalanceAfter: credit.Balance,
			StaffID:      staffID,
			Note:         reason,
			Timestamp:    now,
		}

		if err := view.Update(credit); err != nil {
			return err
		}
		if err := view.AppendTransaction(appended); err != nil {
			return err
		}
		result = credit
		return nil
	})
	if err != nil {
		return Credit{}, Transaction{}, err
	}
	return result, appended, nil
}

// =============================================================================
// EXTEND EXPIRATION
// =============================================================================

type ExtendInput struct {
	CreditID          CreditID
	NewExpirationDate time.Time
	Reason            string
	StaffID           string
}

// ExtendExpiration moves an active credit's expiration date later. The
// change is recorded as a zero-amount transaction so the audit trail
// stays in one place. The new date must be strictly later than the
// current one; a credit with no expiration date accepts any date.
func (e *Engine) ExtendExpiration(ctx context.Context, in ExtendInput) (Credit, Transaction, error) {
	start := e.now()
	credit, tx, err := e.extendExpiration(ctx, in)
	e.metrics.observeOperation("extend_expiration", start, err)
	return credit, tx, err
}

func (e *Engine) extendExpiration(ctx context.Context, in ExtendInput) (Credit, Transaction, error) {
	var result Credit
	var appended Transaction
	err := e.store.WithCreditLock(ctx, in.CreditID, func(view CreditView) error {
		credit := view.Credit()
		if err := requireActive(credit); err != nil {
			return err
		}
		if credit.ExpirationDate != nil && !in.NewExpirationDate.After(*credit.ExpirationDate) {
			return fmt.Errorf("new date %s not after current %s: %w",
				in.NewExpirationDate.Format(time.RFC3339),
				credit.ExpirationDate.Format(time.RFC3339),
				ErrInvalidExpiration)
		}

		now := e.now().UTC()
		newDate := in.NewExpirationDate
		credit.ExpirationDate = &newDate
		credit.UpdatedAt = now

		appended = Transaction{
			ID:           NewTransactionID(),
			CreditID:     credit.ID,
			CustomerID:   credit.CustomerID,
			Type:         TxExtend,
			Amount:       credit.Balance.Zero(),
			BalanceAfter: credit.Balance,
			StaffID:      in.StaffID,
			Note:         in.Reason,
			Timestamp:    now,
		}

		if err := view.Update(credit); err != nil {
			return err
		}
		if err := view.AppendTransaction(appended); err != nil {
			return err
		}
		result = credit
		return nil
	})
	if err != nil {
		return Credit{}, Transaction{}, err
	}
	return result, appended, nil
}

// =============================================================================
// READS - Thin pass-throughs so callers need only the engine
// =============================================================================

func (e *Engine) GetCredit(ctx context.Context, id CreditID) (Credit, error) {
	return e.store.GetCredit(ctx, id)
}

func (e *Engine) GetCreditByCode(ctx context.Context, code string) (Credit, error) {
	return e.store.GetCreditByCode(ctx, code)
}

func (e *Engine) Transactions(ctx context.Context, id CreditID) ([]Transaction, error) {
	return e.store.Transactions(ctx, id)
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

func requireActive(credit Credit) error {
	if credit.Status != StatusActive {
		return &NotActiveError{CreditID: credit.ID, Status: credit.Status}
	}
	return nil
}

func requireCurrency(credit Credit, amount Money) error {
	if amount.Currency != "" && amount.Currency != credit.Currency() {
		return fmt.Errorf("%s vs %s: %w", amount.Currency, credit.Currency(), ErrCurrencyMismatch)
	}
	return nil
}
