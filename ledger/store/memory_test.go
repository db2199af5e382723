package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func seedCredit(t *testing.T, m *store.Memory, code string, customerID ledger.CustomerID, amount float64, createdAt time.Time, expiry *time.Time) ledger.Credit {
	t.Helper()
	credit := ledger.Credit{
		ID:             ledger.NewCreditID(),
		Code:           code,
		OriginalAmount: ledger.NewMoney(amount, "USD"),
		Balance:        ledger.NewMoney(amount, "USD"),
		Status:         ledger.StatusActive,
		ExpirationDate: expiry,
		CustomerID:     customerID,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	issue := ledger.Transaction{
		ID:           ledger.NewTransactionID(),
		CreditID:     credit.ID,
		CustomerID:   customerID,
		Type:         ledger.TxIssue,
		Amount:       credit.OriginalAmount,
		BalanceAfter: credit.OriginalAmount,
		Timestamp:    createdAt,
	}
	require.NoError(t, m.CreateCredit(context.Background(), credit, issue))
	return credit
}

// =============================================================================
// CREATE / LOOKUP TESTS
// =============================================================================

func TestMemory_CreateAndLookup(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	credit := seedCredit(t, m, "SC-AAAA-BBBB-CCCC", "cust-1", 50, now, nil)

	byID, err := m.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, credit.Code, byID.Code)

	byCode, err := m.GetCreditByCode(ctx, credit.Code)
	require.NoError(t, err)
	assert.Equal(t, credit.ID, byCode.ID)

	exists, err := m.CodeExists(ctx, credit.Code)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = m.GetCredit(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrCreditNotFound)
	_, err = m.GetCreditByCode(ctx, "SC-ZZZZ-ZZZZ-ZZZZ")
	assert.ErrorIs(t, err, ledger.ErrCreditNotFound)
}

func TestMemory_DuplicateCodeRejected(t *testing.T) {
	m := store.NewMemory()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	seedCredit(t, m, "SC-AAAA-BBBB-CCCC", "cust-1", 50, now, nil)

	dup := ledger.Credit{
		ID:             ledger.NewCreditID(),
		Code:           "SC-AAAA-BBBB-CCCC",
		OriginalAmount: ledger.NewMoney(10, "USD"),
		Balance:        ledger.NewMoney(10, "USD"),
		Status:         ledger.StatusActive,
		CustomerID:     "cust-2",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := m.CreateCredit(context.Background(), dup, ledger.Transaction{})
	assert.ErrorIs(t, err, ledger.ErrDuplicateCode)
}

// =============================================================================
// LOCKED MUTATION TESTS
// =============================================================================

func TestMemory_WithCreditLock_CommitsOnNil(t *testing.T) {
	// GIVEN: A stored credit
	// WHEN: Staging an update and a transaction, returning nil
	// THEN: Both are visible afterwards

	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	credit := seedCredit(t, m, "SC-AAAA-BBBB-CCCC", "cust-1", 50, now, nil)

	err := m.WithCreditLock(ctx, credit.ID, func(view ledger.CreditView) error {
		c := view.Credit()
		c.Balance = ledger.NewMoney(30, "USD")
		c.UpdatedAt = now.Add(time.Hour)
		if err := view.Update(c); err != nil {
			return err
		}
		return view.AppendTransaction(ledger.Transaction{
			ID:           ledger.NewTransactionID(),
			CreditID:     c.ID,
			CustomerID:   c.CustomerID,
			Type:         ledger.TxRedeem,
			Amount:       ledger.NewMoney(-20, "USD"),
			BalanceAfter: c.Balance,
			Timestamp:    now.Add(time.Hour),
		})
	})
	require.NoError(t, err)

	reloaded, err := m.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.Equal(ledger.NewMoney(30, "USD")))

	txs, err := m.Transactions(ctx, credit.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestMemory_WithCreditLock_DiscardsOnError(t *testing.T) {
	// GIVEN: A stored credit
	// WHEN: The callback stages writes but returns an error
	// THEN: Nothing is applied

	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	credit := seedCredit(t, m, "SC-AAAA-BBBB-CCCC", "cust-1", 50, now, nil)

	boom := errors.New("validation failed")
	err := m.WithCreditLock(ctx, credit.ID, func(view ledger.CreditView) error {
		c := view.Credit()
		c.Balance = ledger.NewMoney(0, "USD")
		_ = view.Update(c)
		_ = view.AppendTransaction(ledger.Transaction{ID: ledger.NewTransactionID(), CreditID: c.ID})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	reloaded, err := m.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Balance.Equal(ledger.NewMoney(50, "USD")))

	txs, err := m.Transactions(ctx, credit.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMemory_WithCreditLock_ImmutableFieldsPreserved(t *testing.T) {
	// GIVEN: A stored credit
	// WHEN: The callback tries to rewrite identity fields
	// THEN: The stored values win

	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	credit := seedCredit(t, m, "SC-AAAA-BBBB-CCCC", "cust-1", 50, now, nil)

	err := m.WithCreditLock(ctx, credit.ID, func(view ledger.CreditView) error {
		c := view.Credit()
		c.Code = "SC-HACK-HACK-HACK"
		c.OriginalAmount = ledger.NewMoney(9999, "USD")
		c.CustomerID = "cust-other"
		return view.Update(c)
	})
	require.NoError(t, err)

	reloaded, err := m.GetCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, credit.Code, reloaded.Code)
	assert.True(t, reloaded.OriginalAmount.Equal(ledger.NewMoney(50, "USD")))
	assert.Equal(t, ledger.CustomerID("cust-1"), reloaded.CustomerID)
}

func TestMemory_WithCreditLock_UnknownCredit(t *testing.T) {
	m := store.NewMemory()

	err := m.WithCreditLock(context.Background(), "missing", func(ledger.CreditView) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, ledger.ErrCreditNotFound)
}

// =============================================================================
// LISTING TESTS
// =============================================================================

func TestMemory_ListByCustomer_OrderAndTerminalFilter(t *testing.T) {
	// GIVEN: Three credits for one customer, one terminal
	// WHEN: Listing with and without terminal credits
	// THEN: Newest first; terminal excluded unless asked for

	m := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	oldest := seedCredit(t, m, "SC-AAAA-0000-0001", "cust-1", 10, base, nil)
	middle := seedCredit(t, m, "SC-AAAA-0000-0002", "cust-1", 20, base.Add(time.Hour), nil)
	newest := seedCredit(t, m, "SC-AAAA-0000-0003", "cust-1", 30, base.Add(2*time.Hour), nil)
	seedCredit(t, m, "SC-AAAA-0000-0004", "cust-2", 40, base, nil)

	// Cancel the middle one.
	require.NoError(t, m.WithCreditLock(ctx, middle.ID, func(view ledger.CreditView) error {
		c := view.Credit()
		c.Status = ledger.StatusCancelled
		c.Balance = c.Balance.Zero()
		return view.Update(c)
	}))

	live, err := m.ListByCustomer(ctx, "cust-1", false)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, newest.ID, live[0].ID)
	assert.Equal(t, oldest.ID, live[1].ID)

	all, err := m.ListByCustomer(ctx, "cust-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_ListExpiredAndExpiring(t *testing.T) {
	// GIVEN: Credits around the expiration boundary
	// WHEN: Listing expired and expiring-within-a-week
	// THEN: Boundaries are inclusive for expired, (now, deadline] for expiring

	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	exactlyNow := now
	in3d := now.Add(3 * 24 * time.Hour)
	in8d := now.Add(8 * 24 * time.Hour)

	expired1 := seedCredit(t, m, "SC-AAAA-0000-0001", "cust-1", 10, now.Add(-48*time.Hour), &past)
	expired2 := seedCredit(t, m, "SC-AAAA-0000-0002", "cust-1", 10, now.Add(-24*time.Hour), &exactlyNow)
	expiring := seedCredit(t, m, "SC-AAAA-0000-0003", "cust-1", 10, now, &in3d)
	seedCredit(t, m, "SC-AAAA-0000-0004", "cust-1", 10, now, &in8d)
	seedCredit(t, m, "SC-AAAA-0000-0005", "cust-1", 10, now, nil)

	due, err := m.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, expired1.ID, due[0].ID, "oldest first")
	assert.Equal(t, expired2.ID, due[1].ID)

	soon, err := m.ListExpiring(ctx, now, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, soon, 1)
	assert.Equal(t, expiring.ID, soon[0].ID)
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestMemory_QueryTransactions_Filters(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	c1 := seedCredit(t, m, "SC-AAAA-0000-0001", "cust-1", 10, now, nil)
	seedCredit(t, m, "SC-AAAA-0000-0002", "cust-2", 20, now.Add(time.Hour), nil)

	byCredit, err := m.QueryTransactions(ctx, ledger.TransactionFilter{CreditID: c1.ID})
	require.NoError(t, err)
	assert.Len(t, byCredit, 1)

	byCustomer, err := m.QueryTransactions(ctx, ledger.TransactionFilter{CustomerID: "cust-2"})
	require.NoError(t, err)
	assert.Len(t, byCustomer, 1)

	all, err := m.QueryTransactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	windowed, err := m.QueryTransactions(ctx, ledger.TransactionFilter{
		From: now.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, windowed, 1)
}
