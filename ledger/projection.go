/*
projection.go - Read-only reporting over the transaction history

PURPOSE:
  Answers "what happened" questions without touching ledger state:
  aggregate totals and time series for dashboards, per-customer
  summaries, point-in-time balance reconstruction, and an audit check
  that replays a credit's history against its stored balance.

CONSISTENCY:
  Everything here is computed from the transaction history on demand, so
  it is consistent with the ledger by construction - there is no cache to
  invalidate and nothing to drift.

BALANCE RECONSTRUCTION:
  Every transaction carries BalanceAfter, so the balance at time T is the
  BalanceAfter of the newest transaction at or before T. VerifyCredit
  additionally replays the signed amounts and confirms both derivations
  agree - the global invariant the store must never violate.

SEE ALSO:
  - types.go: The invariant this verifies
  - store.go: QueryTransactions
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROJECTION - Read-only aggregation
// =============================================================================

// Projection computes reports from transaction history. Never mutates.
type Projection struct {
	Store CreditStore
}

func NewProjection(store CreditStore) *Projection {
	return &Projection{Store: store}
}

// GroupBy selects the bucketing of an aggregation.
type GroupBy string

const (
	GroupNone  GroupBy = ""
	GroupDay   GroupBy = "day"
	GroupMonth GroupBy = "month"
	GroupType  GroupBy = "type"
)

// Totals sums signed transaction amounts by lifecycle meaning. All values
// are positive magnitudes except Net, which is the signed sum.
type Totals struct {
	Count     int
	Issued    decimal.Decimal
	Redeemed  decimal.Decimal
	Adjusted  decimal.Decimal // Signed net of manual adjustments
	Cancelled decimal.Decimal
	Expired   decimal.Decimal
	Net       decimal.Decimal
}

// Bucket is one group of an aggregation: a calendar bucket or a
// transaction type, depending on GroupBy.
type Bucket struct {
	Key    string
	Count  int
	Net    decimal.Decimal
	Totals Totals
}

// Report is the result of Aggregate: overall totals plus ordered buckets.
type Report struct {
	Totals  Totals
	Buckets []Bucket
}

// Aggregate computes totals (and optionally grouped buckets) over the
// transactions matching the filter.
func (p *Projection) Aggregate(ctx context.Context, filter TransactionFilter, groupBy GroupBy) (Report, error) {
	txs, err := p.Store.QueryTransactions(ctx, filter)
	if err != nil {
		return Report{}, err
	}

	var report Report
	buckets := make(map[string]*Bucket)
	var order []string

	for _, tx := range txs {
		accumulate(&report.Totals, tx)

		if groupBy == GroupNone {
			continue
		}
		key := bucketKey(tx, groupBy)
		b, ok := buckets[key]
		if !ok {
			b = &Bucket{Key: key}
			buckets[key] = b
			order = append(order, key)
		}
		accumulate(&b.Totals, tx)
		b.Count = b.Totals.Count
		b.Net = b.Totals.Net
	}

	for _, key := range order {
		report.Buckets = append(report.Buckets, *buckets[key])
	}
	return report, nil
}

func bucketKey(tx Transaction, groupBy GroupBy) string {
	switch groupBy {
	case GroupDay:
		return tx.Timestamp.UTC().Format("2006-01-02")
	case GroupMonth:
		return tx.Timestamp.UTC().Format("2006-01")
	case GroupType:
		return string(tx.Type)
	default:
		return ""
	}
}

func accumulate(t *Totals, tx Transaction) {
	t.Count++
	t.Net = t.Net.Add(tx.Amount.Value)
	switch tx.Type {
	case TxIssue:
		t.Issued = t.Issued.Add(tx.Amount.Value)
	case TxRedeem:
		t.Redeemed = t.Redeemed.Add(tx.Amount.Value.Neg())
	case TxAdjust:
		t.Adjusted = t.Adjusted.Add(tx.Amount.Value)
	case TxCancel:
		t.Cancelled = t.Cancelled.Add(tx.Amount.Value.Neg())
	case TxExpire:
		t.Expired = t.Expired.Add(tx.Amount.Value.Neg())
	case TxExtend:
		// Zero-amount audit entry; counted, contributes nothing.
	}
}

// =============================================================================
// BALANCE RECONSTRUCTION
// =============================================================================

// BalanceAt returns the credit's balance as of at, from the BalanceAfter
// checkpoint of the newest transaction at or before that time. A time
// before the issuing transaction yields a zero balance.
func (p *Projection) BalanceAt(ctx context.Context, creditID CreditID, at time.Time) (Money, error) {
	credit, err := p.Store.GetCredit(ctx, creditID)
	if err != nil {
		return Money{}, err
	}

	txs, err := p.Store.Transactions(ctx, creditID)
	if err != nil {
		return Money{}, err
	}

	balance := credit.OriginalAmount.Zero()
	for _, tx := range txs {
		if tx.Timestamp.After(at) {
			break
		}
		balance = tx.BalanceAfter
	}
	return balance, nil
}

// =============================================================================
// AUDIT VERIFICATION
// =============================================================================

// VerifyResult reports the two balance derivations for a credit.
type VerifyResult struct {
	CreditID         CreditID
	Balance          Money // Stored on the credit row
	ReplayedBalance  Money // OriginalAmount + sum of signed amounts (issue included)
	CheckpointAmount Money // BalanceAfter of the newest transaction
	Consistent       bool
}

// VerifyCredit replays a credit's history and confirms that the stored
// balance, the signed-amount sum, and the newest BalanceAfter checkpoint
// all agree.
func (p *Projection) VerifyCredit(ctx context.Context, creditID CreditID) (VerifyResult, error) {
	credit, err := p.Store.GetCredit(ctx, creditID)
	if err != nil {
		return VerifyResult{}, err
	}
	txs, err := p.Store.Transactions(ctx, creditID)
	if err != nil {
		return VerifyResult{}, err
	}
	if len(txs) == 0 {
		return VerifyResult{}, fmt.Errorf("credit %s has no transactions: %w", creditID, ErrCreditNotFound)
	}

	// The issuing transaction's +originalAmount starts the sum from zero.
	sum := credit.OriginalAmount.Zero()
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	checkpoint := txs[len(txs)-1].BalanceAfter

	result := VerifyResult{
		CreditID:         creditID,
		Balance:          credit.Balance,
		ReplayedBalance:  sum,
		CheckpointAmount: checkpoint,
		Consistent:       credit.Balance.Equal(sum) && credit.Balance.Equal(checkpoint),
	}
	return result, nil
}

// =============================================================================
// CUSTOMER SUMMARY
// =============================================================================

// CustomerSummary aggregates one customer's position across all credits.
type CustomerSummary struct {
	CustomerID  CustomerID
	CreditCount int
	ActiveCount int
	Outstanding decimal.Decimal // Sum of active balances
	Totals      Totals
}

// SummarizeCustomer computes a customer's summary from their credits and
// full transaction history.
func (p *Projection) SummarizeCustomer(ctx context.Context, customerID CustomerID) (CustomerSummary, error) {
	credits, err := p.Store.ListByCustomer(ctx, customerID, true)
	if err != nil {
		return CustomerSummary{}, err
	}

	summary := CustomerSummary{CustomerID: customerID, CreditCount: len(credits)}
	for _, c := range credits {
		if c.Status == StatusActive {
			summary.ActiveCount++
			summary.Outstanding = summary.Outstanding.Add(c.Balance.Value)
		}
	}

	txs, err := p.Store.QueryTransactions(ctx, TransactionFilter{CustomerID: customerID})
	if err != nil {
		return CustomerSummary{}, err
	}
	for _, tx := range txs {
		accumulate(&summary.Totals, tx)
	}
	return summary, nil
}
