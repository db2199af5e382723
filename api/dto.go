/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Amounts cross the wire as decimal strings ("25.00"), never floats.
  Validation is done in handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// CREDIT
// =============================================================================

// CreditDTO represents a credit in API responses.
type CreditDTO struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	OriginalAmount string `json:"original_amount"`
	Balance        string `json:"balance"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	CustomerID     string `json:"customer_id"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toCreditDTO(c ledger.Credit) CreditDTO {
	dto := CreditDTO{
		ID:             string(c.ID),
		Code:           c.Code,
		OriginalAmount: c.OriginalAmount.Value.StringFixed(2),
		Balance:        c.Balance.Value.StringFixed(2),
		Currency:       c.Currency(),
		Status:         string(c.Status),
		CustomerID:     string(c.CustomerID),
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      c.UpdatedAt.Format(time.RFC3339),
	}
	if c.ExpirationDate != nil {
		dto.ExpirationDate = c.ExpirationDate.Format(time.RFC3339)
	}
	return dto
}

// TransactionDTO represents one ledger entry in API responses.
type TransactionDTO struct {
	ID           string `json:"id"`
	CreditID     string `json:"credit_id"`
	CustomerID   string `json:"customer_id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	BalanceAfter string `json:"balance_after"`
	StaffID      string `json:"staff_id,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	OrderNumber  string `json:"order_number,omitempty"`
	Note         string `json:"note,omitempty"`
	Timestamp    string `json:"timestamp"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		CreditID:     string(tx.CreditID),
		CustomerID:   string(tx.CustomerID),
		Type:         string(tx.Type),
		Amount:       tx.Amount.Value.StringFixed(2),
		Currency:     tx.Amount.Currency,
		BalanceAfter: tx.BalanceAfter.Value.StringFixed(2),
		StaffID:      tx.StaffID,
		LocationID:   tx.LocationID,
		OrderID:      tx.OrderID,
		OrderNumber:  tx.OrderNumber,
		Note:         tx.Note,
		Timestamp:    tx.Timestamp.Format(time.RFC3339Nano),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// =============================================================================
// REQUESTS
// =============================================================================

// IssueRequest creates a new credit.
type IssueRequest struct {
	CustomerID     string `json:"customer_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	ExpirationDate string `json:"expiration_date,omitempty"` // RFC3339; empty = never expires
	Note           string `json:"note,omitempty"`
	LocationID     string `json:"location_id,omitempty"`
}

// RedeemRequest consumes balance from a credit.
type RedeemRequest struct {
	Amount      string `json:"amount"`
	OrderID     string `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	LocationID  string `json:"location_id,omitempty"`
	Note        string `json:"note,omitempty"`
}

// AdjustRequest applies a signed manual correction.
type AdjustRequest struct {
	Delta  string `json:"delta"`
	Reason string `json:"reason"`
}

// CancelRequest cancels a credit.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ExtendRequest moves a credit's expiration date later.
type ExtendRequest struct {
	NewExpirationDate string `json:"new_expiration_date"` // RFC3339
	Reason            string `json:"reason,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// OperationResponse is returned by every lifecycle operation: the credit
// after the mutation plus the ledger entry it appended.
type OperationResponse struct {
	Credit      CreditDTO      `json:"credit"`
	Transaction TransactionDTO `json:"transaction"`
}

// SweepResponse reports a manual sweep run.
type SweepResponse struct {
	ExpiredCount int      `json:"expired_count"`
	SkippedCount int      `json:"skipped_count"`
	Failures     []string `json:"failures,omitempty"`
}

// BalanceAtResponse reports a reconstructed historical balance.
type BalanceAtResponse struct {
	CreditID string `json:"credit_id"`
	At       string `json:"at"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// VerifyResponse reports the ledger audit check for one credit.
type VerifyResponse struct {
	CreditID         string `json:"credit_id"`
	Balance          string `json:"balance"`
	ReplayedBalance  string `json:"replayed_balance"`
	CheckpointAmount string `json:"checkpoint_amount"`
	Consistent       bool   `json:"consistent"`
}

// TotalsDTO mirrors ledger.Totals with string decimals.
type TotalsDTO struct {
	Count     int    `json:"count"`
	Issued    string `json:"issued"`
	Redeemed  string `json:"redeemed"`
	Adjusted  string `json:"adjusted"`
	Cancelled string `json:"cancelled"`
	Expired   string `json:"expired"`
	Net       string `json:"net"`
}

func toTotalsDTO(t ledger.Totals) TotalsDTO {
	return TotalsDTO{
		Count:     t.Count,
		Issued:    t.Issued.StringFixed(2),
		Redeemed:  t.Redeemed.StringFixed(2),
		Adjusted:  t.Adjusted.StringFixed(2),
		Cancelled: t.Cancelled.StringFixed(2),
		Expired:   t.Expired.StringFixed(2),
		Net:       t.Net.StringFixed(2),
	}
}

// BucketDTO is one group of an aggregation report.
type BucketDTO struct {
	Key    string    `json:"key"`
	Count  int       `json:"count"`
	Net    string    `json:"net"`
	Totals TotalsDTO `json:"totals"`
}

// ReportDTO is the aggregation response.
type ReportDTO struct {
	Totals  TotalsDTO   `json:"totals"`
	Buckets []BucketDTO `json:"buckets,omitempty"`
}

func toReportDTO(r ledger.Report) ReportDTO {
	dto := ReportDTO{Totals: toTotalsDTO(r.Totals)}
	for _, b := range r.Buckets {
		dto.Buckets = append(dto.Buckets, BucketDTO{
			Key:    b.Key,
			Count:  b.Count,
			Net:    b.Net.StringFixed(2),
			Totals: toTotalsDTO(b.Totals),
		})
	}
	return dto
}

// CustomerSummaryDTO is a customer's aggregate position.
type CustomerSummaryDTO struct {
	CustomerID  string    `json:"customer_id"`
	CreditCount int       `json:"credit_count"`
	ActiveCount int       `json:"active_count"`
	Outstanding string    `json:"outstanding"`
	Totals      TotalsDTO `json:"totals"`
}

// ErrorResponse carries an error kind and message to clients.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}
