/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response and
  JSON serialization, delegates every state change to the engine. The
  ledger performs no authentication: callers arrive already
  authenticated, with staff identity in the X-Staff-ID header.

ENDPOINTS:
  Credits:
    POST   /api/credits                      Issue a credit
    GET    /api/credits/{id}                 Get credit
    GET    /api/credits/{id}/transactions    Full ledger history
    GET    /api/credits/{id}/balance-at      Balance at a point in time
    GET    /api/credits/{id}/verify          Ledger audit check
    POST   /api/credits/{id}/redeem          Redeem against an order
    POST   /api/credits/{id}/adjust          Manual adjustment
    POST   /api/credits/{id}/cancel          Cancel
    POST   /api/credits/{id}/extend          Extend expiration
    GET    /api/credits/code/{code}          Lookup by redemption code

  Customers:
    GET    /api/customers/{id}/credits       Customer credits (?include_terminal=true)
    GET    /api/customers/{id}/summary       Aggregate position

  Reports:
    GET    /api/reports/transactions         Aggregate (filter + group_by)

  Admin:
    POST   /api/admin/sweep                  Run the expiration sweep now

ERROR HANDLING:
  Ledger error kinds map to HTTP statuses without string inspection:
  - 400: invalid amount/currency/expiration
  - 404: credit not found
  - 409: not active, already terminal, concurrent modification
  - 422: insufficient balance, adjustment out of range
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *ledger.Engine
	Projection *ledger.Projection
	Sweeper    *ledger.Sweeper
	Store      ledger.CreditStore
	Log        *logrus.Entry
}

// NewHandler creates a handler around an engine and its store.
func NewHandler(engine *ledger.Engine, store ledger.CreditStore, sweeper *ledger.Sweeper, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Handler{
		Engine:     engine,
		Projection: ledger.NewProjection(store),
		Sweeper:    sweeper,
		Store:      store,
		Log:        log.WithField("component", "api"),
	}
}

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

// IssueCredit creates a new credit.
// POST /api/credits
func (h *Handler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var expiration *time.Time
	if req.ExpirationDate != "" {
		t, err := time.Parse(time.RFC3339, req.ExpirationDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expiration_date", err)
			return
		}
		expiration = &t
	}

	credit, tx, err := h.Engine.Issue(r.Context(), ledger.IssueInput{
		CustomerID:     ledger.CustomerID(req.CustomerID),
		Amount:         ledger.NewMoneyFromDecimal(amount, req.Currency),
		ExpirationDate: expiration,
		Note:           req.Note,
		StaffID:        staffID(r),
		LocationID:     req.LocationID,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OperationResponse{Credit: toCreditDTO(credit), Transaction: toTransactionDTO(tx)})
}

// RedeemCredit consumes balance against an order.
// POST /api/credits/{id}/redeem
func (h *Handler) RedeemCredit(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	credit, err := h.Store.GetCredit(r.Context(), ledger.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	updated, tx, err := h.Engine.Redeem(r.Context(), ledger.RedeemInput{
		CreditID:    credit.ID,
		Amount:      ledger.NewMoneyFromDecimal(amount, credit.Currency()),
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		StaffID:     staffID(r),
		LocationID:  req.LocationID,
		Note:        req.Note,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Credit: toCreditDTO(updated), Transaction: toTransactionDTO(tx)})
}

// AdjustCredit applies a signed manual correction.
// POST /api/credits/{id}/adjust
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	credit, err := h.Store.GetCredit(r.Context(), ledger.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delta", err)
		return
	}

	updated, tx, err := h.Engine.Adjust(r.Context(), ledger.AdjustInput{
		CreditID: credit.ID,
		Delta:    ledger.NewMoneyFromDecimal(delta, credit.Currency()),
		Reason:   req.Reason,
		StaffID:  staffID(r),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Credit: toCreditDTO(updated), Transaction: toTransactionDTO(tx)})
}

// CancelCredit cancels an active credit.
// POST /api/credits/{id}/cancel
func (h *Handler) CancelCredit(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	credit, tx, err := h.Engine.Cancel(r.Context(), ledger.CancelInput{
		CreditID: ledger.CreditID(chi.URLParam(r, "id")),
		Reason:   req.Reason,
		StaffID:  staffID(r),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Credit: toCreditDTO(credit), Transaction: toTransactionDTO(tx)})
}

// ExtendCredit moves a credit's expiration date later.
// POST /api/credits/{id}/extend
func (h *Handler) ExtendCredit(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	newDate, err := time.Parse(time.RFC3339, req.NewExpirationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid new_expiration_date", err)
		return
	}

	credit, tx, err := h.Engine.ExtendExpiration(r.Context(), ledger.ExtendInput{
		CreditID:          ledger.CreditID(chi.URLParam(r, "id")),
		NewExpirationDate: newDate,
		Reason:            req.Reason,
		StaffID:           staffID(r),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{Credit: toCreditDTO(credit), Transaction: toTransactionDTO(tx)})
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetCredit returns a single credit.
// GET /api/credits/{id}
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	credit, err := h.Store.GetCredit(r.Context(), ledger.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(credit))
}

// GetCreditByCode looks a credit up by its redemption code.
// GET /api/credits/code/{code}
func (h *Handler) GetCreditByCode(w http.ResponseWriter, r *http.Request) {
	credit, err := h.Store.GetCreditByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(credit))
}

// GetTransactions returns a credit's full ledger history.
// GET /api/credits/{id}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.CreditID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetCredit(r.Context(), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	txs, err := h.Store.Transactions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetBalanceAt reconstructs a credit's balance at a point in time.
// GET /api/credits/{id}/balance-at?at=RFC3339
func (h *Handler) GetBalanceAt(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at parameter", err)
			return
		}
		at = t
	}

	id := ledger.CreditID(chi.URLParam(r, "id"))
	balance, err := h.Projection.BalanceAt(r.Context(), id, at)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceAtResponse{
		CreditID: string(id),
		At:       at.Format(time.RFC3339),
		Balance:  balance.Value.StringFixed(2),
		Currency: balance.Currency,
	})
}

// VerifyCredit runs the ledger audit check for one credit.
// GET /api/credits/{id}/verify
func (h *Handler) VerifyCredit(w http.ResponseWriter, r *http.Request) {
	result, err := h.Projection.VerifyCredit(r.Context(), ledger.CreditID(chi.URLParam(r, "id")))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		CreditID:         string(result.CreditID),
		Balance:          result.Balance.Value.StringFixed(2),
		ReplayedBalance:  result.ReplayedBalance.Value.StringFixed(2),
		CheckpointAmount: result.CheckpointAmount.Value.StringFixed(2),
		Consistent:       result.Consistent,
	})
}

// ListCustomerCredits returns a customer's credits.
// GET /api/customers/{id}/credits?include_terminal=true
func (h *Handler) ListCustomerCredits(w http.ResponseWriter, r *http.Request) {
	includeTerminal := r.URL.Query().Get("include_terminal") == "true"
	credits, err := h.Store.ListByCustomer(r.Context(), ledger.CustomerID(chi.URLParam(r, "id")), includeTerminal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list credits", err)
		return
	}

	dtos := make([]CreditDTO, len(credits))
	for i, c := range credits {
		dtos[i] = toCreditDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomerSummary returns a customer's aggregate position.
// GET /api/customers/{id}/summary
func (h *Handler) GetCustomerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Projection.SummarizeCustomer(r.Context(), ledger.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize customer", err)
		return
	}
	writeJSON(w, http.StatusOK, CustomerSummaryDTO{
		CustomerID:  string(summary.CustomerID),
		CreditCount: summary.CreditCount,
		ActiveCount: summary.ActiveCount,
		Outstanding: summary.Outstanding.StringFixed(2),
		Totals:      toTotalsDTO(summary.Totals),
	})
}

// AggregateTransactions computes a report over the ledger.
// GET /api/reports/transactions?customer_id=&type=&currency=&from=&to=&group_by=
func (h *Handler) AggregateTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		CustomerID: ledger.CustomerID(q.Get("customer_id")),
		Currency:   q.Get("currency"),
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, ledger.TransactionType(t))
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from parameter", err)
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to parameter", err)
			return
		}
		filter.To = t
	}

	report, err := h.Projection.Aggregate(r.Context(), filter, ledger.GroupBy(q.Get("group_by")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunSweep runs the expiration sweep immediately.
// POST /api/admin/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Sweeper.SweepExpired(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	resp := SweepResponse{ExpiredCount: result.ExpiredCount, SkippedCount: result.SkippedCount}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, string(f.CreditID)+": "+f.Err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// staffID extracts the already-authenticated staff identity attached by
// the upstream auth layer.
func staffID(r *http.Request) string {
	return r.Header.Get("X-Staff-ID")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps ledger error kinds to HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := ""

	switch {
	case errors.Is(err, ledger.ErrCreditNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInvalidAmount):
		status, kind = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		status, kind = http.StatusBadRequest, "currency_mismatch"
	case errors.Is(err, ledger.ErrInvalidExpiration):
		status, kind = http.StatusBadRequest, "invalid_expiration"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status, kind = http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ledger.ErrAdjustmentOutOfRange):
		status, kind = http.StatusUnprocessableEntity, "adjustment_out_of_range"
	case errors.Is(err, ledger.ErrAlreadyTerminal):
		status, kind = http.StatusConflict, "already_terminal"
	case errors.Is(err, ledger.ErrCreditNotActive):
		status, kind = http.StatusConflict, "credit_not_active"
	case errors.Is(err, ledger.ErrConcurrentModification):
		status, kind = http.StatusConflict, "concurrent_modification"
	case errors.Is(err, ledger.ErrCodeGenerationExhausted):
		status, kind = http.StatusServiceUnavailable, "code_generation_exhausted"
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
