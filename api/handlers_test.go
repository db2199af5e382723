package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-ledger/api"
	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem, ledger.EngineOptions{})
	sweeper := ledger.NewSweeper(mem, engine, ledger.EngineOptions{})
	handler := api.NewHandler(engine, mem, sweeper, nil)

	server := httptest.NewServer(api.NewRouter(handler, api.RouterOptions{}))
	t.Cleanup(server.Close)
	return server, mem
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Staff-ID", "staff-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func issueCredit(t *testing.T, baseURL string, customerID, amount string) api.OperationResponse {
	t.Helper()
	var op api.OperationResponse
	resp := doJSON(t, http.MethodPost, baseURL+"/api/credits", api.IssueRequest{
		CustomerID: customerID,
		Amount:     amount,
		Currency:   "USD",
	}, &op)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return op
}

// =============================================================================
// LIFECYCLE ENDPOINT TESTS
// =============================================================================

func TestAPI_IssueCredit(t *testing.T) {
	// GIVEN: A running server
	// WHEN: POSTing a valid issue request
	// THEN: 201 with the credit and its issuing transaction

	server, _ := newTestServer(t)

	var op api.OperationResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits", api.IssueRequest{
		CustomerID:     "cust-1",
		Amount:         "75.50",
		Currency:       "USD",
		ExpirationDate: "2025-12-31T00:00:00Z",
		Note:           "returned blender",
	}, &op)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "75.50", op.Credit.Balance)
	assert.Equal(t, "75.50", op.Credit.OriginalAmount)
	assert.Equal(t, "active", op.Credit.Status)
	assert.Equal(t, "USD", op.Credit.Currency)
	assert.NotEmpty(t, op.Credit.Code)
	assert.Equal(t, "2025-12-31T00:00:00Z", op.Credit.ExpirationDate)
	assert.Equal(t, "issue", op.Transaction.Type)
	assert.Equal(t, "staff-1", op.Transaction.StaffID, "staff identity from the header")
}

func TestAPI_IssueCredit_InvalidAmount(t *testing.T) {
	server, _ := newTestServer(t)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits", api.IssueRequest{
		CustomerID: "cust-1",
		Amount:     "-5",
		Currency:   "USD",
	}, &errResp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_amount", errResp.Kind)
}

func TestAPI_RedeemCredit(t *testing.T) {
	// GIVEN: An issued $100 credit
	// WHEN: Redeeming $30 against an order
	// THEN: 200 with updated balance and a negative redeem entry

	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "100")

	var redeemed api.OperationResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/redeem", api.RedeemRequest{
		Amount:  "30",
		OrderID: "order-55",
	}, &redeemed)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "70.00", redeemed.Credit.Balance)
	assert.Equal(t, "active", redeemed.Credit.Status)
	assert.Equal(t, "-30.00", redeemed.Transaction.Amount)
	assert.Equal(t, "order-55", redeemed.Transaction.OrderID)
}

func TestAPI_RedeemCredit_InsufficientBalanceIs422(t *testing.T) {
	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "20")

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/redeem", api.RedeemRequest{
		Amount: "25",
	}, &errResp)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_balance", errResp.Kind)
}

func TestAPI_RedeemCredit_UnknownCreditIs404(t *testing.T) {
	server, _ := newTestServer(t)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/nope/redeem", api.RedeemRequest{
		Amount: "5",
	}, &errResp)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errResp.Kind)
}

func TestAPI_CancelTwiceIs409(t *testing.T) {
	// GIVEN: A cancelled credit
	// WHEN: Cancelling again
	// THEN: 409 conflict, terminal states are final

	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "50")
	url := server.URL + "/api/credits/" + op.Credit.ID + "/cancel"

	resp := doJSON(t, http.MethodPost, url, api.CancelRequest{Reason: "fraud"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var errResp api.ErrorResponse
	resp = doJSON(t, http.MethodPost, url, api.CancelRequest{Reason: "fraud"}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_terminal", errResp.Kind)
}

func TestAPI_AdjustCredit(t *testing.T) {
	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "100")

	// Drop the balance below original first so an upward adjust fits.
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/redeem",
		api.RedeemRequest{Amount: "40"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var adjusted api.OperationResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/adjust",
		api.AdjustRequest{Delta: "-10.50", Reason: "price correction"}, &adjusted)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "49.50", adjusted.Credit.Balance)
	assert.Equal(t, "adjust", adjusted.Transaction.Type)
	assert.Equal(t, "price correction", adjusted.Transaction.Note)

	var errResp api.ErrorResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/adjust",
		api.AdjustRequest{Delta: "60", Reason: "too generous"}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "adjustment_out_of_range", errResp.Kind)
}

func TestAPI_ExtendCredit(t *testing.T) {
	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "25")

	var extended api.OperationResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/extend",
		api.ExtendRequest{NewExpirationDate: "2026-06-30T00:00:00Z", Reason: "goodwill"}, &extended)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026-06-30T00:00:00Z", extended.Credit.ExpirationDate)
	assert.Equal(t, "extend", extended.Transaction.Type)
	assert.Equal(t, "0.00", extended.Transaction.Amount)

	// Moving it earlier is rejected.
	var errResp api.ErrorResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/extend",
		api.ExtendRequest{NewExpirationDate: "2025-01-01T00:00:00Z"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_expiration", errResp.Kind)
}

// =============================================================================
// READ ENDPOINT TESTS
// =============================================================================

func TestAPI_GetCreditByCode(t *testing.T) {
	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "10")

	var credit api.CreditDTO
	resp := doJSON(t, http.MethodGet, server.URL+"/api/credits/code/"+op.Credit.Code, nil, &credit)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, op.Credit.ID, credit.ID)
}

func TestAPI_TransactionsAndVerify(t *testing.T) {
	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "60")
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/redeem",
		api.RedeemRequest{Amount: "20"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var txs []api.TransactionDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/credits/"+op.Credit.ID+"/transactions", nil, &txs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, txs, 2)
	assert.Equal(t, "issue", txs[0].Type)
	assert.Equal(t, "redeem", txs[1].Type)

	var verify api.VerifyResponse
	resp = doJSON(t, http.MethodGet, server.URL+"/api/credits/"+op.Credit.ID+"/verify", nil, &verify)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, verify.Consistent)
	assert.Equal(t, "40.00", verify.Balance)
	assert.Equal(t, "40.00", verify.ReplayedBalance)
}

func TestAPI_ListCustomerCredits_TerminalFilter(t *testing.T) {
	server, _ := newTestServer(t)
	op1 := issueCredit(t, server.URL, "cust-1", "10")
	issueCredit(t, server.URL, "cust-1", "20")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op1.Credit.ID+"/cancel",
		api.CancelRequest{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var live []api.CreditDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/credits", nil, &live)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, live, 1)

	var all []api.CreditDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/credits?include_terminal=true", nil, &all)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, all, 2)
}

func TestAPI_CustomerSummaryAndReport(t *testing.T) {
	server, _ := newTestServer(t)
	op := issueCredit(t, server.URL, "cust-1", "100")
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits/"+op.Credit.ID+"/redeem",
		api.RedeemRequest{Amount: "35"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary api.CustomerSummaryDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/customers/cust-1/summary", nil, &summary)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, summary.CreditCount)
	assert.Equal(t, 1, summary.ActiveCount)
	assert.Equal(t, "65.00", summary.Outstanding)
	assert.Equal(t, "100.00", summary.Totals.Issued)
	assert.Equal(t, "35.00", summary.Totals.Redeemed)

	var report api.ReportDTO
	resp = doJSON(t, http.MethodGet, server.URL+"/api/reports/transactions?customer_id=cust-1&group_by=type", nil, &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, report.Totals.Count)
	assert.Len(t, report.Buckets, 2)
}

// =============================================================================
// ADMIN ENDPOINT TESTS
// =============================================================================

func TestAPI_RunSweep(t *testing.T) {
	// GIVEN: A credit that expired an hour ago
	// WHEN: POSTing to the sweep endpoint
	// THEN: It is expired and reported in the response

	server, mem := newTestServer(t)

	past := time.Now().Add(-time.Hour)
	var op api.OperationResponse
	resp := doJSON(t, http.MethodPost, server.URL+"/api/credits", api.IssueRequest{
		CustomerID:     "cust-1",
		Amount:         "15",
		Currency:       "USD",
		ExpirationDate: past.UTC().Format(time.RFC3339),
	}, &op)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sweep api.SweepResponse
	resp = doJSON(t, http.MethodPost, server.URL+"/api/admin/sweep", nil, &sweep)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, sweep.ExpiredCount)

	credit, err := mem.GetCredit(context.Background(), ledger.CreditID(op.Credit.ID))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExpired, credit.Status)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Healthz(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
