/*
Package sqlite provides a SQLite-backed implementation of ledger.CreditStore.

PURPOSE:
  Production persistence for credits and their append-only transaction
  history. The same patterns apply to PostgreSQL - only minor SQL dialect
  differences (FOR UPDATE instead of BEGIN IMMEDIATE, RETURNING, etc).

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the transactions table. Credits
  are updated only through WithCreditLock, and only their mutable columns
  (balance, status, expiration_date, updated_at).

KEY TABLES:
  credits:       One row per issued credit (aggregate root)
  transactions:  Immutable ledger of all balance changes

INDEXES:
  - credits.code unique: the code generator's correctness backstop
  - credits(status), credits(customer_id), credits(status, expiration_date)
  - transactions(credit_id), transactions(tx_type), transactions(timestamp)

LOCKING:
  WithCreditLock takes a per-credit mutex and opens a database
  transaction. The balance read, balance write and transaction insert all
  happen inside that transaction, so a failed callback rolls back to
  exactly the pre-call state - no torn writes on timeout either.
  Different credits contend only on SQLite's single-writer gate, not on
  each other's mutex.

WAL MODE:
  Opened with WAL so readers don't block behind the writer.

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.EngineOptions{})

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/credit-ledger/ledger"
)

// Store implements ledger.CreditStore using SQLite.
type Store struct {
	db *sql.DB

	lockMu sync.Mutex
	locks  map[ledger.CreditID]*sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps concurrent write transactions from
	// deadlocking against their own pool siblings.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, locks: make(map[ledger.CreditID]*sync.Mutex)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Credits (aggregate roots; never deleted)
	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		original_amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		expiration_date TEXT,
		customer_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_status
		ON credits(status);
	CREATE INDEX IF NOT EXISTS idx_credits_customer
		ON credits(customer_id);

	-- Sweep hot path: active credits ordered by expiration
	CREATE INDEX IF NOT EXISTS idx_credits_status_expiration
		ON credits(status, expiration_date)
		WHERE expiration_date IS NOT NULL;

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		customer_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		staff_id TEXT,
		location_id TEXT,
		order_id TEXT,
		order_number TEXT,
		note TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_credit
		ON transactions(credit_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(tx_type);
	CREATE INDEX IF NOT EXISTS idx_transactions_timestamp
		ON transactions(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WRITES
// =============================================================================

// CreateCredit inserts a credit and its issuing transaction atomically.
func (s *Store) CreateCredit(ctx context.Context, credit ledger.Credit, issue ledger.Transaction) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO credits
		(id, code, original_amount, balance, currency, status, expiration_date, customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credit.ID,
		credit.Code,
		credit.OriginalAmount.Value.String(),
		credit.Balance.Value.String(),
		credit.Currency(),
		credit.Status,
		nullTime(credit.ExpirationDate),
		credit.CustomerID,
		formatTime(credit.CreatedAt),
		formatTime(credit.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert credit: %w", err)
	}

	if err := insertTransaction(ctx, sqlTx, issue); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// WithCreditLock runs fn with exclusive access to one credit, applying
// the staged balance update and transaction insert as one database
// transaction.
func (s *Store) WithCreditLock(ctx context.Context, id ledger.CreditID, fn func(ledger.CreditView) error) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	credit, err := getCredit(ctx, sqlTx, id)
	if err != nil {
		return err
	}

	view := &sqliteView{ctx: ctx, tx: sqlTx, current: credit}
	if err := fn(view); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) lockFor(id ledger.CreditID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

type sqliteView struct {
	ctx     context.Context
	tx      *sql.Tx
	current ledger.Credit
}

func (v *sqliteView) Credit() ledger.Credit { return v.current }

func (v *sqliteView) Update(credit ledger.Credit) error {
	_, err := v.tx.ExecContext(v.ctx, `
		UPDATE credits
		SET balance = ?, status = ?, expiration_date = ?, updated_at = ?
		WHERE id = ?`,
		credit.Balance.Value.String(),
		credit.Status,
		nullTime(credit.ExpirationDate),
		formatTime(credit.UpdatedAt),
		v.current.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	// Keep the immutable columns authoritative in the staged view.
	credit.ID = v.current.ID
	credit.Code = v.current.Code
	credit.OriginalAmount = v.current.OriginalAmount
	credit.CustomerID = v.current.CustomerID
	credit.CreatedAt = v.current.CreatedAt
	v.current = credit
	return nil
}

func (v *sqliteView) AppendTransaction(tx ledger.Transaction) error {
	return insertTransaction(v.ctx, v.tx, tx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, tx ledger.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, credit_id, customer_id, tx_type, amount, currency, balance_after,
		 staff_id, location_id, order_id, order_number, note, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.CreditID,
		tx.CustomerID,
		tx.Type,
		tx.Amount.Value.String(),
		tx.Amount.Currency,
		tx.BalanceAfter.Value.String(),
		nullString(tx.StaffID),
		nullString(tx.LocationID),
		nullString(tx.OrderID),
		nullString(tx.OrderNumber),
		nullString(tx.Note),
		formatTime(tx.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const creditColumns = `id, code, original_amount, balance, currency, status, expiration_date, customer_id, created_at, updated_at`

func (s *Store) GetCredit(ctx context.Context, id ledger.CreditID) (ledger.Credit, error) {
	return getCredit(ctx, s.db, id)
}

func getCredit(ctx context.Context, db querier, id ledger.CreditID) (ledger.Credit, error) {
	row := db.QueryRowContext(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = ?`, id)
	credit, err := scanCredit(row)
	if err == sql.ErrNoRows {
		return ledger.Credit{}, ledger.ErrCreditNotFound
	}
	return credit, err
}

func (s *Store) GetCreditByCode(ctx context.Context, code string) (ledger.Credit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creditColumns+` FROM credits WHERE code = ?`, code)
	credit, err := scanCredit(row)
	if err == sql.ErrNoRows {
		return ledger.Credit{}, ledger.ErrCreditNotFound
	}
	return credit, err
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credits WHERE code = ?`, code).Scan(&count)
	return count > 0, err
}

func (s *Store) ListByCustomer(ctx context.Context, customerID ledger.CustomerID, includeTerminal bool) ([]ledger.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE customer_id = ?`
	if !includeTerminal {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY created_at DESC`
	return s.queryCredits(ctx, query, customerID)
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]ledger.Credit, error) {
	return s.queryCredits(ctx, `
		SELECT `+creditColumns+` FROM credits
		WHERE status = 'active' AND expiration_date IS NOT NULL AND expiration_date <= ?
		ORDER BY expiration_date ASC`,
		formatTime(now))
}

func (s *Store) ListExpiring(ctx context.Context, now time.Time, within time.Duration) ([]ledger.Credit, error) {
	return s.queryCredits(ctx, `
		SELECT `+creditColumns+` FROM credits
		WHERE status = 'active' AND expiration_date IS NOT NULL
		  AND expiration_date > ? AND expiration_date <= ?
		ORDER BY expiration_date ASC`,
		formatTime(now), formatTime(now.Add(within)))
}

func (s *Store) queryCredits(ctx context.Context, query string, args ...any) ([]ledger.Credit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var credits []ledger.Credit
	for rows.Next() {
		credit, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	return credits, rows.Err()
}

const txColumns = `id, credit_id, customer_id, tx_type, amount, currency, balance_after, staff_id, location_id, order_id, order_number, note, timestamp`

func (s *Store) Transactions(ctx context.Context, creditID ledger.CreditID) ([]ledger.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE credit_id = ?
		ORDER BY timestamp ASC, rowid ASC`,
		creditID)
}

func (s *Store) QueryTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var conds []string
	var args []any

	if filter.CreditID != "" {
		conds = append(conds, "credit_id = ?")
		args = append(args, filter.CreditID)
	}
	if filter.CustomerID != "" {
		conds = append(conds, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.Currency != "" {
		conds = append(conds, "currency = ?")
		args = append(args, filter.Currency)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		conds = append(conds, "tx_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(filter.To))
	}

	query := `SELECT ` + txColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY timestamp ASC, rowid ASC`

	return s.queryTransactions(ctx, query, args...)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// SCANNING / CONVERSION
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredit(row rowScanner) (ledger.Credit, error) {
	var (
		credit         ledger.Credit
		original       string
		balance        string
		currency       string
		expirationDate sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&credit.ID, &credit.Code, &original, &balance, &currency,
		&credit.Status, &expirationDate, &credit.CustomerID, &createdAt, &updatedAt,
	)
	if err != nil {
		return credit, err
	}

	credit.OriginalAmount = ledger.NewMoneyFromDecimal(parseDecimal(original), currency)
	credit.Balance = ledger.NewMoneyFromDecimal(parseDecimal(balance), currency)
	if expirationDate.Valid {
		t := parseTime(expirationDate.String)
		credit.ExpirationDate = &t
	}
	credit.CreatedAt = parseTime(createdAt)
	credit.UpdatedAt = parseTime(updatedAt)
	return credit, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx           ledger.Transaction
		amount       string
		currency     string
		balanceAfter string
		staffID      sql.NullString
		locationID   sql.NullString
		orderID      sql.NullString
		orderNumber  sql.NullString
		note         sql.NullString
		timestamp    string
	)

	err := row.Scan(
		&tx.ID, &tx.CreditID, &tx.CustomerID, &tx.Type, &amount, &currency,
		&balanceAfter, &staffID, &locationID, &orderID, &orderNumber, &note, &timestamp,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = ledger.NewMoneyFromDecimal(parseDecimal(amount), currency)
	tx.BalanceAfter = ledger.NewMoneyFromDecimal(parseDecimal(balanceAfter), currency)
	tx.StaffID = staffID.String
	tx.LocationID = locationID.String
	tx.OrderID = orderID.String
	tx.OrderNumber = orderNumber.String
	tx.Note = note.String
	tx.Timestamp = parseTime(timestamp)
	return tx, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Fixed-width fractional seconds so string comparison in SQL matches
// time ordering (RFC3339Nano trims trailing zeros and would not).
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
