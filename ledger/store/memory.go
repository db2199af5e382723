// Package store provides CreditStore implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory CreditStore. Per-credit mutexes serialize
// mutations at the granularity WithCreditLock promises; the outer RWMutex
// only guards map access.
type Memory struct {
	mu           sync.RWMutex
	credits      map[ledger.CreditID]ledger.Credit
	byCode       map[string]ledger.CreditID
	transactions []ledger.Transaction

	lockMu sync.Mutex
	locks  map[ledger.CreditID]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		credits: make(map[ledger.CreditID]ledger.Credit),
		byCode:  make(map[string]ledger.CreditID),
		locks:   make(map[ledger.CreditID]*sync.Mutex),
	}
}

// CreateCredit inserts a credit and its issuing transaction atomically.
func (m *Memory) CreateCredit(_ context.Context, credit ledger.Credit, issue ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byCode[credit.Code]; exists {
		return ledger.ErrDuplicateCode
	}
	m.credits[credit.ID] = credit
	m.byCode[credit.Code] = credit.ID
	m.transactions = append(m.transactions, issue)
	return nil
}

func (m *Memory) GetCredit(_ context.Context, id ledger.CreditID) (ledger.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	credit, ok := m.credits[id]
	if !ok {
		return ledger.Credit{}, ledger.ErrCreditNotFound
	}
	return credit, nil
}

func (m *Memory) GetCreditByCode(_ context.Context, code string) (ledger.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCode[code]
	if !ok {
		return ledger.Credit{}, ledger.ErrCreditNotFound
	}
	return m.credits[id], nil
}

func (m *Memory) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byCode[code]
	return ok, nil
}

// WithCreditLock serializes on a per-credit mutex. The view stages writes
// and commits them only when fn returns nil, so a failed operation leaves
// no partial state.
func (m *Memory) WithCreditLock(ctx context.Context, id ledger.CreditID, fn func(ledger.CreditView) error) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	credit, err := m.GetCredit(ctx, id)
	if err != nil {
		return err
	}

	view := &memoryView{current: credit}
	if err := fn(view); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if view.updated != nil {
		next := *view.updated
		// Immutable fields keep their stored values.
		next.ID = credit.ID
		next.Code = credit.Code
		next.OriginalAmount = credit.OriginalAmount
		next.CustomerID = credit.CustomerID
		next.CreatedAt = credit.CreatedAt
		m.credits[id] = next
	}
	m.transactions = append(m.transactions, view.pending...)
	return nil
}

func (m *Memory) lockFor(id ledger.CreditID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Memory) ListByCustomer(_ context.Context, customerID ledger.CustomerID, includeTerminal bool) ([]ledger.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Credit
	for _, c := range m.credits {
		if c.CustomerID != customerID {
			continue
		}
		if !includeTerminal && c.Status.Terminal() {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListExpired(_ context.Context, now time.Time) ([]ledger.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Credit
	for _, c := range m.credits {
		if c.Status == ledger.StatusActive && c.ExpiredAt(now) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListExpiring(_ context.Context, now time.Time, within time.Duration) ([]ledger.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deadline := now.Add(within)
	var result []ledger.Credit
	for _, c := range m.credits {
		if c.Status != ledger.StatusActive || c.ExpirationDate == nil {
			continue
		}
		if c.ExpirationDate.After(now) && !c.ExpirationDate.After(deadline) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) Transactions(_ context.Context, creditID ledger.CreditID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.CreditID == creditID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) QueryTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if filter.Matches(tx) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// =============================================================================
// VIEW - Staged writes inside a credit lock
// =============================================================================

type memoryView struct {
	current ledger.Credit
	updated *ledger.Credit
	pending []ledger.Transaction
}

func (v *memoryView) Credit() ledger.Credit {
	if v.updated != nil {
		return *v.updated
	}
	return v.current
}

func (v *memoryView) Update(credit ledger.Credit) error {
	c := credit
	v.updated = &c
	return nil
}

func (v *memoryView) AppendTransaction(tx ledger.Transaction) error {
	v.pending = append(v.pending, tx)
	return nil
}
