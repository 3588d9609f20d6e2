// Package store provides ledger.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/chronos-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[ledger.AccountID]ledger.Account
	movements []ledger.Movement
	sales     map[ledger.SaleID]ledger.Sale
	orders    map[ledger.OrderID]ledger.PurchaseOrder
	parties   map[ledger.PartyID]ledger.Party
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.AccountID]ledger.Account),
		sales:    make(map[ledger.SaleID]ledger.Sale),
		orders:   make(map[ledger.OrderID]ledger.PurchaseOrder),
		parties:  make(map[ledger.PartyID]ledger.Party),
	}
}

// ===== Accounts =====

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id ledger.AccountID) (ledger.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.NotFound("account", id)
	}
	return a, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(), nil
}

func (m *Memory) listAccountsLocked() []ledger.Account {
	var out []ledger.Account
	for _, id := range ledger.AllAccountIDs() {
		if a, ok := m.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) PutAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAccountLocked(acct)
}

// putAccountLocked applies the optimistic version check.
func (m *Memory) putAccountLocked(acct ledger.Account) (ledger.Account, error) {
	cur, exists := m.accounts[acct.ID]
	switch {
	case acct.Version == 0 && exists:
		return ledger.Account{}, ledger.ErrConcurrentModification
	case acct.Version != 0 && (!exists || cur.Version != acct.Version):
		return ledger.Account{}, ledger.ErrConcurrentModification
	}
	acct.Version++
	m.accounts[acct.ID] = acct
	return acct, nil
}

// ===== Movements (append-only) =====

func (m *Memory) AppendMovements(_ context.Context, ms ...ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(ms)
	return nil
}

func (m *Memory) appendLocked(ms []ledger.Movement) {
	for _, mv := range ms {
		// Keep the log ordered by timestamp; equal timestamps keep append order.
		i := sort.Search(len(m.movements), func(i int) bool {
			return m.movements[i].Timestamp.After(mv.Timestamp)
		})
		m.movements = append(m.movements, ledger.Movement{})
		copy(m.movements[i+1:], m.movements[i:])
		m.movements[i] = mv
	}
}

func (m *Memory) MovementsByAccount(_ context.Context, id ledger.AccountID) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(mv ledger.Movement) bool { return mv.AccountID == id }), nil
}

func (m *Memory) MovementsByReference(_ context.Context, ref string) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(mv ledger.Movement) bool { return mv.Reference == ref }), nil
}

func (m *Memory) filterLocked(keep func(ledger.Movement) bool) []ledger.Movement {
	var out []ledger.Movement
	for _, mv := range m.movements {
		if keep(mv) {
			out = append(out, mv)
		}
	}
	return out
}

// ===== Sales, orders, parties =====

func (m *Memory) GetSale(_ context.Context, id ledger.SaleID) (ledger.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSaleLocked(id)
}

func (m *Memory) getSaleLocked(id ledger.SaleID) (ledger.Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return ledger.Sale{}, ledger.NotFound("sale", id)
	}
	return s, nil
}

func (m *Memory) PutSale(_ context.Context, s ledger.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[s.ID] = s
	return nil
}

func (m *Memory) DeleteSale(_ context.Context, id ledger.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteSaleLocked(id)
}

func (m *Memory) deleteSaleLocked(id ledger.SaleID) error {
	if _, ok := m.sales[id]; !ok {
		return ledger.NotFound("sale", id)
	}
	delete(m.sales, id)
	return nil
}

func (m *Memory) GetPurchaseOrder(_ context.Context, id ledger.OrderID) (ledger.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOrderLocked(id)
}

func (m *Memory) getOrderLocked(id ledger.OrderID) (ledger.PurchaseOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return ledger.PurchaseOrder{}, ledger.NotFound("purchase_order", id)
	}
	return o, nil
}

func (m *Memory) PutPurchaseOrder(_ context.Context, o ledger.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) DeletePurchaseOrder(_ context.Context, id ledger.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteOrderLocked(id)
}

func (m *Memory) deleteOrderLocked(id ledger.OrderID) error {
	if _, ok := m.orders[id]; !ok {
		return ledger.NotFound("purchase_order", id)
	}
	delete(m.orders, id)
	return nil
}

func (m *Memory) GetParty(_ context.Context, id ledger.PartyID) (ledger.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPartyLocked(id)
}

func (m *Memory) getPartyLocked(id ledger.PartyID) (ledger.Party, error) {
	p, ok := m.parties[id]
	if !ok {
		return ledger.Party{}, ledger.NotFound("party", id)
	}
	return p, nil
}

func (m *Memory) PutParty(_ context.Context, p ledger.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parties[p.ID] = p
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	txStore := &txMemoryView{parent: tm}

	if err := fn(txStore); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:  make(map[ledger.AccountID]ledger.Account, len(tm.accounts)),
		movements: append([]ledger.Movement{}, tm.movements...),
		sales:     make(map[ledger.SaleID]ledger.Sale, len(tm.sales)),
		orders:    make(map[ledger.OrderID]ledger.PurchaseOrder, len(tm.orders)),
		parties:   make(map[ledger.PartyID]ledger.Party, len(tm.parties)),
	}
	for k, v := range tm.accounts {
		s.accounts[k] = v
	}
	for k, v := range tm.sales {
		s.sales[k] = v
	}
	for k, v := range tm.orders {
		s.orders[k] = v
	}
	for k, v := range tm.parties {
		s.parties[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.movements = s.movements
	tm.sales = s.sales
	tm.orders = s.orders
	tm.parties = s.parties
}

type memorySnapshot struct {
	accounts  map[ledger.AccountID]ledger.Account
	movements []ledger.Movement
	sales     map[ledger.SaleID]ledger.Sale
	orders    map[ledger.OrderID]ledger.PurchaseOrder
	parties   map[ledger.PartyID]ledger.Party
}

// txMemoryView runs with the parent's lock already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txMemoryView) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	return tv.parent.listAccountsLocked(), nil
}

func (tv *txMemoryView) PutAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	return tv.parent.putAccountLocked(acct)
}

func (tv *txMemoryView) AppendMovements(_ context.Context, ms ...ledger.Movement) error {
	tv.parent.appendLocked(ms)
	return nil
}

func (tv *txMemoryView) MovementsByAccount(_ context.Context, id ledger.AccountID) ([]ledger.Movement, error) {
	return tv.parent.filterLocked(func(mv ledger.Movement) bool { return mv.AccountID == id }), nil
}

func (tv *txMemoryView) MovementsByReference(_ context.Context, ref string) ([]ledger.Movement, error) {
	return tv.parent.filterLocked(func(mv ledger.Movement) bool { return mv.Reference == ref }), nil
}

func (tv *txMemoryView) GetSale(_ context.Context, id ledger.SaleID) (ledger.Sale, error) {
	return tv.parent.getSaleLocked(id)
}

func (tv *txMemoryView) PutSale(_ context.Context, s ledger.Sale) error {
	tv.parent.sales[s.ID] = s
	return nil
}

func (tv *txMemoryView) DeleteSale(_ context.Context, id ledger.SaleID) error {
	return tv.parent.deleteSaleLocked(id)
}

func (tv *txMemoryView) GetPurchaseOrder(_ context.Context, id ledger.OrderID) (ledger.PurchaseOrder, error) {
	return tv.parent.getOrderLocked(id)
}

func (tv *txMemoryView) PutPurchaseOrder(_ context.Context, o ledger.PurchaseOrder) error {
	tv.parent.orders[o.ID] = o
	return nil
}

func (tv *txMemoryView) DeletePurchaseOrder(_ context.Context, id ledger.OrderID) error {
	return tv.parent.deleteOrderLocked(id)
}

func (tv *txMemoryView) GetParty(_ context.Context, id ledger.PartyID) (ledger.Party, error) {
	return tv.parent.getPartyLocked(id)
}

func (tv *txMemoryView) PutParty(_ context.Context, p ledger.Party) error {
	tv.parent.parties[p.ID] = p
	return nil
}
