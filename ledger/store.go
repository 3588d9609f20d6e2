/*
store.go - Persistence interface for the ledger

PURPOSE:
  Defines the interface between the Orchestrator and the database. The
  ledger is agnostic to the engine: it needs a transaction scope, typed
  get/put per entity, and an append-only movement collection.

KEY INTERFACES:
  AccountStore:  The seven accounts (optimistic version check on write)
  MovementStore: Append-only movement log
  SaleStore, OrderStore, PartyStore: Linked business records
  TxStore:       Store + WithTx (atomic multi-entity writes)

APPEND-ONLY CONTRACT:
  MovementStore has no Update or Delete. Corrections are compensating
  movements appended by the Orchestrator.

OPTIMISTIC CONCURRENCY:
  PutAccount succeeds only if the stored version equals acct.Version; the
  stored version becomes acct.Version+1. A mismatch returns
  ErrConcurrentModification, which the Orchestrator retries. Version 0
  means "create": it fails with ErrConcurrentModification if the row
  already exists.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory (tests/dev)
  - store/sqlite/sqlite.go: SQLite
*/
package ledger

import "context"

// =============================================================================
// STORE - Interfaces for persistence
// =============================================================================

type AccountStore interface {
	// GetAccount returns the account or an EntityNotFoundError.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// ListAccounts returns every stored account in registry order.
	ListAccounts(ctx context.Context) ([]Account, error)

	// PutAccount writes acct with an optimistic version check and returns
	// the stored account (Version bumped).
	PutAccount(ctx context.Context, acct Account) (Account, error)
}

// MovementStore is APPEND-ONLY. No Update, No Delete.
type MovementStore interface {
	AppendMovements(ctx context.Context, ms ...Movement) error

	// MovementsByAccount returns movements for one account, oldest first.
	MovementsByAccount(ctx context.Context, id AccountID) ([]Movement, error)

	// MovementsByReference returns movements sharing a reference, oldest first.
	MovementsByReference(ctx context.Context, ref string) ([]Movement, error)
}

type SaleStore interface {
	GetSale(ctx context.Context, id SaleID) (Sale, error)
	PutSale(ctx context.Context, s Sale) error
	DeleteSale(ctx context.Context, id SaleID) error
}

type OrderStore interface {
	GetPurchaseOrder(ctx context.Context, id OrderID) (PurchaseOrder, error)
	PutPurchaseOrder(ctx context.Context, o PurchaseOrder) error
	DeletePurchaseOrder(ctx context.Context, id OrderID) error
}

type PartyStore interface {
	GetParty(ctx context.Context, id PartyID) (Party, error)
	PutParty(ctx context.Context, p Party) error
}

// Store is everything the ledger persists.
type Store interface {
	AccountStore
	MovementStore
	SaleStore
	OrderStore
	PartyStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, or ctx is done before commit, the transaction is
	// rolled back. Otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
