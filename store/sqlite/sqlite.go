/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists accounts, the movement log, sales, purchase orders and parties.
  Every ledger operation runs inside one SQLite transaction.

APPEND-ONLY ENFORCEMENT:
  The movements table has triggers that abort any UPDATE or DELETE.
  Corrections are compensating movements appended by the Orchestrator.

KEY TABLES:
  accounts:        Seven rows, counters as decimal TEXT, version column
  movements:       Immutable log, seq gives insertion order
  sales:           Sale records with the booked distribution
  purchase_orders: Purchase-order records
  parties:         Client/distributor debt (saldo_pendiente)

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate), so two
  writers never interleave. Account rows carry a version checked on
  update; a mismatch or a busy/locked database returns
  ledger.ErrConcurrentModification and the Orchestrator retries.
  Reads inside WithTx go through the transaction, never the pool.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/chronos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orch := ledger.NewOrchestrator(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/chronos-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		historico_ingresos TEXT NOT NULL,
		historico_gastos TEXT NOT NULL,
		capital_actual TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Movements (append-only log)
	CREATE TABLE IF NOT EXISTS movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		concept TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		counterpart_account_id TEXT,
		reversal BOOLEAN NOT NULL DEFAULT FALSE,
		reverses_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_movements_account
		ON movements(account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON movements(reference, seq);

	CREATE TRIGGER IF NOT EXISTS movements_no_update
		BEFORE UPDATE ON movements
		BEGIN SELECT RAISE(ABORT, 'movements are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS movements_no_delete
		BEFORE DELETE ON movements
		BEGIN SELECT RAISE(ABORT, 'movements are append-only'); END;

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		cliente_id TEXT NOT NULL,
		orden_compra_id TEXT NOT NULL DEFAULT '',
		fecha TEXT NOT NULL,
		cantidad INTEGER NOT NULL,
		precio_venta_unidad TEXT NOT NULL,
		precio_compra_unidad TEXT NOT NULL,
		precio_flete TEXT NOT NULL,
		monto_pagado TEXT NOT NULL,
		estado_pago TEXT NOT NULL,
		monto_boveda_monte TEXT NOT NULL,
		monto_fletes TEXT NOT NULL,
		monto_utilidades TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_cliente ON sales(cliente_id);
	CREATE INDEX IF NOT EXISTS idx_sales_orden_compra ON sales(orden_compra_id);

	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		distribuidor_id TEXT NOT NULL,
		fecha TEXT NOT NULL,
		cantidad INTEGER NOT NULL,
		precio_unitario TEXT NOT NULL,
		costo_transporte TEXT NOT NULL DEFAULT '0',
		stock_inicial INTEGER NOT NULL DEFAULT 0,
		stock_actual INTEGER NOT NULL DEFAULT 0,
		monto_pagado TEXT NOT NULL,
		monto_restante TEXT NOT NULL,
		estado TEXT NOT NULL,
		banco_origen_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_orders_distribuidor ON purchase_orders(distribuidor_id);

	CREATE TABLE IF NOT EXISTS parties (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		nombre TEXT NOT NULL DEFAULT '',
		saldo_pendiente TEXT NOT NULL,
		limite_credito TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
`

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset drops all data and recreates the schema. Used to load demo
// scenarios; the movement triggers forbid deleting rows one by one.
func (s *Store) Reset(ctx context.Context) error {
	drop := `
		DROP TABLE IF EXISTS movements;
		DROP TABLE IF EXISTS sales;
		DROP TABLE IF EXISTS purchase_orders;
		DROP TABLE IF EXISTS parties;
		DROP TABLE IF EXISTS accounts;
	`
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	return s.migrate(ctx)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements ledger.Store over a querier.
type conn struct {
	q querier
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, historico_ingresos, historico_gastos, capital_actual, active, version, updated_at`

func (c *conn) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.NotFound("account", id)
	}
	if err != nil {
		return ledger.Account{}, mapErr(fmt.Errorf("failed to load account %s: %w", id, err))
	}
	return a, nil
}

func (c *conn) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts`)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to list accounts: %w", err))
	}
	defer rows.Close()

	byID := make(map[ledger.AccountID]ledger.Account)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	var out []ledger.Account
	for _, id := range ledger.AllAccountIDs() {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// PutAccount inserts (Version 0) or updates with a version check.
func (c *conn) PutAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	next := a
	next.Version = a.Version + 1

	if a.Version == 0 {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.HistoricoIngresos.String(), a.HistoricoGastos.String(), a.CapitalActual.String(),
			a.Active, next.Version, formatTime(a.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return ledger.Account{}, ledger.ErrConcurrentModification
		}
		if err != nil {
			return ledger.Account{}, mapErr(fmt.Errorf("failed to insert account %s: %w", a.ID, err))
		}
		return next, nil
	}

	res, err := c.q.ExecContext(ctx, `
		UPDATE accounts
		SET historico_ingresos = ?, historico_gastos = ?, capital_actual = ?,
		    active = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.HistoricoIngresos.String(), a.HistoricoGastos.String(), a.CapitalActual.String(),
		a.Active, next.Version, formatTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if err != nil {
		return ledger.Account{}, mapErr(fmt.Errorf("failed to update account %s: %w", a.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	if n == 0 {
		return ledger.Account{}, ledger.ErrConcurrentModification
	}
	return next, nil
}

func scanAccount(row interface{ Scan(...any) error }) (ledger.Account, error) {
	var (
		a                         ledger.Account
		ingresos, gastos, capital string
		updatedAt                 string
	)
	if err := row.Scan(&a.ID, &ingresos, &gastos, &capital, &a.Active, &a.Version, &updatedAt); err != nil {
		return ledger.Account{}, err
	}
	var err error
	if a.HistoricoIngresos, err = parseDecimal("historico_ingresos", ingresos); err != nil {
		return ledger.Account{}, err
	}
	if a.HistoricoGastos, err = parseDecimal("historico_gastos", gastos); err != nil {
		return ledger.Account{}, err
	}
	if a.CapitalActual, err = parseDecimal("capital_actual", capital); err != nil {
		return ledger.Account{}, err
	}
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// MOVEMENTS (append-only)
// =============================================================================

const movementColumns = `id, account_id, kind, amount, timestamp, concept, reference, counterpart_account_id, reversal, reverses_id`

func (c *conn) AppendMovements(ctx context.Context, ms ...ledger.Movement) error {
	for _, m := range ms {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO movements (`+movementColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.AccountID, m.Kind, m.Amount.String(), formatTime(m.Timestamp),
			m.Concept, m.Reference, nullString(string(m.CounterpartAccountID)),
			m.Reversal, nullString(string(m.ReversesID)),
		)
		if err != nil {
			return mapErr(fmt.Errorf("failed to append movement %s: %w", m.ID, err))
		}
	}
	return nil
}

func (c *conn) MovementsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Movement, error) {
	return c.queryMovements(ctx, `SELECT `+movementColumns+` FROM movements WHERE account_id = ? ORDER BY seq`, id)
}

func (c *conn) MovementsByReference(ctx context.Context, ref string) ([]ledger.Movement, error) {
	return c.queryMovements(ctx, `SELECT `+movementColumns+` FROM movements WHERE reference = ? ORDER BY seq`, ref)
}

func (c *conn) queryMovements(ctx context.Context, query string, args ...any) ([]ledger.Movement, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to query movements: %w", err))
	}
	defer rows.Close()

	var out []ledger.Movement
	for rows.Next() {
		var (
			m                       ledger.Movement
			amount, ts              string
			counterpart, reversesID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Kind, &amount, &ts, &m.Concept, &m.Reference,
			&counterpart, &m.Reversal, &reversesID); err != nil {
			return nil, err
		}
		if m.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		m.CounterpartAccountID = ledger.AccountID(counterpart.String)
		m.ReversesID = ledger.MovementID(reversesID.String)
		out = append(out, m)
	}
	return out, mapErr(rows.Err())
}

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, cliente_id, orden_compra_id, fecha, cantidad, precio_venta_unidad, precio_compra_unidad, precio_flete,
	monto_pagado, estado_pago, monto_boveda_monte, monto_fletes, monto_utilidades, created_at, updated_at`

func (c *conn) GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	var (
		s                               ledger.Sale
		fecha, createdAt, updatedAt     string
		venta, compra, flete, pagado    string
		bovedaMonte, fletes, utilidades string
	)
	err := c.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id).Scan(
		&s.ID, &s.ClienteID, &s.OrdenCompraID, &fecha, &s.Cantidad, &venta, &compra, &flete,
		&pagado, &s.PaymentState, &bovedaMonte, &fletes, &utilidades, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Sale{}, ledger.NotFound("sale", id)
	}
	if err != nil {
		return ledger.Sale{}, mapErr(fmt.Errorf("failed to load sale %s: %w", id, err))
	}

	for _, f := range []struct {
		dst  *decimal.Decimal
		name string
		raw  string
	}{
		{&s.PrecioVentaUnidad, "precio_venta_unidad", venta},
		{&s.PrecioCompraUnidad, "precio_compra_unidad", compra},
		{&s.PrecioFlete, "precio_flete", flete},
		{&s.MontoPagado, "monto_pagado", pagado},
		{&s.MontoBovedaMonte, "monto_boveda_monte", bovedaMonte},
		{&s.MontoFletes, "monto_fletes", fletes},
		{&s.MontoUtilidades, "monto_utilidades", utilidades},
	} {
		if *f.dst, err = parseDecimal(f.name, f.raw); err != nil {
			return ledger.Sale{}, err
		}
	}
	s.Fecha = parseTime(fecha)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

func (c *conn) PutSale(ctx context.Context, s ledger.Sale) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ClienteID, s.OrdenCompraID, formatTime(s.Fecha), s.Cantidad,
		s.PrecioVentaUnidad.String(), s.PrecioCompraUnidad.String(), s.PrecioFlete.String(),
		s.MontoPagado.String(), s.PaymentState,
		s.MontoBovedaMonte.String(), s.MontoFletes.String(), s.MontoUtilidades.String(),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save sale %s: %w", s.ID, err))
	}
	return nil
}

func (c *conn) DeleteSale(ctx context.Context, id ledger.SaleID) error {
	return c.deleteRow(ctx, "sales", "sale", string(id))
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

const orderColumns = `id, distribuidor_id, fecha, cantidad, precio_unitario, costo_transporte, stock_inicial,
	stock_actual, monto_pagado, monto_restante, estado, banco_origen_id, created_at, updated_at`

func (c *conn) GetPurchaseOrder(ctx context.Context, id ledger.OrderID) (ledger.PurchaseOrder, error) {
	var (
		o                           ledger.PurchaseOrder
		fecha, createdAt, updatedAt string
		precio, transporte          string
		pagado, restante            string
	)
	err := c.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = ?`, id).Scan(
		&o.ID, &o.DistribuidorID, &fecha, &o.Cantidad, &precio, &transporte, &o.StockInicial,
		&o.StockActual, &pagado, &restante,
		&o.Estado, &o.BancoOrigenID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PurchaseOrder{}, ledger.NotFound("purchase_order", id)
	}
	if err != nil {
		return ledger.PurchaseOrder{}, mapErr(fmt.Errorf("failed to load purchase order %s: %w", id, err))
	}

	if o.PrecioUnitario, err = parseDecimal("precio_unitario", precio); err != nil {
		return ledger.PurchaseOrder{}, err
	}
	if o.CostoTransporte, err = parseDecimal("costo_transporte", transporte); err != nil {
		return ledger.PurchaseOrder{}, err
	}
	if o.MontoPagado, err = parseDecimal("monto_pagado", pagado); err != nil {
		return ledger.PurchaseOrder{}, err
	}
	if o.MontoRestante, err = parseDecimal("monto_restante", restante); err != nil {
		return ledger.PurchaseOrder{}, err
	}
	o.Fecha = parseTime(fecha)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

func (c *conn) PutPurchaseOrder(ctx context.Context, o ledger.PurchaseOrder) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO purchase_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.DistribuidorID, formatTime(o.Fecha), o.Cantidad,
		o.PrecioUnitario.String(), o.CostoTransporte.String(), o.StockInicial, o.StockActual,
		o.MontoPagado.String(), o.MontoRestante.String(),
		o.Estado, o.BancoOrigenID, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save purchase order %s: %w", o.ID, err))
	}
	return nil
}

func (c *conn) DeletePurchaseOrder(ctx context.Context, id ledger.OrderID) error {
	return c.deleteRow(ctx, "purchase_orders", "purchase_order", string(id))
}

// =============================================================================
// PARTIES
// =============================================================================

func (c *conn) GetParty(ctx context.Context, id ledger.PartyID) (ledger.Party, error) {
	var (
		p                 ledger.Party
		saldo, limite, ts string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, kind, nombre, saldo_pendiente, limite_credito, updated_at
		FROM parties WHERE id = ?`, id,
	).Scan(&p.ID, &p.Kind, &p.Nombre, &saldo, &limite, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Party{}, ledger.NotFound("party", id)
	}
	if err != nil {
		return ledger.Party{}, mapErr(fmt.Errorf("failed to load party %s: %w", id, err))
	}
	if p.SaldoPendiente, err = parseDecimal("saldo_pendiente", saldo); err != nil {
		return ledger.Party{}, err
	}
	if p.LimiteCredito, err = parseDecimal("limite_credito", limite); err != nil {
		return ledger.Party{}, err
	}
	p.UpdatedAt = parseTime(ts)
	return p, nil
}

func (c *conn) PutParty(ctx context.Context, p ledger.Party) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO parties (id, kind, nombre, saldo_pendiente, limite_credito, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Kind, p.Nombre, p.SaldoPendiente.String(), p.LimiteCredito.String(), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save party %s: %w", p.ID, err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *conn) deleteRow(ctx context.Context, table, kind, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return mapErr(fmt.Errorf("failed to delete %s %s: %w", kind, id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return ledger.NotFound(kind, id)
	}
	return nil
}

// mapErr turns SQLite lock contention into ledger.ErrConcurrentModification.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func parseDecimal(column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt %s %q: %w", column, raw, err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
