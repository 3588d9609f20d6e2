/*
Package ledger provides the CHRONOS capital ledger.

PURPOSE:
  Tracks capital across the seven fixed accounts, splits each sale's
  proceeds across the GYA accounts, moves money between accounts atomically
  and reverses prior effects exactly when a sale or purchase order is
  deleted.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: accumulated ingresos/gastos counters plus derived capital
  - Movement: an immutable log entry recording one effect on one account
  - Sale / PurchaseOrder: business records whose payments the ledger books
  - Party: the client/distributor debt accumulator kept in lockstep

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified, only compensated
  2. Precision: decimal.Decimal everywhere, rounded to MinorUnitPlaces
  3. Type Safety: AccountID is a closed enumeration
  4. Delta booking: payments apply only the change since the last booking

INVARIANT:
  For every account, after every committed operation:
    CapitalActual == HistoricoIngresos - HistoricoGastos

SEE ALSO:
  - accounts.go: The fixed account registry
  - distribution.go: GYA split and payment scaling
  - orchestrator.go: The only writer of account state
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MinorUnitPlaces is the number of decimal places of the currency minor unit.
const MinorUnitPlaces int32 = 2

// MinorUnit is one cent.
var MinorUnit = decimal.New(1, -MinorUnitPlaces)

// RoundMinor rounds to the currency minor unit (half away from zero).
func RoundMinor(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// validateAmount requires a positive amount expressible in minor units.
func validateAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be positive, got %s", d)}
	}
	return validatePrecision(field, d)
}

func validatePrecision(field string, d decimal.Decimal) error {
	if !d.Equal(RoundMinor(d)) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("more than %d decimal places: %s", MinorUnitPlaces, d)}
	}
	return nil
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MovementID string
type SaleID string
type OrderID string
type PartyID string

// Reference builders. References are opaque to the movement log; these
// helpers only keep the prefixes consistent.
func SaleRef(id SaleID) string { return "venta:" + string(id) }
func OrderRef(id OrderID) string { return "orden_compra:" + string(id) }
func TransferRef(id string) string { return "transferencia:" + id }
func ManualRef(id string) string { return "manual:" + id }
func ClientPaymentRef(id string) string { return "abono:" + id }

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the persisted state of one of the seven accounts.
type Account struct {
	ID                AccountID
	HistoricoIngresos decimal.Decimal
	HistoricoGastos   decimal.Decimal
	CapitalActual     decimal.Decimal
	Active            bool

	// Version is bumped on every write. Stores reject a write whose
	// Version does not match the stored one.
	Version   int64
	UpdatedAt time.Time
}

// NewAccount returns the zero state of an account.
func NewAccount(id AccountID) Account {
	return Account{
		ID:                id,
		HistoricoIngresos: decimal.Zero,
		HistoricoGastos:   decimal.Zero,
		CapitalActual:     decimal.Zero,
		Active:            true,
	}
}

func (a Account) Config() AccountConfig { return a.ID.Config() }

// withDelta returns the account with both counters moved and capital
// recomputed. Stored capital is never adjusted independently.
func (a Account) withDelta(ingresoDelta, gastoDelta decimal.Decimal) Account {
	a.HistoricoIngresos = a.HistoricoIngresos.Add(ingresoDelta)
	a.HistoricoGastos = a.HistoricoGastos.Add(gastoDelta)
	a.CapitalActual = a.HistoricoIngresos.Sub(a.HistoricoGastos)
	return a
}

// Verify checks the derived-value invariant and counter signs.
func (a Account) Verify() error {
	if !a.ID.Valid() {
		return &ConsistencyViolationError{AccountID: a.ID, Check: "account_id", Detail: "unknown account"}
	}
	if a.HistoricoIngresos.IsNegative() {
		return &ConsistencyViolationError{AccountID: a.ID, Check: "historico_ingresos",
			Detail: fmt.Sprintf("negative accumulator %s", a.HistoricoIngresos)}
	}
	if a.HistoricoGastos.IsNegative() {
		return &ConsistencyViolationError{AccountID: a.ID, Check: "historico_gastos",
			Detail: fmt.Sprintf("negative accumulator %s", a.HistoricoGastos)}
	}
	if want := a.HistoricoIngresos.Sub(a.HistoricoGastos); !a.CapitalActual.Equal(want) {
		return &ConsistencyViolationError{AccountID: a.ID, Check: "capital_actual",
			Detail: fmt.Sprintf("capital %s != ingresos %s - gastos %s", a.CapitalActual, a.HistoricoIngresos, a.HistoricoGastos)}
	}
	return nil
}

// =============================================================================
// MOVEMENT
// =============================================================================

type MovementKind string

const (
	MovIngreso              MovementKind = "ingreso"
	MovGasto                MovementKind = "gasto"
	MovTransferenciaEntrada MovementKind = "transferencia_entrada"
	MovTransferenciaSalida  MovementKind = "transferencia_salida"
	MovAbono                MovementKind = "abono" // client payment into an account
	MovPago                 MovementKind = "pago"  // payment to a distributor
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovIngreso, MovGasto, MovTransferenciaEntrada, MovTransferenciaSalida, MovAbono, MovPago:
		return true
	}
	return false
}

// Credits reports whether the kind accumulates into HistoricoIngresos.
// The remaining kinds accumulate into HistoricoGastos.
func (k MovementKind) Credits() bool {
	return k == MovIngreso || k == MovTransferenciaEntrada || k == MovAbono
}

// Movement is an immutable log entry.
//
// A compensating movement has the same Kind as the movement it undoes,
// Reversal set, and ReversesID pointing at the original. Its effect is
// the negation of the original's.
type Movement struct {
	ID                   MovementID
	AccountID            AccountID
	Kind                 MovementKind
	Amount               decimal.Decimal // always > 0
	Timestamp            time.Time
	Concept              string
	Reference            string
	CounterpartAccountID AccountID // transfers only
	Reversal             bool
	ReversesID           MovementID
}

// Effect returns the counter deltas this movement applied.
func (m Movement) Effect() (ingresos, gastos decimal.Decimal) {
	amount := m.Amount
	if m.Reversal {
		amount = amount.Neg()
	}
	if m.Kind.Credits() {
		return amount, decimal.Zero
	}
	return decimal.Zero, amount
}

// Net returns the capital delta of the movement.
func (m Movement) Net() decimal.Decimal {
	in, out := m.Effect()
	return in.Sub(out)
}

// =============================================================================
// SALE
// =============================================================================

type PaymentState string

const (
	PaymentPending  PaymentState = "pendiente"
	PaymentPartial  PaymentState = "parcial"
	PaymentComplete PaymentState = "completo"
)

// Sale is a sale record. The three Monto* distribution fields always hold
// the distribution booked so far for MontoPagado. OrdenCompraID, when set,
// names the purchase order whose stock the sale draws from.
type Sale struct {
	ID                 SaleID
	ClienteID          PartyID
	OrdenCompraID      OrderID
	Fecha              time.Time
	Cantidad           int64
	PrecioVentaUnidad  decimal.Decimal
	PrecioCompraUnidad decimal.Decimal
	PrecioFlete        decimal.Decimal
	MontoPagado        decimal.Decimal
	PaymentState       PaymentState

	MontoBovedaMonte decimal.Decimal
	MontoFletes      decimal.Decimal
	MontoUtilidades  decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Sale) Terms() SaleTerms {
	return SaleTerms{
		Cantidad:           s.Cantidad,
		PrecioVentaUnidad:  s.PrecioVentaUnidad,
		PrecioCompraUnidad: s.PrecioCompraUnidad,
		PrecioFlete:        s.PrecioFlete,
	}
}

func (s Sale) Total() decimal.Decimal { return s.Terms().Total() }

func (s Sale) MontoRestante() decimal.Decimal { return s.Total().Sub(s.MontoPagado) }

// Booked returns the distribution recorded on the sale.
func (s Sale) Booked() Buckets {
	return Buckets{BovedaMonte: s.MontoBovedaMonte, Fletes: s.MontoFletes, Utilidades: s.MontoUtilidades}
}

func (s *Sale) setBooked(b Buckets) {
	s.MontoBovedaMonte = b.BovedaMonte
	s.MontoFletes = b.Fletes
	s.MontoUtilidades = b.Utilidades
}

// Validate rejects malformed sale terms regardless of upstream validation.
func (s Sale) Validate() error {
	if s.ClienteID == "" {
		return &ValidationError{Field: "clienteId", Reason: "required"}
	}
	if s.Cantidad <= 0 {
		return &ValidationError{Field: "cantidad", Reason: "must be a positive integer"}
	}
	if s.PrecioVentaUnidad.IsNegative() {
		return &ValidationError{Field: "precioVentaUnidad", Reason: "must not be negative"}
	}
	if s.PrecioCompraUnidad.IsNegative() {
		return &ValidationError{Field: "precioCompraUnidad", Reason: "must not be negative"}
	}
	if s.PrecioFlete.IsNegative() {
		return &ValidationError{Field: "precioFlete", Reason: "must not be negative"}
	}
	if err := validatePrecision("precioVentaUnidad", s.PrecioVentaUnidad); err != nil {
		return err
	}
	if err := validatePrecision("precioCompraUnidad", s.PrecioCompraUnidad); err != nil {
		return err
	}
	if err := validatePrecision("precioFlete", s.PrecioFlete); err != nil {
		return err
	}
	if s.MontoPagado.IsNegative() || s.MontoPagado.GreaterThan(s.Total()) {
		return &ValidationError{Field: "montoPagado",
			Reason: fmt.Sprintf("must be within [0, %s], got %s", s.Total(), s.MontoPagado)}
	}
	return nil
}

// =============================================================================
// PURCHASE ORDER
// =============================================================================

type OrderStatus string

const (
	OrderPending   OrderStatus = "pendiente"
	OrderPartial   OrderStatus = "parcial"
	OrderComplete  OrderStatus = "completo"
	OrderCancelled OrderStatus = "cancelado"
)

// PurchaseOrder is a purchase from a distributor. CostoTransporte is per
// unit. StockActual counts the units not yet sold through sales that
// reference the order.
type PurchaseOrder struct {
	ID              OrderID
	DistribuidorID  PartyID
	Fecha           time.Time
	Cantidad        int64
	PrecioUnitario  decimal.Decimal
	CostoTransporte decimal.Decimal
	StockInicial    int64
	StockActual     int64
	MontoPagado     decimal.Decimal
	MontoRestante   decimal.Decimal
	Estado          OrderStatus
	BancoOrigenID   AccountID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CostoPorUnidad is the landed cost of one unit.
func (o PurchaseOrder) CostoPorUnidad() decimal.Decimal {
	return o.PrecioUnitario.Add(o.CostoTransporte)
}

func (o PurchaseOrder) Total() decimal.Decimal {
	return o.CostoPorUnidad().Mul(decimal.NewFromInt(o.Cantidad))
}

// takeStock removes n units from the order's stock.
func (o *PurchaseOrder) takeStock(n int64) error {
	if o.Estado == OrderCancelled {
		return &ValidationError{Field: "ordenCompraId", Reason: fmt.Sprintf("purchase order %s is cancelled", o.ID)}
	}
	if o.StockActual < n {
		return &ValidationError{Field: "cantidad",
			Reason: fmt.Sprintf("stock insuficiente en %s: disponible %d, solicitado %d", o.ID, o.StockActual, n)}
	}
	o.StockActual -= n
	return nil
}

// refreshStatus recomputes MontoRestante and Estado from MontoPagado.
func (o *PurchaseOrder) refreshStatus() {
	o.MontoRestante = o.Total().Sub(o.MontoPagado)
	switch {
	case !o.MontoRestante.IsPositive():
		o.Estado = OrderComplete
	case o.MontoPagado.IsPositive():
		o.Estado = OrderPartial
	default:
		o.Estado = OrderPending
	}
}

func (o PurchaseOrder) Validate() error {
	if o.DistribuidorID == "" {
		return &ValidationError{Field: "distribuidorId", Reason: "required"}
	}
	if o.Cantidad <= 0 {
		return &ValidationError{Field: "cantidad", Reason: "must be a positive integer"}
	}
	if o.PrecioUnitario.IsNegative() {
		return &ValidationError{Field: "precioUnitario", Reason: "must not be negative"}
	}
	if err := validatePrecision("precioUnitario", o.PrecioUnitario); err != nil {
		return err
	}
	if o.CostoTransporte.IsNegative() {
		return &ValidationError{Field: "costoTransporte", Reason: "must not be negative"}
	}
	if err := validatePrecision("costoTransporte", o.CostoTransporte); err != nil {
		return err
	}
	return validateSupplierBank(o.BancoOrigenID)
}

// validateSupplierBank rejects accounts that cannot pay purchase orders.
func validateSupplierBank(id AccountID) error {
	if !id.Valid() {
		return &ValidationError{Field: "bancoOrigenId", Reason: fmt.Sprintf("unknown account %q", id)}
	}
	if !id.Config().PaysSuppliers {
		return &ValidationError{Field: "bancoOrigenId", Reason: fmt.Sprintf("%s cannot pay suppliers", id)}
	}
	return nil
}

// =============================================================================
// PARTIES (clients and distributors)
// =============================================================================

type PartyKind string

const (
	PartyClient      PartyKind = "cliente"
	PartyDistributor PartyKind = "distribuidor"
)

// Party is the minimal ledger view of a client or distributor: the
// outstanding debt accumulator kept in lockstep with sale and purchase
// order payments.
type Party struct {
	ID             PartyID
	Kind           PartyKind
	Nombre         string
	SaldoPendiente decimal.Decimal
	LimiteCredito  decimal.Decimal // clients only; zero means no limit
	UpdatedAt      time.Time
}

func NewParty(id PartyID, kind PartyKind) Party {
	return Party{ID: id, Kind: kind, SaldoPendiente: decimal.Zero, LimiteCredito: decimal.Zero}
}
