/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - Response: The {success, error, data} envelope every endpoint returns

AMOUNTS:
  Money is decimal.Decimal on both sides. Requests accept JSON numbers or
  strings ("1500.50"); responses always emit strings so no precision is
  lost in JavaScript clients.

VALIDATION:
  Request structs carry go-playground/validator tags. Shape errors are
  answered with 422 and a per-field map; business rules (montoPagado >
  total, unknown account, ...) are checked by the ledger and answered
  with 400.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/chronos-ledger/ledger"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Response is the body of every API response.
type Response struct {
	ledger.Result
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Data    any               `json:"data,omitempty"`
}

// =============================================================================
// ACCOUNTS AND MOVEMENTS
// =============================================================================

type AccountDTO struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Kind              string          `json:"kind"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description,omitempty"`
	ReceivesSales     bool            `json:"receivesSales"`
	PaysSuppliers     bool            `json:"paysSuppliers"`
	CapitalActual     decimal.Decimal `json:"capitalActual"`
	HistoricoIngresos decimal.Decimal `json:"historicoIngresos"`
	HistoricoGastos   decimal.Decimal `json:"historicoGastos"`
	Active            bool            `json:"activo"`
	Version           int64           `json:"version"`
	UpdatedAt         string          `json:"updatedAt,omitempty"`
}

type MovementDTO struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"bancoId"`
	Kind        string          `json:"tipo"`
	Amount      decimal.Decimal `json:"monto"`
	Concept     string          `json:"concepto"`
	Reference   string          `json:"referencia"`
	Counterpart string          `json:"contraparte,omitempty"`
	Reversal    bool            `json:"reverso,omitempty"`
	ReversalOf  string          `json:"reversoDe,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

// ReceiptDTO describes what a committed operation did.
type ReceiptDTO struct {
	Reference string        `json:"referencia"`
	Accounts  []AccountDTO  `json:"bancos"`
	Movements []MovementDTO `json:"movimientos"`
}

// AmountRequest is the body of income/expense endpoints.
type AmountRequest struct {
	Amount  decimal.Decimal `json:"monto" validate:"required,gt=0"`
	Concept string          `json:"concepto" validate:"max=200"`
}

type SetActiveRequest struct {
	Active *bool `json:"activo" validate:"required"`
}

type TransferRequest struct {
	From    string          `json:"origen" validate:"required"`
	To      string          `json:"destino" validate:"required"`
	Amount  decimal.Decimal `json:"monto" validate:"required,gt=0"`
	Concept string          `json:"concepto" validate:"max=200"`
}

// =============================================================================
// SALES
// =============================================================================

type SaleDTO struct {
	ID                 string          `json:"id"`
	ClienteID          string          `json:"clienteId"`
	OrdenCompraID      string          `json:"ordenCompraId,omitempty"`
	Fecha              string          `json:"fecha"`
	Cantidad           int64           `json:"cantidad"`
	PrecioVentaUnidad  decimal.Decimal `json:"precioVentaUnidad"`
	PrecioCompraUnidad decimal.Decimal `json:"precioCompraUnidad"`
	PrecioFlete        decimal.Decimal `json:"precioFlete"`
	Total              decimal.Decimal `json:"precioTotalVenta"`
	MontoPagado        decimal.Decimal `json:"montoPagado"`
	MontoRestante      decimal.Decimal `json:"montoRestante"`
	EstadoPago         string          `json:"estadoPago"`
	MontoBovedaMonte   decimal.Decimal `json:"montoBovedaMonte"`
	MontoFletes        decimal.Decimal `json:"montoFletes"`
	MontoUtilidades    decimal.Decimal `json:"montoUtilidades"`
}

// BucketsDTO is a GYA distribution.
type BucketsDTO struct {
	BovedaMonte decimal.Decimal `json:"bovedaMonte"`
	Fletes      decimal.Decimal `json:"fletes"`
	Utilidades  decimal.Decimal `json:"utilidades"`
}

type SaleResponse struct {
	Venta     SaleDTO    `json:"venta"`
	Aplicado  BucketsDTO `json:"aplicado"`
	Operacion ReceiptDTO `json:"operacion"`
}

type CreateSaleRequest struct {
	ID                 string           `json:"id"`
	ClienteID          string           `json:"clienteId" validate:"required"`
	OrdenCompraID      string           `json:"ordenCompraId"`
	Fecha              *time.Time       `json:"fecha"`
	Cantidad           int64            `json:"cantidad" validate:"required,gt=0"`
	PrecioVentaUnidad  decimal.Decimal  `json:"precioVentaUnidad" validate:"min=0"`
	PrecioCompraUnidad decimal.Decimal  `json:"precioCompraUnidad" validate:"min=0"`
	PrecioFlete        *decimal.Decimal `json:"precioFlete" validate:"omitempty,min=0"`
	MontoPagado        decimal.Decimal  `json:"montoPagado" validate:"min=0"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"monto" validate:"required,gt=0"`
}

// PreviewDTO is the split a sale would produce.
type PreviewDTO struct {
	Total         decimal.Decimal `json:"precioTotalVenta"`
	Completo      BucketsDTO      `json:"distribucionCompleta"`
	Pagado        BucketsDTO      `json:"distribucionPagada"`
	MontoRestante decimal.Decimal `json:"montoRestante"`
	EstadoPago    string          `json:"estadoPago"`
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

type OrderDTO struct {
	ID              string          `json:"id"`
	DistribuidorID  string          `json:"distribuidorId"`
	Fecha           string          `json:"fecha"`
	Cantidad        int64           `json:"cantidad"`
	PrecioUnitario  decimal.Decimal `json:"precioUnitario"`
	CostoTransporte decimal.Decimal `json:"costoTransporte"`
	CostoPorUnidad  decimal.Decimal `json:"costoPorUnidad"`
	Total           decimal.Decimal `json:"total"`
	StockInicial    int64           `json:"stockInicial"`
	StockActual     int64           `json:"stockActual"`
	MontoPagado     decimal.Decimal `json:"montoPagado"`
	MontoRestante   decimal.Decimal `json:"montoRestante"`
	Estado          string          `json:"estado"`
	BancoOrigenID   string          `json:"bancoOrigenId"`
}

type OrderResponse struct {
	Orden        OrderDTO   `json:"orden"`
	Distribuidor *PartyDTO  `json:"distribuidor,omitempty"`
	Operacion    ReceiptDTO `json:"operacion"`
}

type CreateOrderRequest struct {
	ID              string          `json:"id"`
	DistribuidorID  string          `json:"distribuidorId" validate:"required"`
	Fecha           *time.Time      `json:"fecha"`
	Cantidad        int64           `json:"cantidad" validate:"required,gt=0"`
	PrecioUnitario  decimal.Decimal `json:"precioUnitario" validate:"min=0"`
	CostoTransporte decimal.Decimal `json:"costoTransporte" validate:"min=0"`
	MontoPagado     decimal.Decimal `json:"montoPagado" validate:"min=0"`
	BancoOrigenID   string          `json:"bancoOrigenId"`
}

// OrderPaymentRequest pays a further amount (monto) or sets the absolute
// paid amount (montoPagado). Exactly one must be present.
type OrderPaymentRequest struct {
	Amount        *decimal.Decimal `json:"monto" validate:"omitempty,gt=0"`
	MontoPagado   *decimal.Decimal `json:"montoPagado" validate:"omitempty,min=0"`
	BancoOrigenID string           `json:"bancoOrigenId"`
}

// =============================================================================
// PARTIES
// =============================================================================

type PartyDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"tipo"`
	Nombre         string          `json:"nombre,omitempty"`
	SaldoPendiente decimal.Decimal `json:"saldoPendiente"`
	LimiteCredito  decimal.Decimal `json:"limiteCredito"`
}

type RegisterPartyRequest struct {
	Kind          string          `json:"tipo" validate:"required,oneof=cliente distribuidor"`
	Nombre        string          `json:"nombre" validate:"max=120"`
	LimiteCredito decimal.Decimal `json:"limiteCredito" validate:"min=0"`
}

type ClientPaymentRequest struct {
	Amount    decimal.Decimal `json:"monto" validate:"required,gt=0"`
	AccountID string          `json:"bancoId" validate:"required_without=VentaID"`
	VentaID   string          `json:"ventaId"`
	Concept   string          `json:"concepto" validate:"max=200"`
}

type ClientPaymentResponse struct {
	Venta   *SaleResponse `json:"venta,omitempty"`
	Cliente *PartyDTO     `json:"cliente,omitempty"`
	Abono   *ReceiptDTO   `json:"abono,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AccountAuditDTO struct {
	AccountID        string          `json:"bancoId"`
	OK               bool            `json:"ok"`
	Stored           AccountDTO      `json:"almacenado"`
	ReplayedIngresos decimal.Decimal `json:"ingresosReproducidos"`
	ReplayedGastos   decimal.Decimal `json:"gastosReproducidos"`
	Movements        int             `json:"movimientos"`
	Violation        string          `json:"violacion,omitempty"`
}

type AuditDTO struct {
	CheckedAt    string            `json:"revisadoEn"`
	OK           bool              `json:"ok"`
	TotalCapital decimal.Decimal   `json:"capitalTotal"`
	Accounts     []AccountAuditDTO `json:"bancos"`
}

// AuditStatusDTO is the state of the periodic audit. Last is nil until
// the first run finishes.
type AuditStatusDTO struct {
	Enabled bool      `json:"habilitado"`
	Runs    int       `json:"ejecuciones"`
	Error   string    `json:"error,omitempty"`
	Last    *AuditDTO `json:"ultima,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAccountDTO(a ledger.Account) AccountDTO {
	cfg := a.Config()
	return AccountDTO{
		ID:                string(a.ID),
		Name:              cfg.Name,
		Kind:              string(cfg.Kind),
		Currency:          string(cfg.Currency),
		Description:       cfg.Description,
		ReceivesSales:     cfg.ReceivesSales,
		PaysSuppliers:     cfg.PaysSuppliers,
		CapitalActual:     a.CapitalActual,
		HistoricoIngresos: a.HistoricoIngresos,
		HistoricoGastos:   a.HistoricoGastos,
		Active:            a.Active,
		Version:           a.Version,
		UpdatedAt:         formatTime(a.UpdatedAt),
	}
}

func toAccountDTOs(as []ledger.Account) []AccountDTO {
	out := make([]AccountDTO, len(as))
	for i, a := range as {
		out[i] = toAccountDTO(a)
	}
	return out
}

func toMovementDTOs(ms []ledger.Movement) []MovementDTO {
	out := make([]MovementDTO, len(ms))
	for i, m := range ms {
		out[i] = MovementDTO{
			ID:          string(m.ID),
			AccountID:   string(m.AccountID),
			Kind:        string(m.Kind),
			Amount:      m.Amount,
			Concept:     m.Concept,
			Reference:   m.Reference,
			Counterpart: string(m.CounterpartAccountID),
			Reversal:    m.Reversal,
			ReversalOf:  string(m.ReversesID),
			Timestamp:   m.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return out
}

func toReceiptDTO(r ledger.Receipt) ReceiptDTO {
	return ReceiptDTO{
		Reference: r.Reference,
		Accounts:  toAccountDTOs(r.Accounts),
		Movements: toMovementDTOs(r.Movements),
	}
}

func toBucketsDTO(b ledger.Buckets) BucketsDTO {
	return BucketsDTO{BovedaMonte: b.BovedaMonte, Fletes: b.Fletes, Utilidades: b.Utilidades}
}

func toSaleDTO(s ledger.Sale) SaleDTO {
	return SaleDTO{
		ID:                 string(s.ID),
		ClienteID:          string(s.ClienteID),
		OrdenCompraID:      string(s.OrdenCompraID),
		Fecha:              formatTime(s.Fecha),
		Cantidad:           s.Cantidad,
		PrecioVentaUnidad:  s.PrecioVentaUnidad,
		PrecioCompraUnidad: s.PrecioCompraUnidad,
		PrecioFlete:        s.PrecioFlete,
		Total:              s.Total(),
		MontoPagado:        s.MontoPagado,
		MontoRestante:      s.MontoRestante(),
		EstadoPago:         string(s.PaymentState),
		MontoBovedaMonte:   s.MontoBovedaMonte,
		MontoFletes:        s.MontoFletes,
		MontoUtilidades:    s.MontoUtilidades,
	}
}

func toSaleResponse(r ledger.SaleReceipt) SaleResponse {
	return SaleResponse{
		Venta:     toSaleDTO(r.Sale),
		Aplicado:  toBucketsDTO(r.Applied),
		Operacion: toReceiptDTO(r.Receipt),
	}
}

func toOrderDTO(o ledger.PurchaseOrder) OrderDTO {
	return OrderDTO{
		ID:              string(o.ID),
		DistribuidorID:  string(o.DistribuidorID),
		Fecha:           formatTime(o.Fecha),
		Cantidad:        o.Cantidad,
		PrecioUnitario:  o.PrecioUnitario,
		CostoTransporte: o.CostoTransporte,
		CostoPorUnidad:  o.CostoPorUnidad(),
		Total:           o.Total(),
		StockInicial:    o.StockInicial,
		StockActual:     o.StockActual,
		MontoPagado:     o.MontoPagado,
		MontoRestante:   o.MontoRestante,
		Estado:          string(o.Estado),
		BancoOrigenID:   string(o.BancoOrigenID),
	}
}

func toOrderResponse(r ledger.OrderReceipt) OrderResponse {
	resp := OrderResponse{Orden: toOrderDTO(r.Order), Operacion: toReceiptDTO(r.Receipt)}
	if r.Distributor.ID != "" {
		p := toPartyDTO(r.Distributor)
		resp.Distribuidor = &p
	}
	return resp
}

func toPartyDTO(p ledger.Party) PartyDTO {
	return PartyDTO{
		ID:             string(p.ID),
		Kind:           string(p.Kind),
		Nombre:         p.Nombre,
		SaldoPendiente: p.SaldoPendiente,
		LimiteCredito:  p.LimiteCredito,
	}
}

func toAuditDTO(r ledger.AuditReport) AuditDTO {
	out := AuditDTO{
		CheckedAt:    formatTime(r.CheckedAt),
		OK:           r.OK(),
		TotalCapital: r.TotalCapital,
		Accounts:     make([]AccountAuditDTO, len(r.Accounts)),
	}
	for i, a := range r.Accounts {
		dto := AccountAuditDTO{
			AccountID:        string(a.AccountID),
			OK:               a.OK(),
			Stored:           toAccountDTO(a.Stored),
			ReplayedIngresos: a.ReplayedIngresos,
			ReplayedGastos:   a.ReplayedGastos,
			Movements:        a.Movements,
		}
		if a.Violation != nil {
			dto.Violation = a.Violation.Error()
		}
		out.Accounts[i] = dto
	}
	return out
}

func toAuditStatusDTO(enabled bool, st AuditStatus) AuditStatusDTO {
	out := AuditStatusDTO{Enabled: enabled, Runs: st.Runs}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	if st.Runs > 0 {
		report := toAuditDTO(st.Report)
		out.Last = &report
	}
	return out
}
