/*
handlers.go - HTTP API handlers for the capital ledger

PURPOSE:
  Exposes the ledger Orchestrator via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the ledger.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                     List the seven accounts
    GET    /api/accounts/{id}                Get one account
    GET    /api/accounts/{id}/movements      Movement history
    POST   /api/accounts/{id}/income         Manual ingreso
    POST   /api/accounts/{id}/expense        Manual gasto
    POST   /api/accounts/{id}/active         Enable/disable account

  Money movement:
    POST   /api/transfers                    Transfer between accounts
    POST   /api/clients/{id}/payments        Client abono (sale or balance)
    GET    /api/movements?reference=...      Movements of one business event

  Sales:
    POST   /api/sales                        Record sale + initial payment
    POST   /api/sales/preview                GYA split without booking
    GET    /api/sales/{id}                   Get sale
    POST   /api/sales/{id}/payments          Further payment
    DELETE /api/sales/{id}                   Reverse and delete

  Purchase orders:
    POST   /api/purchase-orders              Record order + initial payment
    GET    /api/purchase-orders/{id}         Get order
    POST   /api/purchase-orders/{id}/payments Pay (monto) or set montoPagado
    POST   /api/purchase-orders/{id}/cancel  Compensate, keep as cancelado
    DELETE /api/purchase-orders/{id}         Compensate and delete

  Parties:
    GET    /api/parties/{id}                 Client/distributor debt
    PUT    /api/parties/{id}                 Name and credit limit

  Admin:
    POST   /api/audit                        Replay audit
    GET    /api/audit/status                 Last scheduled audit

REQUEST FLOW:
  1. Decode JSON, validate tags (422 with per-field map)
  2. Parse path ids (unknown account -> 400)
  3. Call the ledger
  4. Map the error through errors.Is, or write {success: true, data}

ERROR MAPPING:
  ValidationError, SameAccountError        400
  EntityNotFoundError                      404
  InsufficientFunds, ConcurrencyConflict   409
  ConsistencyViolation, anything else      500 (details only)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/chronos-ledger/ledger"
	"github.com/warp/chronos-ledger/purchasing"
	"github.com/warp/chronos-ledger/sales"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes persisted state. Used by scenario loading.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Orchestrator
	Sales     *sales.Service
	Purchases *purchasing.Service

	// Optional. Without a Resetter scenarios load on top of existing data.
	Resetter Resetter
	// Optional health check for /healthz.
	Ping func(ctx context.Context) error
	// Optional. Reported by GET /api/audit/status.
	Audits *AuditScheduler

	log      zerolog.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the given orchestrator.
func NewHandler(l *ledger.Orchestrator, log zerolog.Logger) *Handler {
	return &Handler{
		Ledger:    l,
		Sales:     sales.NewService(l),
		Purchases: purchasing.NewService(l),
		log:       log,
		validate:  newValidator(),
	}
}

// newValidator registers decimal.Decimal as a number so tags like gt=0
// and min=0 work on amounts.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Ledger.ListAccounts(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toAccountDTOs(accounts))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	a, err := h.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toAccountDTO(a))
}

// GetAccountMovements returns the movement log of one account, oldest first.
func (h *Handler) GetAccountMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	ms, err := h.Ledger.Movements().ListByAccount(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toMovementDTOs(ms))
}

func (h *Handler) RecordIncome(w http.ResponseWriter, r *http.Request) {
	h.manualMovement(w, r, h.Ledger.RecordIncome)
}

func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	h.manualMovement(w, r, h.Ledger.RecordExpense)
}

func (h *Handler) manualMovement(w http.ResponseWriter, r *http.Request,
	book func(context.Context, ledger.AccountID, decimal.Decimal, string) (ledger.Receipt, error)) {
	id, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := book(r.Context(), id, req.Amount, req.Concept)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, toReceiptDTO(receipt))
}

func (h *Handler) SetAccountActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountParam(w, r)
	if !ok {
		return
	}
	var req SetActiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Ledger.SetAccountActive(r.Context(), id, *req.Active)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toAccountDTO(a))
}

// =============================================================================
// TRANSFERS AND MOVEMENTS
// =============================================================================

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Ledger.Transfer(r.Context(), ledger.TransferRequest{
		From:    ledger.AccountID(req.From),
		To:      ledger.AccountID(req.To),
		Amount:  req.Amount,
		Concept: req.Concept,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ListMovements returns the movements of one business event, e.g.
// ?reference=venta:v-001.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Ledger.Movements().ListByReference(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toMovementDTOs(ms))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

func (req CreateSaleRequest) newSale() sales.NewSale {
	n := sales.NewSale{
		ID:                 ledger.SaleID(req.ID),
		ClienteID:          ledger.PartyID(req.ClienteID),
		OrdenCompraID:      ledger.OrderID(req.OrdenCompraID),
		Cantidad:           req.Cantidad,
		PrecioVentaUnidad:  req.PrecioVentaUnidad,
		PrecioCompraUnidad: req.PrecioCompraUnidad,
		PrecioFlete:        req.PrecioFlete,
		MontoPagado:        req.MontoPagado,
	}
	if req.Fecha != nil {
		n.Fecha = *req.Fecha
	}
	return n
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Sales.Create(r.Context(), req.newSale())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, toSaleResponse(receipt))
}

func (h *Handler) PreviewSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Sales.Preview(r.Context(), req.newSale())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, PreviewDTO{
		Total:         p.Total,
		Completo:      toBucketsDTO(p.Full),
		Pagado:        toBucketsDTO(p.Paid),
		MontoRestante: p.MontoRestante,
		EstadoPago:    string(p.PaymentState),
	})
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sales.Get(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toSaleDTO(s))
}

func (h *Handler) PaySale(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.Sales.Pay(r.Context(), ledger.SaleID(chi.URLParam(r, "id")), req.Amount)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toSaleResponse(receipt))
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Sales.Delete(r.Context(), ledger.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toSaleResponse(receipt))
}

// =============================================================================
// PURCHASE ORDER HANDLERS
// =============================================================================

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	n := purchasing.NewOrder{
		ID:              ledger.OrderID(req.ID),
		DistribuidorID:  ledger.PartyID(req.DistribuidorID),
		Cantidad:        req.Cantidad,
		PrecioUnitario:  req.PrecioUnitario,
		CostoTransporte: req.CostoTransporte,
		MontoPagado:     req.MontoPagado,
		BancoOrigenID:   ledger.AccountID(req.BancoOrigenID),
	}
	if req.Fecha != nil {
		n.Fecha = *req.Fecha
	}
	receipt, err := h.Purchases.Create(r.Context(), n)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, toOrderResponse(receipt))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Purchases.Get(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderDTO(o))
}

func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if (req.Amount == nil) == (req.MontoPagado == nil) {
		writeFieldErrors(w, map[string]string{"monto": "required_without", "montoPagado": "required_without"})
		return
	}

	id := ledger.OrderID(chi.URLParam(r, "id"))
	banco := ledger.AccountID(req.BancoOrigenID)
	var (
		receipt ledger.OrderReceipt
		err     error
	)
	if req.Amount != nil {
		receipt, err = h.Purchases.Pay(r.Context(), id, *req.Amount, banco)
	} else {
		receipt, err = h.Purchases.SetPaid(r.Context(), id, *req.MontoPagado, banco)
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(receipt))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Purchases.Cancel(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(receipt))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Purchases.Delete(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(receipt))
}

// =============================================================================
// PARTY HANDLERS
// =============================================================================

// PayClient applies a client abono to a sale (ventaId) or to the client's
// general balance (bancoId).
func (h *Handler) PayClient(w http.ResponseWriter, r *http.Request) {
	var req ClientPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Sales.PayClient(r.Context(), sales.ClientPayment{
		ClienteID: ledger.PartyID(chi.URLParam(r, "id")),
		Amount:    req.Amount,
		AccountID: ledger.AccountID(req.AccountID),
		SaleID:    ledger.SaleID(req.VentaID),
		Concept:   req.Concept,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	var resp ClientPaymentResponse
	if res.Sale != nil {
		sr := toSaleResponse(*res.Sale)
		resp.Venta = &sr
	}
	if res.Abono != nil {
		c := toPartyDTO(res.Abono.Client)
		rd := toReceiptDTO(res.Abono.Receipt)
		resp.Cliente, resp.Abono = &c, &rd
	}
	writeOK(w, http.StatusCreated, resp)
}

func (h *Handler) GetParty(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetParty(r.Context(), ledger.PartyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toPartyDTO(p))
}

func (h *Handler) RegisterParty(w http.ResponseWriter, r *http.Request) {
	var req RegisterPartyRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.RegisterParty(r.Context(), ledger.PartyID(chi.URLParam(r, "id")),
		ledger.PartyKind(req.Kind), req.Nombre, req.LimiteCredito)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeOK(w, http.StatusOK, toPartyDTO(p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAudit replays every account. A violation answers 500 with the full
// report so the inconsistent accounts are visible.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Audit(r.Context())
	if err != nil && !ledger.IsDefect(err) {
		h.writeLedgerError(w, err)
		return
	}
	resp := Response{Result: ledger.ResultOf(err), Data: toAuditDTO(report)}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// GetAuditStatus reports the last scheduled audit.
func (h *Handler) GetAuditStatus(w http.ResponseWriter, r *http.Request) {
	if h.Audits == nil {
		writeOK(w, http.StatusOK, AuditStatusDTO{})
		return
	}
	writeOK(w, http.StatusOK, toAuditStatusDTO(h.Audits.Enabled, h.Audits.Status()))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
			return
		}
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Result: ledger.ResultOf(nil), Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := Response{Result: ledger.Result{Success: false, Error: message}}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeFieldErrors(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, Response{
		Result: ledger.Result{Success: false, Error: "validation failed"},
		Fields: fields,
	})
}

// decode reads and validates a JSON body. On failure it writes the
// response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make(map[string]string, len(ves))
		for _, fe := range ves {
			fields[fe.Field()] = fe.Tag()
		}
		writeFieldErrors(w, fields)
		return false
	}
	return true
}

func (h *Handler) accountParam(w http.ResponseWriter, r *http.Request) (ledger.AccountID, bool) {
	id, err := ledger.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return "", false
	}
	return id, true
}

// statusFor maps a ledger error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrSameAccount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError answers a failed ledger operation. Client-facing errors
// carry their message; internal ones only a generic message plus details.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, err.Error(), nil)
		return
	}
	message := "internal error"
	if ledger.IsDefect(err) {
		message = "ledger consistency violation"
	}
	h.log.Error().Err(err).Int("status", status).Msg("request failed")
	writeError(w, status, message, err)
}
