/*
Package sales is the sale-facing surface of the ledger.

PURPOSE:
  Turns sale input (as entered in the UI or API) into ledger operations:
  defaults the freight price, previews the GYA split before booking, and
  routes client payments either to a specific sale or to the client's
  general balance.

PURCHASE-ORDER STOCK:
  A sale may name the purchase order it sells from. The ledger takes the
  units from that order's stock. A zero PrecioCompraUnidad is filled in
  with the order's landed cost per unit (precio + transporte).

CLIENT PAYMENTS (abonos):
  With SaleID:    the payment settles that sale (SettleSale), so the GYA
                  accounts receive their proportional share.
  Without SaleID: the payment is an abono into the chosen account
                  (RecordClientPayment) and only reduces the client's debt.

SEE ALSO:
  - ledger/sales.go: Settlement and reversal
  - ledger/distribution.go: The split itself
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/chronos-ledger/ledger"
)

// Ledger is the subset of the Orchestrator this package drives.
type Ledger interface {
	RecordSale(ctx context.Context, sale ledger.Sale, initialPayment decimal.Decimal) (ledger.SaleReceipt, error)
	SettleSale(ctx context.Context, id ledger.SaleID, paymentDelta decimal.Decimal) (ledger.SaleReceipt, error)
	DeleteSale(ctx context.Context, id ledger.SaleID) (ledger.SaleReceipt, error)
	GetSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error)
	GetPurchaseOrder(ctx context.Context, id ledger.OrderID) (ledger.PurchaseOrder, error)
	RecordClientPayment(ctx context.Context, p ledger.ClientPayment) (ledger.ClientPaymentReceipt, error)
}

type Service struct {
	ledger Ledger
}

func NewService(l Ledger) *Service {
	return &Service{ledger: l}
}

// NewSale is the input for creating a sale. A nil PrecioFlete means the
// default freight per unit.
type NewSale struct {
	ID                 ledger.SaleID
	ClienteID          ledger.PartyID
	OrdenCompraID      ledger.OrderID // optional
	Fecha              time.Time
	Cantidad           int64
	PrecioVentaUnidad  decimal.Decimal
	PrecioCompraUnidad decimal.Decimal
	PrecioFlete        *decimal.Decimal
	MontoPagado        decimal.Decimal
}

func (n NewSale) sale() ledger.Sale {
	flete := ledger.DefaultFreightPerUnit
	if n.PrecioFlete != nil {
		flete = *n.PrecioFlete
	}
	id := n.ID
	if id == "" {
		id = ledger.SaleID(uuid.NewString())
	}
	return ledger.Sale{
		ID:                 id,
		ClienteID:          n.ClienteID,
		OrdenCompraID:      n.OrdenCompraID,
		Fecha:              n.Fecha,
		Cantidad:           n.Cantidad,
		PrecioVentaUnidad:  n.PrecioVentaUnidad,
		PrecioCompraUnidad: n.PrecioCompraUnidad,
		PrecioFlete:        flete,
	}
}

// Create books a new sale with its initial payment.
func (s *Service) Create(ctx context.Context, n NewSale) (ledger.SaleReceipt, error) {
	n, err := s.withOrderCost(ctx, n)
	if err != nil {
		return ledger.SaleReceipt{}, err
	}
	return s.ledger.RecordSale(ctx, n.sale(), n.MontoPagado)
}

// withOrderCost fills PrecioCompraUnidad from the referenced purchase
// order when it was left at zero.
func (s *Service) withOrderCost(ctx context.Context, n NewSale) (NewSale, error) {
	if n.OrdenCompraID == "" || !n.PrecioCompraUnidad.IsZero() {
		return n, nil
	}
	ord, err := s.ledger.GetPurchaseOrder(ctx, n.OrdenCompraID)
	if err != nil {
		return NewSale{}, err
	}
	n.PrecioCompraUnidad = ord.CostoPorUnidad()
	return n, nil
}

// Pay books a further payment on a sale.
func (s *Service) Pay(ctx context.Context, id ledger.SaleID, amount decimal.Decimal) (ledger.SaleReceipt, error) {
	return s.ledger.SettleSale(ctx, id, amount)
}

// Delete reverses the sale and removes it.
func (s *Service) Delete(ctx context.Context, id ledger.SaleID) (ledger.SaleReceipt, error) {
	return s.ledger.DeleteSale(ctx, id)
}

func (s *Service) Get(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	return s.ledger.GetSale(ctx, id)
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview is the split a sale would produce, without booking anything.
type Preview struct {
	Total         decimal.Decimal
	Full          ledger.Buckets // distribution once fully paid
	Paid          ledger.Buckets // distribution for MontoPagado
	MontoRestante decimal.Decimal
	PaymentState  ledger.PaymentState
}

// Preview is PreviewSale after resolving the purchase-order cost.
func (s *Service) Preview(ctx context.Context, n NewSale) (Preview, error) {
	n, err := s.withOrderCost(ctx, n)
	if err != nil {
		return Preview{}, err
	}
	return PreviewSale(n)
}

func PreviewSale(n NewSale) (Preview, error) {
	sale := n.sale()
	sale.MontoPagado = n.MontoPagado
	if err := sale.Validate(); err != nil {
		return Preview{}, err
	}
	total := sale.Total()
	return Preview{
		Total:         total,
		Full:          ledger.Distribute(sale.Terms()),
		Paid:          ledger.DistributionFor(sale.Terms(), n.MontoPagado),
		MontoRestante: total.Sub(n.MontoPagado),
		PaymentState:  ledger.PaymentStateFor(n.MontoPagado, total),
	}, nil
}

// =============================================================================
// CLIENT PAYMENTS
// =============================================================================

type ClientPayment struct {
	ClienteID ledger.PartyID
	Amount    decimal.Decimal
	AccountID ledger.AccountID // used when SaleID is empty
	SaleID    ledger.SaleID    // optional
	Concept   string
}

// PaymentResult carries whichever receipt the payment produced.
type PaymentResult struct {
	Sale  *ledger.SaleReceipt
	Abono *ledger.ClientPaymentReceipt
}

// PayClient applies a client payment to a sale or to the general balance.
func (s *Service) PayClient(ctx context.Context, p ClientPayment) (PaymentResult, error) {
	if p.SaleID == "" {
		r, err := s.ledger.RecordClientPayment(ctx, ledger.ClientPayment{
			ClienteID: p.ClienteID,
			AccountID: p.AccountID,
			Amount:    p.Amount,
			Concept:   p.Concept,
		})
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Abono: &r}, nil
	}

	sale, err := s.ledger.GetSale(ctx, p.SaleID)
	if err != nil {
		return PaymentResult{}, err
	}
	if sale.ClienteID != p.ClienteID {
		return PaymentResult{}, &ledger.ValidationError{Field: "ventaId",
			Reason: fmt.Sprintf("sale %s does not belong to client %s", p.SaleID, p.ClienteID)}
	}
	r, err := s.ledger.SettleSale(ctx, p.SaleID, p.Amount)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Sale: &r}, nil
}
