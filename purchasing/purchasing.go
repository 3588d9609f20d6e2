/*
Package purchasing is the purchase-order surface of the ledger.

PURPOSE:
  Turns purchase-order input into ledger operations. New orders are paid
  from boveda_monte unless another supplier-paying bank is named.

OPERATIONS:
  Create   store order, charge distributor, pay initial amount
  Pay      pay a further amount
  SetPaid  set montoPagado to an absolute value (delta booked)
  Cancel   compensate payments, keep record as cancelado
  Delete   compensate payments, remove record

SEE ALSO:
  - ledger/purchasing.go: Payment rules and compensation
*/
package purchasing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/chronos-ledger/ledger"
)

// DefaultBank pays new orders when none is given.
const DefaultBank = ledger.BovedaMonte

type Ledger interface {
	RecordPurchaseOrder(ctx context.Context, order ledger.PurchaseOrder, initialPayment decimal.Decimal) (ledger.OrderReceipt, error)
	PayPurchaseOrder(ctx context.Context, id ledger.OrderID, amount decimal.Decimal, banco ledger.AccountID) (ledger.OrderReceipt, error)
	SettlePurchaseOrderPayment(ctx context.Context, id ledger.OrderID, newMontoPagado decimal.Decimal, banco ledger.AccountID) (ledger.OrderReceipt, error)
	CancelPurchaseOrder(ctx context.Context, id ledger.OrderID) (ledger.OrderReceipt, error)
	DeletePurchaseOrder(ctx context.Context, id ledger.OrderID) (ledger.OrderReceipt, error)
	GetPurchaseOrder(ctx context.Context, id ledger.OrderID) (ledger.PurchaseOrder, error)
}

type Service struct {
	ledger Ledger
}

func NewService(l Ledger) *Service {
	return &Service{ledger: l}
}

type NewOrder struct {
	ID              ledger.OrderID
	DistribuidorID  ledger.PartyID
	Fecha           time.Time
	Cantidad        int64
	PrecioUnitario  decimal.Decimal
	CostoTransporte decimal.Decimal // per unit
	MontoPagado     decimal.Decimal
	BancoOrigenID   ledger.AccountID
}

func (n NewOrder) order() ledger.PurchaseOrder {
	id := n.ID
	if id == "" {
		id = ledger.OrderID(uuid.NewString())
	}
	banco := n.BancoOrigenID
	if banco == "" {
		banco = DefaultBank
	}
	return ledger.PurchaseOrder{
		ID:              id,
		DistribuidorID:  n.DistribuidorID,
		Fecha:           n.Fecha,
		Cantidad:        n.Cantidad,
		PrecioUnitario:  n.PrecioUnitario,
		CostoTransporte: n.CostoTransporte,
		BancoOrigenID:   banco,
	}
}

func (s *Service) Create(ctx context.Context, n NewOrder) (ledger.OrderReceipt, error) {
	return s.ledger.RecordPurchaseOrder(ctx, n.order(), n.MontoPagado)
}

// Pay pays amount on the order. An empty banco means the bank the order
// was last paid from.
func (s *Service) Pay(ctx context.Context, id ledger.OrderID, amount decimal.Decimal, banco ledger.AccountID) (ledger.OrderReceipt, error) {
	banco, err := s.bank(ctx, id, banco)
	if err != nil {
		return ledger.OrderReceipt{}, err
	}
	return s.ledger.PayPurchaseOrder(ctx, id, amount, banco)
}

// SetPaid moves the order's paid amount to montoPagado.
func (s *Service) SetPaid(ctx context.Context, id ledger.OrderID, montoPagado decimal.Decimal, banco ledger.AccountID) (ledger.OrderReceipt, error) {
	banco, err := s.bank(ctx, id, banco)
	if err != nil {
		return ledger.OrderReceipt{}, err
	}
	return s.ledger.SettlePurchaseOrderPayment(ctx, id, montoPagado, banco)
}

func (s *Service) Cancel(ctx context.Context, id ledger.OrderID) (ledger.OrderReceipt, error) {
	return s.ledger.CancelPurchaseOrder(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id ledger.OrderID) (ledger.OrderReceipt, error) {
	return s.ledger.DeletePurchaseOrder(ctx, id)
}

func (s *Service) Get(ctx context.Context, id ledger.OrderID) (ledger.PurchaseOrder, error) {
	return s.ledger.GetPurchaseOrder(ctx, id)
}

func (s *Service) bank(ctx context.Context, id ledger.OrderID, banco ledger.AccountID) (ledger.AccountID, error) {
	if banco != "" {
		return banco, nil
	}
	ord, err := s.ledger.GetPurchaseOrder(ctx, id)
	if err != nil {
		return "", err
	}
	if ord.BancoOrigenID == "" {
		return DefaultBank, nil
	}
	return ord.BancoOrigenID, nil
}
