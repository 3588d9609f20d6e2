/*
purchasing.go - Purchase-order payments and reversal

PURPOSE:
  Debits the paying bank for purchase-order payments and keeps the
  distributor debt in lockstep.

BANKS:
  Only accounts with PaysSuppliers may be bancoOrigenId, checked before
  any payment amount so a zero-payment order never stores another bank.

PAYMENT RULES (SettlePurchaseOrderPayment):
  delta = newMontoPagado - montoPagado
  delta <  0 or newMontoPagado > total -> ValidationError
  delta == 0                           -> no-op success
  delta >  0                           -> pago on the bank, distributor
                                          saldoPendiente -= delta

REVERSAL (DeletePurchaseOrder / CancelPurchaseOrder):
  Every outstanding pago of the order is compensated, crediting back the
  bank it came from. The compensated total must equal montoPagado. The
  distributor's saldoPendiente drops by montoRestante. A cancelled order
  keeps its record with estado=cancelado; a deleted one is removed.

STOCK:
  A new order starts with StockActual = StockInicial = cantidad. Sales
  that reference the order draw from it (sales.go).

EXAMPLE:
  total 45000, paid 30000 from profit, remaining 15000
  delete -> profit gastos -30000 (capital +30000), distributor saldo -15000
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderReceipt is the result of a purchase-order operation.
type OrderReceipt struct {
	Receipt
	Order       PurchaseOrder
	Distributor Party
}

func (u *unit) orderReceipt(ord PurchaseOrder) OrderReceipt {
	r := OrderReceipt{Receipt: u.receipt(OrderRef(ord.ID)), Order: ord}
	if p, ok := u.parties[ord.DistribuidorID]; ok {
		r.Distributor = *p
	}
	return r
}

// RecordPurchaseOrder stores a new order with its full quantity in stock,
// adds its total to the distributor's debt and pays initialPayment from
// order.BancoOrigenID.
func (o *Orchestrator) RecordPurchaseOrder(ctx context.Context, order PurchaseOrder, initialPayment decimal.Decimal) (OrderReceipt, error) {
	if order.ID == "" {
		order.ID = OrderID(o.newID())
	}
	order.MontoPagado = decimal.Zero
	order.StockInicial = order.Cantidad
	order.StockActual = order.Cantidad
	order.refreshStatus()
	if err := order.Validate(); err != nil {
		return OrderReceipt{}, err
	}
	if initialPayment.IsNegative() || initialPayment.GreaterThan(order.Total()) {
		return OrderReceipt{}, &ValidationError{Field: "montoPagado",
			Reason: fmt.Sprintf("must be within [0, %s], got %s", order.Total(), initialPayment)}
	}
	if err := validatePrecision("montoPagado", initialPayment); err != nil {
		return OrderReceipt{}, err
	}

	var out PurchaseOrder
	u, err := o.run(ctx, "record_purchase_order", func(u *unit) error {
		if _, err := u.store.GetPurchaseOrder(u.ctx, order.ID); err == nil {
			return &ValidationError{Field: "id", Reason: fmt.Sprintf("purchase order %s already exists", order.ID)}
		} else if !IsNotFound(err) {
			return err
		}

		ord := order
		ord.CreatedAt = u.now
		ord.UpdatedAt = u.now
		if ord.Fecha.IsZero() {
			ord.Fecha = u.now
		}
		if _, err := u.adjustSaldo(ord.DistribuidorID, PartyDistributor, ord.Total()); err != nil {
			return err
		}
		if err := o.payOrder(u, &ord, initialPayment, ord.BancoOrigenID); err != nil {
			return err
		}
		saved := ord
		u.stage(func(ctx context.Context, st Store) error { return st.PutPurchaseOrder(ctx, saved) })
		out = ord
		return nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}
	return u.orderReceipt(out), nil
}

// SettlePurchaseOrderPayment moves the order's paid amount to
// newMontoPagado, debiting the difference from banco.
func (o *Orchestrator) SettlePurchaseOrderPayment(ctx context.Context, id OrderID, newMontoPagado decimal.Decimal, banco AccountID) (OrderReceipt, error) {
	if _, err := ParseAccountID(string(banco)); err != nil {
		return OrderReceipt{}, err
	}
	if err := validateSupplierBank(banco); err != nil {
		return OrderReceipt{}, err
	}
	if err := validatePrecision("montoPagado", newMontoPagado); err != nil {
		return OrderReceipt{}, err
	}
	return o.updateOrderPayment(ctx, "settle_purchase_order", id, banco, func(ord PurchaseOrder) decimal.Decimal {
		return newMontoPagado.Sub(ord.MontoPagado)
	})
}

// PayPurchaseOrder pays a further amount on the order from banco.
func (o *Orchestrator) PayPurchaseOrder(ctx context.Context, id OrderID, amount decimal.Decimal, banco AccountID) (OrderReceipt, error) {
	if _, err := ParseAccountID(string(banco)); err != nil {
		return OrderReceipt{}, err
	}
	if err := validateSupplierBank(banco); err != nil {
		return OrderReceipt{}, err
	}
	if err := validateAmount("amount", amount); err != nil {
		return OrderReceipt{}, err
	}
	return o.updateOrderPayment(ctx, "pay_purchase_order", id, banco, func(PurchaseOrder) decimal.Decimal {
		return amount
	})
}

// updateOrderPayment computes the payment delta against the order as read
// inside the transaction.
func (o *Orchestrator) updateOrderPayment(ctx context.Context, op string, id OrderID, banco AccountID, deltaOf func(PurchaseOrder) decimal.Decimal) (OrderReceipt, error) {
	var out PurchaseOrder
	u, err := o.run(ctx, op, func(u *unit) error {
		ord, err := u.store.GetPurchaseOrder(u.ctx, id)
		if err != nil {
			return err
		}
		delta := deltaOf(ord)
		if delta.IsZero() {
			out = ord
			return nil
		}
		if err := o.payOrder(u, &ord, delta, banco); err != nil {
			return err
		}
		saved := ord
		u.stage(func(ctx context.Context, st Store) error { return st.PutPurchaseOrder(ctx, saved) })
		out = ord
		return nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}
	return u.orderReceipt(out), nil
}

// payOrder debits delta from banco for ord. The caller stages the write.
func (o *Orchestrator) payOrder(u *unit, ord *PurchaseOrder, delta decimal.Decimal, banco AccountID) error {
	if ord.Estado == OrderCancelled {
		return &ValidationError{Field: "estado", Reason: fmt.Sprintf("purchase order %s is cancelled", ord.ID)}
	}
	newPaid := ord.MontoPagado.Add(delta)
	if delta.IsNegative() {
		return &ValidationError{Field: "montoPagado",
			Reason: fmt.Sprintf("cannot lower paid amount from %s to %s", ord.MontoPagado, newPaid)}
	}
	if newPaid.GreaterThan(ord.Total()) {
		return &ValidationError{Field: "montoPagado",
			Reason: fmt.Sprintf("%s exceeds order total %s", newPaid, ord.Total())}
	}
	if delta.IsZero() {
		return nil
	}
	if err := u.requireFunds(banco, delta); err != nil {
		return err
	}
	concept := fmt.Sprintf("Pago orden de compra %s", ord.ID)
	if _, err := u.book(banco, MovPago, delta, concept, OrderRef(ord.ID), ""); err != nil {
		return err
	}
	if _, err := u.adjustSaldo(ord.DistribuidorID, PartyDistributor, delta.Neg()); err != nil {
		return err
	}

	ord.MontoPagado = newPaid
	ord.BancoOrigenID = banco
	ord.UpdatedAt = u.now
	ord.refreshStatus()
	return nil
}

// DeletePurchaseOrder compensates the order's payments and debt, then
// removes the record. A cancelled order was already compensated.
func (o *Orchestrator) DeletePurchaseOrder(ctx context.Context, id OrderID) (OrderReceipt, error) {
	var out PurchaseOrder
	u, err := o.run(ctx, "delete_purchase_order", func(u *unit) error {
		ord, err := u.store.GetPurchaseOrder(u.ctx, id)
		if err != nil {
			return err
		}
		if ord.Estado != OrderCancelled {
			if err := o.compensateOrder(u, ord); err != nil {
				return err
			}
		}
		u.stage(func(ctx context.Context, st Store) error { return st.DeletePurchaseOrder(ctx, id) })
		out = ord
		return nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}
	return u.orderReceipt(out), nil
}

// CancelPurchaseOrder compensates the order like DeletePurchaseOrder but
// keeps the record with estado=cancelado.
func (o *Orchestrator) CancelPurchaseOrder(ctx context.Context, id OrderID) (OrderReceipt, error) {
	var out PurchaseOrder
	u, err := o.run(ctx, "cancel_purchase_order", func(u *unit) error {
		ord, err := u.store.GetPurchaseOrder(u.ctx, id)
		if err != nil {
			return err
		}
		if ord.Estado == OrderCancelled {
			return &ValidationError{Field: "estado", Reason: fmt.Sprintf("purchase order %s is already cancelled", id)}
		}
		if err := o.compensateOrder(u, ord); err != nil {
			return err
		}
		ord.MontoPagado = decimal.Zero
		ord.MontoRestante = decimal.Zero
		ord.Estado = OrderCancelled
		ord.UpdatedAt = u.now
		saved := ord
		u.stage(func(ctx context.Context, st Store) error { return st.PutPurchaseOrder(ctx, saved) })
		out = ord
		return nil
	})
	if err != nil {
		return OrderReceipt{}, err
	}
	return u.orderReceipt(out), nil
}

func (o *Orchestrator) compensateOrder(u *unit, ord PurchaseOrder) error {
	ms, err := u.store.MovementsByReference(u.ctx, OrderRef(ord.ID))
	if err != nil {
		return err
	}
	open := Outstanding(ms)

	paid := decimal.Zero
	for _, m := range open {
		if m.Kind != MovPago {
			return &ConsistencyViolationError{AccountID: m.AccountID, Check: "order_payments",
				Detail: fmt.Sprintf("purchase order %s has a %s movement %s", ord.ID, m.Kind, m.ID)}
		}
		paid = paid.Add(m.Amount)
	}
	if !paid.Equal(ord.MontoPagado) {
		return &ConsistencyViolationError{Check: "order_payments",
			Detail: fmt.Sprintf("purchase order %s records montoPagado %s but movements sum %s", ord.ID, ord.MontoPagado, paid)}
	}

	concept := fmt.Sprintf("Reverso orden de compra %s", ord.ID)
	for _, m := range open {
		if _, err := u.reverse(m, concept); err != nil {
			return err
		}
	}
	if !ord.MontoRestante.IsZero() {
		if _, err := u.adjustSaldo(ord.DistribuidorID, PartyDistributor, ord.MontoRestante.Neg()); err != nil {
			return err
		}
	}
	return nil
}
