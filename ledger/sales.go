/*
sales.go - Sale settlement and reversal

PURPOSE:
  Books sale proceeds into the GYA accounts (boveda_monte, flete_sur,
  utilidades) and keeps the client debt in lockstep.

DELTA BOOKING:
  booked  = distribution recorded on the sale for its current montoPagado
  target  = DistributionFor(terms, montoPagado + delta)
  applied = target - booked, one movement per non-zero bucket

  Recomputing the full distribution and crediting it again would double
  count every earlier payment.

STOCK:
  A sale with an ordenCompraId takes cantidad units from that order in the
  same unit as its ledger effects. A shortfall is a ValidationError.
  DeleteSale returns the units if the order still exists.

REVERSAL:
  DeleteSale compensates the sale's outstanding movements. Their net per
  account must equal the booked distribution, otherwise the log and the
  sale record disagree and the deletion aborts as a consistency violation.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SaleReceipt is the result of booking a sale payment.
type SaleReceipt struct {
	Receipt
	Sale    Sale
	Applied Buckets // distribution delta booked by this operation
}

// RecordSale stores a new sale, charges its total to the client and books
// the initial payment, all in one unit.
func (o *Orchestrator) RecordSale(ctx context.Context, sale Sale, initialPayment decimal.Decimal) (SaleReceipt, error) {
	if sale.ID == "" {
		sale.ID = SaleID(o.newID())
	}
	sale.MontoPagado = decimal.Zero
	sale.PaymentState = PaymentPending
	sale.setBooked(ZeroBuckets())
	if err := sale.Validate(); err != nil {
		return SaleReceipt{}, err
	}
	if initialPayment.IsNegative() || initialPayment.GreaterThan(sale.Total()) {
		return SaleReceipt{}, &ValidationError{Field: "montoPagado",
			Reason: fmt.Sprintf("must be within [0, %s], got %s", sale.Total(), initialPayment)}
	}
	if err := validatePrecision("montoPagado", initialPayment); err != nil {
		return SaleReceipt{}, err
	}

	var out Sale
	var applied Buckets
	u, err := o.run(ctx, "record_sale", func(u *unit) error {
		if _, err := u.store.GetSale(u.ctx, sale.ID); err == nil {
			return &ValidationError{Field: "id", Reason: fmt.Sprintf("sale %s already exists", sale.ID)}
		} else if !IsNotFound(err) {
			return err
		}

		s := sale
		s.CreatedAt = u.now
		if s.Fecha.IsZero() {
			s.Fecha = u.now
		}

		client, err := u.party(s.ClienteID, PartyClient)
		if err != nil {
			return err
		}
		restante := s.Total().Sub(initialPayment)
		if client.LimiteCredito.IsPositive() && client.SaldoPendiente.Add(restante).GreaterThan(client.LimiteCredito) {
			return &ValidationError{Field: "clienteId", Reason: fmt.Sprintf(
				"credit limit %s exceeded: pending %s + %s", client.LimiteCredito, client.SaldoPendiente, restante)}
		}
		if _, err := u.adjustSaldo(s.ClienteID, PartyClient, s.Total()); err != nil {
			return err
		}
		if err := moveStock(u, s.OrdenCompraID, -s.Cantidad); err != nil {
			return err
		}

		applied, err = o.settle(u, &s, initialPayment)
		out = s
		return err
	})
	if err != nil {
		return SaleReceipt{}, err
	}
	return SaleReceipt{Receipt: u.receipt(SaleRef(out.ID)), Sale: out, Applied: applied}, nil
}

// SettleSale books a further payment of paymentDelta on an existing sale.
// Only the difference between the new and the previously booked
// distribution is applied.
func (o *Orchestrator) SettleSale(ctx context.Context, id SaleID, paymentDelta decimal.Decimal) (SaleReceipt, error) {
	if err := validateAmount("paymentDelta", paymentDelta); err != nil {
		return SaleReceipt{}, err
	}

	var out Sale
	var applied Buckets
	u, err := o.run(ctx, "settle_sale", func(u *unit) error {
		s, err := u.store.GetSale(u.ctx, id)
		if err != nil {
			return err
		}
		applied, err = o.settle(u, &s, paymentDelta)
		out = s
		return err
	})
	if err != nil {
		return SaleReceipt{}, err
	}
	return SaleReceipt{Receipt: u.receipt(SaleRef(out.ID)), Sale: out, Applied: applied}, nil
}

// settle moves s from its booked distribution to the distribution for
// MontoPagado+delta.
func (o *Orchestrator) settle(u *unit, s *Sale, delta decimal.Decimal) (Buckets, error) {
	newPaid := s.MontoPagado.Add(delta)
	if delta.IsNegative() || newPaid.GreaterThan(s.Total()) {
		return Buckets{}, &ValidationError{Field: "montoPagado",
			Reason: fmt.Sprintf("payment of %s exceeds remaining %s", delta, s.MontoRestante())}
	}

	target := DistributionFor(s.Terms(), newPaid)
	applied := target.Sub(s.Booked())
	ref := SaleRef(s.ID)
	for _, a := range applied.Allocations() {
		concept := fmt.Sprintf("Venta %s: %s", s.ID, bucketLabel(a.AccountID))
		var err error
		switch {
		case a.Amount.IsPositive():
			_, err = u.book(a.AccountID, MovIngreso, a.Amount, concept, ref, "")
		case a.Amount.IsNegative():
			_, err = u.book(a.AccountID, MovGasto, a.Amount.Neg(), concept, ref, "")
		}
		if err != nil {
			return Buckets{}, err
		}
	}

	if delta.IsPositive() {
		if _, err := u.adjustSaldo(s.ClienteID, PartyClient, delta.Neg()); err != nil {
			return Buckets{}, err
		}
	}

	s.MontoPagado = newPaid
	s.setBooked(target)
	s.PaymentState = PaymentStateFor(newPaid, s.Total())
	s.UpdatedAt = u.now
	saved := *s
	u.stage(func(ctx context.Context, st Store) error { return st.PutSale(ctx, saved) })
	return applied, nil
}

// DeleteSale reverses every outstanding movement of the sale, removes the
// unpaid remainder from the client's debt and deletes the record.
func (o *Orchestrator) DeleteSale(ctx context.Context, id SaleID) (SaleReceipt, error) {
	var out Sale
	u, err := o.run(ctx, "delete_sale", func(u *unit) error {
		s, err := u.store.GetSale(u.ctx, id)
		if err != nil {
			return err
		}
		ms, err := u.store.MovementsByReference(u.ctx, SaleRef(id))
		if err != nil {
			return err
		}
		open := Outstanding(ms)

		net := NetByAccount(open)
		booked := s.Booked()
		for _, a := range booked.Allocations() {
			if got := net[a.AccountID]; !got.Equal(a.Amount) {
				return &ConsistencyViolationError{AccountID: a.AccountID, Check: "sale_distribution",
					Detail: fmt.Sprintf("sale %s booked %s but movements net %s", id, a.Amount, got)}
			}
			delete(net, a.AccountID)
		}
		for acct, amount := range net {
			if !amount.IsZero() {
				return &ConsistencyViolationError{AccountID: acct, Check: "sale_distribution",
					Detail: fmt.Sprintf("sale %s has unexpected movements netting %s", id, amount)}
			}
		}

		concept := fmt.Sprintf("Reverso venta %s", id)
		for _, m := range open {
			if _, err := u.reverse(m, concept); err != nil {
				return err
			}
		}
		if restante := s.MontoRestante(); !restante.IsZero() {
			if _, err := u.adjustSaldo(s.ClienteID, PartyClient, restante.Neg()); err != nil {
				return err
			}
		}
		if err := moveStock(u, s.OrdenCompraID, s.Cantidad); err != nil && !IsNotFound(err) {
			return err
		}

		u.stage(func(ctx context.Context, st Store) error { return st.DeleteSale(ctx, id) })
		out = s
		return nil
	})
	if err != nil {
		return SaleReceipt{}, err
	}
	return SaleReceipt{Receipt: u.receipt(SaleRef(id)), Sale: out, Applied: ZeroBuckets().Sub(out.Booked())}, nil
}

// moveStock adds delta units to the stock of order id. A negative delta
// must be covered by the order's current stock. No order, no stock.
func moveStock(u *unit, id OrderID, delta int64) error {
	if id == "" || delta == 0 {
		return nil
	}
	ord, err := u.store.GetPurchaseOrder(u.ctx, id)
	if err != nil {
		return err
	}
	if delta < 0 {
		if err := ord.takeStock(-delta); err != nil {
			return err
		}
	} else {
		ord.StockActual += delta
	}
	ord.UpdatedAt = u.now
	u.stage(func(ctx context.Context, st Store) error { return st.PutPurchaseOrder(ctx, ord) })
	return nil
}

func bucketLabel(id AccountID) string {
	switch id {
	case BovedaMonte:
		return "costo"
	case FleteSur:
		return "flete"
	case Utilidades:
		return "utilidad"
	}
	return string(id)
}
