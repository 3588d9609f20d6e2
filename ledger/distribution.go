/*
distribution.go - GYA distribution of sale proceeds

PURPOSE:
  Computes how a sale's total splits into the cost, freight and profit
  buckets, and how a partial payment scales that split. Pure functions:
  nothing here touches account state.

FORMULAS:
  costo    = precioCompraUnidad * cantidad                       -> boveda_monte
  flete    = precioFlete * cantidad                              -> flete_sur
  utilidad = (precioVenta - precioCompra - precioFlete) * cantidad -> utilidades

  costo + flete + utilidad == precioVenta * cantidad, always. utilidad may
  be negative (a loss-making sale).

PAYMENT SCALING:
  total == 0           -> zero buckets
  montoPagado == 0     -> zero buckets
  montoPagado == total -> buckets unchanged
  otherwise            -> each bucket * montoPagado/total, rounded to the
                          currency minor unit

  Rounding each bucket independently means the scaled buckets may sum to
  within one minor unit of montoPagado. That is the only tolerance.

EXAMPLE:
  precioVenta=10000, precioCompra=6300, flete=500, cantidad=10
  full payment: 63000 / 5000 / 32000
  50% payment:  31500 / 2500 / 16000

SEE ALSO:
  - sales.go: SettleSale books the delta between two Scale results
*/
package ledger

import "github.com/shopspring/decimal"

// DefaultFreightPerUnit is the freight applied when a sale is created
// without an explicit freight price.
var DefaultFreightPerUnit = decimal.NewFromInt(500)

// SaleTerms are the inputs of the distribution.
type SaleTerms struct {
	Cantidad           int64
	PrecioVentaUnidad  decimal.Decimal
	PrecioCompraUnidad decimal.Decimal
	PrecioFlete        decimal.Decimal
}

func (t SaleTerms) Total() decimal.Decimal {
	return t.PrecioVentaUnidad.Mul(decimal.NewFromInt(t.Cantidad))
}

// Buckets is a three-way split across the GYA accounts.
type Buckets struct {
	BovedaMonte decimal.Decimal
	Fletes      decimal.Decimal
	Utilidades  decimal.Decimal
}

// ZeroBuckets returns buckets with every amount set to zero.
func ZeroBuckets() Buckets {
	return Buckets{BovedaMonte: decimal.Zero, Fletes: decimal.Zero, Utilidades: decimal.Zero}
}

func (b Buckets) Total() decimal.Decimal {
	return b.BovedaMonte.Add(b.Fletes).Add(b.Utilidades)
}

func (b Buckets) Sub(o Buckets) Buckets {
	return Buckets{
		BovedaMonte: b.BovedaMonte.Sub(o.BovedaMonte),
		Fletes:      b.Fletes.Sub(o.Fletes),
		Utilidades:  b.Utilidades.Sub(o.Utilidades),
	}
}

func (b Buckets) IsZero() bool {
	return b.BovedaMonte.IsZero() && b.Fletes.IsZero() && b.Utilidades.IsZero()
}

func (b Buckets) Equal(o Buckets) bool {
	return b.BovedaMonte.Equal(o.BovedaMonte) && b.Fletes.Equal(o.Fletes) && b.Utilidades.Equal(o.Utilidades)
}

// Allocation is one bucket paired with the account that receives it.
type Allocation struct {
	AccountID AccountID
	Amount    decimal.Decimal
}

// Allocations returns the buckets in DistributionAccounts order.
func (b Buckets) Allocations() []Allocation {
	return []Allocation{
		{AccountID: BovedaMonte, Amount: b.BovedaMonte},
		{AccountID: FleteSur, Amount: b.Fletes},
		{AccountID: Utilidades, Amount: b.Utilidades},
	}
}

// Distribute splits a sale's full total into the three buckets.
func Distribute(t SaleTerms) Buckets {
	qty := decimal.NewFromInt(t.Cantidad)
	return Buckets{
		BovedaMonte: t.PrecioCompraUnidad.Mul(qty),
		Fletes:      t.PrecioFlete.Mul(qty),
		Utilidades:  t.PrecioVentaUnidad.Sub(t.PrecioCompraUnidad).Sub(t.PrecioFlete).Mul(qty),
	}
}

// Scale scales buckets to the paid fraction of total.
func Scale(b Buckets, montoPagado, total decimal.Decimal) Buckets {
	switch PaymentStateFor(montoPagado, total) {
	case PaymentPending:
		return ZeroBuckets()
	case PaymentComplete:
		return b
	}
	ratio := func(d decimal.Decimal) decimal.Decimal {
		return RoundMinor(d.Mul(montoPagado).Div(total))
	}
	return Buckets{
		BovedaMonte: ratio(b.BovedaMonte),
		Fletes:      ratio(b.Fletes),
		Utilidades:  ratio(b.Utilidades),
	}
}

// PaymentStateFor derives the payment state of a sale. A zero total is
// treated as pending so that Scale yields zero buckets.
func PaymentStateFor(montoPagado, total decimal.Decimal) PaymentState {
	switch {
	case !total.IsPositive() || !montoPagado.IsPositive():
		return PaymentPending
	case montoPagado.GreaterThanOrEqual(total):
		return PaymentComplete
	default:
		return PaymentPartial
	}
}

// DistributionFor is Distribute followed by Scale for the sale's current
// payment.
func DistributionFor(t SaleTerms, montoPagado decimal.Decimal) Buckets {
	return Scale(Distribute(t), montoPagado, t.Total())
}
