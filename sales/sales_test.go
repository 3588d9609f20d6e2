package sales_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/chronos-ledger/ledger"
	"github.com/warp/chronos-ledger/ledger/store"
	"github.com/warp/chronos-ledger/sales"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*sales.Service, *ledger.Orchestrator) {
	t.Helper()
	o := ledger.NewOrchestrator(store.NewTxMemory())
	require.NoError(t, o.Seed(context.Background()))
	return sales.NewService(o), o
}

func TestCreate_DefaultsFreight(t *testing.T) {
	// GIVEN: A sale without an explicit freight price
	// THEN: 500 per unit is used

	svc, _ := newTestService(t)

	r, err := svc.Create(context.Background(), sales.NewSale{
		ClienteID: "c1", Cantidad: 10,
		PrecioVentaUnidad: d("10000"), PrecioCompraUnidad: d("6300"),
		MontoPagado: d("100000"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, r.Sale.ID)
	assert.True(t, d("500").Equal(r.Sale.PrecioFlete))
	assert.True(t, d("5000").Equal(r.Sale.MontoFletes))
	assert.Equal(t, ledger.PaymentComplete, r.Sale.PaymentState)
}

func TestCreate_ExplicitZeroFreight(t *testing.T) {
	svc, _ := newTestService(t)
	zero := decimal.Zero

	r, err := svc.Create(context.Background(), sales.NewSale{
		ID: "v1", ClienteID: "c1", Cantidad: 1,
		PrecioVentaUnidad: d("100"), PrecioCompraUnidad: d("60"), PrecioFlete: &zero,
		MontoPagado: d("100"),
	})
	require.NoError(t, err)

	assert.True(t, r.Sale.MontoFletes.IsZero())
	assert.True(t, d("40").Equal(r.Sale.MontoUtilidades))
}

func TestPreviewSale(t *testing.T) {
	p, err := sales.PreviewSale(sales.NewSale{
		ClienteID: "c1", Cantidad: 10,
		PrecioVentaUnidad: d("10000"), PrecioCompraUnidad: d("6300"),
		MontoPagado: d("25000"),
	})
	require.NoError(t, err)

	assert.True(t, d("100000").Equal(p.Total))
	assert.True(t, d("32000").Equal(p.Full.Utilidades))
	assert.True(t, d("15750").Equal(p.Paid.BovedaMonte))
	assert.True(t, d("75000").Equal(p.MontoRestante))
	assert.Equal(t, ledger.PaymentPartial, p.PaymentState)

	_, err = sales.PreviewSale(sales.NewSale{ClienteID: "c1", Cantidad: 1, PrecioVentaUnidad: d("10"), MontoPagado: d("11")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestPayClient_ToSale(t *testing.T) {
	ctx := context.Background()
	svc, o := newTestService(t)
	_, err := svc.Create(ctx, sales.NewSale{ID: "v1", ClienteID: "c1", Cantidad: 10,
		PrecioVentaUnidad: d("10000"), PrecioCompraUnidad: d("6300")})
	require.NoError(t, err)

	res, err := svc.PayClient(ctx, sales.ClientPayment{ClienteID: "c1", SaleID: "v1", Amount: d("50000")})
	require.NoError(t, err)
	require.NotNil(t, res.Sale)
	assert.Nil(t, res.Abono)
	assert.True(t, d("50000").Equal(res.Sale.Sale.MontoPagado))

	a, err := o.GetAccount(ctx, ledger.BovedaMonte)
	require.NoError(t, err)
	assert.True(t, d("31500").Equal(a.CapitalActual))
}

func TestPayClient_WrongClient_Rejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.Create(ctx, sales.NewSale{ID: "v1", ClienteID: "c1", Cantidad: 1,
		PrecioVentaUnidad: d("100"), PrecioCompraUnidad: d("50")})
	require.NoError(t, err)

	_, err = svc.PayClient(ctx, sales.ClientPayment{ClienteID: "c2", SaleID: "v1", Amount: d("10")})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestPayClient_GeneralBalance(t *testing.T) {
	ctx := context.Background()
	svc, o := newTestService(t)
	_, err := svc.Create(ctx, sales.NewSale{ID: "v1", ClienteID: "c1", Cantidad: 1,
		PrecioVentaUnidad: d("1000"), PrecioCompraUnidad: d("400")})
	require.NoError(t, err)

	res, err := svc.PayClient(ctx, sales.ClientPayment{ClienteID: "c1", AccountID: ledger.Profit, Amount: d("300")})
	require.NoError(t, err)
	require.NotNil(t, res.Abono)
	assert.True(t, d("700").Equal(res.Abono.Client.SaldoPendiente))

	a, err := o.GetAccount(ctx, ledger.Profit)
	require.NoError(t, err)
	assert.True(t, d("300").Equal(a.CapitalActual))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.Create(ctx, sales.NewSale{ID: "v1", ClienteID: "c1", Cantidad: 1,
		PrecioVentaUnidad: d("1000"), PrecioCompraUnidad: d("400"), MontoPagado: d("1000")})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "v1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "v1")
	assert.True(t, ledger.IsNotFound(err))
}

func TestCreate_FromPurchaseOrder_InheritsLandedCost(t *testing.T) {
	// GIVEN: An order at 4500 + 300 transport per unit
	// WHEN: A sale names the order and leaves the purchase price at zero
	// THEN: The order's landed cost is used and its stock drops

	ctx := context.Background()
	svc, o := newTestService(t)
	_, err := o.RecordPurchaseOrder(ctx, ledger.PurchaseOrder{
		ID: "oc1", DistribuidorID: "d1", Cantidad: 10,
		PrecioUnitario: d("4500"), CostoTransporte: d("300"), BancoOrigenID: ledger.BovedaMonte,
	}, decimal.Zero)
	require.NoError(t, err)

	n := sales.NewSale{
		ID: "v1", ClienteID: "c1", OrdenCompraID: "oc1", Cantidad: 2,
		PrecioVentaUnidad: d("10000"), MontoPagado: d("20000"),
	}
	p, err := svc.Preview(ctx, n)
	require.NoError(t, err)
	assert.True(t, d("9600").Equal(p.Full.BovedaMonte))

	r, err := svc.Create(ctx, n)
	require.NoError(t, err)

	assert.True(t, d("4800").Equal(r.Sale.PrecioCompraUnidad))
	assert.True(t, d("9600").Equal(r.Sale.MontoBovedaMonte))
	assert.True(t, d("1000").Equal(r.Sale.MontoFletes))
	assert.True(t, d("9400").Equal(r.Sale.MontoUtilidades))
	ord, err := o.GetPurchaseOrder(ctx, "oc1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), ord.StockActual)
}
