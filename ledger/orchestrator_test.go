package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/chronos-ledger/ledger"
	"github.com/warp/chronos-ledger/ledger/store"
	"github.com/warp/chronos-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testRetry() ledger.RetryPolicy {
	return ledger.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestOrchestrator(t *testing.T, opts ...ledger.Option) (*ledger.Orchestrator, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	base := []ledger.Option{ledger.WithClock(fixedClock), ledger.WithRetryPolicy(testRetry())}
	o := ledger.NewOrchestrator(s, append(base, opts...)...)
	require.NoError(t, o.Seed(context.Background()))
	return o, s
}

func fund(t *testing.T, o *ledger.Orchestrator, id ledger.AccountID, amount string) {
	t.Helper()
	_, err := o.RecordIncome(context.Background(), id, d(amount), "fondeo")
	require.NoError(t, err)
}

func capital(t *testing.T, o *ledger.Orchestrator, id ledger.AccountID) decimal.Decimal {
	t.Helper()
	a, err := o.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.CapitalActual
}

func assertCapital(t *testing.T, o *ledger.Orchestrator, id ledger.AccountID, want string) {
	t.Helper()
	got := capital(t, o, id)
	assert.True(t, d(want).Equal(got), "%s capital: want %s, got %s", id, want, got)
}

func totalCapital(t *testing.T, o *ledger.Orchestrator) decimal.Decimal {
	t.Helper()
	accts, err := o.ListAccounts(context.Background())
	require.NoError(t, err)
	sum := decimal.Zero
	for _, a := range accts {
		sum = sum.Add(a.CapitalActual)
	}
	return sum
}

func standardSale(id string) ledger.Sale {
	return ledger.Sale{
		ID:                 ledger.SaleID(id),
		ClienteID:          "cliente-1",
		Cantidad:           10,
		PrecioVentaUnidad:  d("10000"),
		PrecioCompraUnidad: d("6300"),
		PrecioFlete:        d("500"),
	}
}

func standardOrder(id string) ledger.PurchaseOrder {
	return ledger.PurchaseOrder{
		ID:             ledger.OrderID(id),
		DistribuidorID: "dist-1",
		Cantidad:       10,
		PrecioUnitario: d("4500"),
		BancoOrigenID:  ledger.Profit,
	}
}

func assertInvariantEverywhere(t *testing.T, o *ledger.Orchestrator) {
	t.Helper()
	report, err := o.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
}

// =============================================================================
// SEED & READS
// =============================================================================

func TestSeed_CreatesSevenAccounts_Idempotent(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	require.NoError(t, o.Seed(context.Background()))

	accts, err := o.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accts, 7)
	for i, a := range accts {
		assert.Equal(t, ledger.AllAccountIDs()[i], a.ID)
		assert.True(t, a.CapitalActual.IsZero())
		assert.True(t, a.Active)
	}
}

func TestGetAccount_UnknownID_IsValidationError(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.GetAccount(context.Background(), "banco_fantasma")

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// SALES
// =============================================================================

func TestRecordSale_FullPayment_DistributesToGYA(t *testing.T) {
	// GIVEN: Sale of 10 units at 10000 (cost 6300, freight 500)
	// WHEN: Paid in full at creation
	// THEN: 63000 / 5000 / 32000 land in the three GYA accounts

	o, _ := newTestOrchestrator(t)

	r, err := o.RecordSale(context.Background(), standardSale("v1"), d("100000"))
	require.NoError(t, err)

	assertCapital(t, o, ledger.BovedaMonte, "63000")
	assertCapital(t, o, ledger.FleteSur, "5000")
	assertCapital(t, o, ledger.Utilidades, "32000")
	assert.Equal(t, ledger.PaymentComplete, r.Sale.PaymentState)
	assert.Len(t, r.Movements, 3)
	assert.Len(t, r.Accounts, 3)

	client, err := o.GetParty(context.Background(), "cliente-1")
	require.NoError(t, err)
	assert.True(t, client.SaldoPendiente.IsZero())
	assertInvariantEverywhere(t, o)
}

func TestSettleSale_BooksOnlyTheDelta(t *testing.T) {
	// GIVEN: Sale paid 50% at creation
	// WHEN: The remaining 50% is paid
	// THEN: Accounts end at the full distribution, never double counted

	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	_, err := o.RecordSale(ctx, standardSale("v1"), d("50000"))
	require.NoError(t, err)
	assertCapital(t, o, ledger.BovedaMonte, "31500")
	assertCapital(t, o, ledger.FleteSur, "2500")
	assertCapital(t, o, ledger.Utilidades, "16000")

	client, err := o.GetParty(ctx, "cliente-1")
	require.NoError(t, err)
	assert.True(t, d("50000").Equal(client.SaldoPendiente))

	r, err := o.SettleSale(ctx, "v1", d("50000"))
	require.NoError(t, err)
	assertBuckets(t, [3]string{"31500", "2500", "16000"}, r.Applied)
	assertCapital(t, o, ledger.BovedaMonte, "63000")
	assertCapital(t, o, ledger.FleteSur, "5000")
	assertCapital(t, o, ledger.Utilidades, "32000")
	assert.Equal(t, ledger.PaymentComplete, r.Sale.PaymentState)

	client, err = o.GetParty(ctx, "cliente-1")
	require.NoError(t, err)
	assert.True(t, client.SaldoPendiente.IsZero())

	ms, err := o.Movements().ListByReference(ctx, ledger.SaleRef("v1"))
	require.NoError(t, err)
	assert.Len(t, ms, 6)
	assertInvariantEverywhere(t, o)
}

func TestSettleSale_Overpayment_RejectedWithoutChanges(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordSale(ctx, standardSale("v1"), d("90000"))
	require.NoError(t, err)

	_, err = o.SettleSale(ctx, "v1", d("10000.01"))

	assert.ErrorIs(t, err, ledger.ErrValidation)
	sale, err := o.GetSale(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, d("90000").Equal(sale.MontoPagado))
	assertCapital(t, o, ledger.BovedaMonte, "56700")
}

func TestSettleSale_InvalidInput(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordSale(ctx, standardSale("v1"), d("0"))
	require.NoError(t, err)

	_, err = o.SettleSale(ctx, "v1", d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.SettleSale(ctx, "v1", d("-5"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.SettleSale(ctx, "v1", d("10.005"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.SettleSale(ctx, "no-existe", d("10"))
	assert.True(t, ledger.IsNotFound(err))
}

func TestRecordSale_InvalidTerms(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	zeroQty := standardSale("v1")
	zeroQty.Cantidad = 0
	_, err := o.RecordSale(ctx, zeroQty, d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	negPrice := standardSale("v2")
	negPrice.PrecioCompraUnidad = d("-1")
	_, err = o.RecordSale(ctx, negPrice, d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.RecordSale(ctx, standardSale("v3"), d("100000.01"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.RecordSale(ctx, standardSale("v4"), d("0"))
	require.NoError(t, err)
	_, err = o.RecordSale(ctx, standardSale("v4"), d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation, "duplicate id")
}

func TestRecordSale_LossMaking_DebitsUtilidades(t *testing.T) {
	// GIVEN: Utilidades holds 1000
	// WHEN: A sale below cost is paid in full
	// THEN: Utilidades is debited the loss with a gasto movement

	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Utilidades, "1000")

	sale := ledger.Sale{ID: "v1", ClienteID: "c", Cantidad: 2,
		PrecioVentaUnidad: d("600"), PrecioCompraUnidad: d("550"), PrecioFlete: d("100")}
	r, err := o.RecordSale(ctx, sale, d("1200"))
	require.NoError(t, err)

	assertCapital(t, o, ledger.BovedaMonte, "1100")
	assertCapital(t, o, ledger.FleteSur, "200")
	assertCapital(t, o, ledger.Utilidades, "700")

	var kinds []ledger.MovementKind
	for _, m := range r.Movements {
		if m.AccountID == ledger.Utilidades {
			kinds = append(kinds, m.Kind)
		}
	}
	assert.Equal(t, []ledger.MovementKind{ledger.MovGasto}, kinds)
	assertInvariantEverywhere(t, o)
}

func TestRecordSale_CreditLimitExceeded_Rejected(t *testing.T) {
	ctx := context.Background()
	o, s := newTestOrchestrator(t)
	client := ledger.NewParty("cliente-1", ledger.PartyClient)
	client.LimiteCredito = d("40000")
	require.NoError(t, s.PutParty(ctx, client))

	_, err := o.RecordSale(ctx, standardSale("v1"), d("50000"))

	assert.ErrorIs(t, err, ledger.ErrValidation)
	got, err := o.GetParty(ctx, "cliente-1")
	require.NoError(t, err)
	assert.True(t, got.SaldoPendiente.IsZero())
	assertCapital(t, o, ledger.BovedaMonte, "0")

	_, err = o.RecordSale(ctx, standardSale("v2"), d("60000"))
	assert.NoError(t, err, "remaining 40000 is within the limit")
}

func TestRegisterParty_KeepsOutstandingDebt(t *testing.T) {
	// GIVEN: A client that already owes money
	// WHEN: The client is renamed and given a credit limit
	// THEN: saldoPendiente is unchanged and the limit applies to new sales

	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordSale(ctx, standardSale("v1"), d("0"))
	require.NoError(t, err)

	p, err := o.RegisterParty(ctx, "cliente-1", ledger.PartyClient, "Abarrotes Lupita", d("150000"))
	require.NoError(t, err)
	assert.Equal(t, "Abarrotes Lupita", p.Nombre)
	assert.True(t, d("100000").Equal(p.SaldoPendiente))

	_, err = o.RecordSale(ctx, standardSale("v2"), d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.RegisterParty(ctx, "cliente-1", ledger.PartyDistributor, "", d("0"))
	assert.ErrorIs(t, err, ledger.ErrValidation, "kind cannot change")
	_, err = o.RegisterParty(ctx, "dist-1", ledger.PartyDistributor, "", d("10"))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestDeleteSale_PartiallyPaid_RestoresEverything(t *testing.T) {
	// GIVEN: Sale total 100000, paid 50000
	// WHEN: The sale is deleted
	// THEN: GYA accounts return to zero and the client owes nothing

	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordSale(ctx, standardSale("v1"), d("50000"))
	require.NoError(t, err)

	r, err := o.DeleteSale(ctx, "v1")
	require.NoError(t, err)

	assertCapital(t, o, ledger.BovedaMonte, "0")
	assertCapital(t, o, ledger.FleteSur, "0")
	assertCapital(t, o, ledger.Utilidades, "0")
	assertBuckets(t, [3]string{"-31500", "-2500", "-16000"}, r.Applied)

	client, err := o.GetParty(ctx, "cliente-1")
	require.NoError(t, err)
	assert.True(t, client.SaldoPendiente.IsZero())

	_, err = o.GetSale(ctx, "v1")
	assert.True(t, ledger.IsNotFound(err))

	// History is kept: 3 originals + 3 compensations
	ms, err := o.Movements().ListByReference(ctx, ledger.SaleRef("v1"))
	require.NoError(t, err)
	assert.Len(t, ms, 6)
	ing, gas := ledger.Replay(ms)
	assert.True(t, ing.IsZero())
	assert.True(t, gas.IsZero())
	assertInvariantEverywhere(t, o)
}

func TestDeleteSale_ProceedsAlreadySpent_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordSale(ctx, standardSale("v1"), d("100000"))
	require.NoError(t, err)
	_, err = o.Transfer(ctx, ledger.TransferRequest{From: ledger.Utilidades, To: ledger.Profit, Amount: d("20000")})
	require.NoError(t, err)

	_, err = o.DeleteSale(ctx, "v1")

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, err = o.GetSale(ctx, "v1")
	assert.NoError(t, err, "sale must survive a failed deletion")
	assertCapital(t, o, ledger.BovedaMonte, "63000")
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransfer_ConservesTotalCapital(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Profit, "1000")
	before := totalCapital(t, o)

	r, err := o.Transfer(ctx, ledger.TransferRequest{From: ledger.Profit, To: ledger.Leftie, Amount: d("400"), Concept: "caja chica"})
	require.NoError(t, err)

	assertCapital(t, o, ledger.Profit, "600")
	assertCapital(t, o, ledger.Leftie, "400")
	assert.True(t, before.Equal(totalCapital(t, o)))

	require.Len(t, r.Movements, 2)
	assert.Equal(t, ledger.MovTransferenciaSalida, r.Movements[0].Kind)
	assert.Equal(t, ledger.MovTransferenciaEntrada, r.Movements[1].Kind)
	assert.Equal(t, r.Movements[0].Reference, r.Movements[1].Reference)
	assert.Equal(t, ledger.Leftie, r.Movements[0].CounterpartAccountID)

	profit, err := o.GetAccount(ctx, ledger.Profit)
	require.NoError(t, err)
	assert.True(t, d("400").Equal(profit.HistoricoGastos))
	assertInvariantEverywhere(t, o)
}

func TestTransfer_InsufficientFunds_NoStateChange(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Profit, "100")

	_, err := o.Transfer(ctx, ledger.TransferRequest{From: ledger.Profit, To: ledger.Azteca, Amount: d("100.01")})

	var ife *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, d("0.01").Equal(ife.Shortfall))
	assertCapital(t, o, ledger.Profit, "100")
	assertCapital(t, o, ledger.Azteca, "0")

	ms, err := o.Movements().ListByAccount(ctx, ledger.Azteca)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestTransfer_SameAccount_RejectedRegardlessOfBalance(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Transfer(context.Background(), ledger.TransferRequest{From: ledger.Profit, To: ledger.Profit, Amount: d("1")})

	assert.ErrorIs(t, err, ledger.ErrSameAccount)
}

func TestTransfer_InvalidInput(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Profit, "100")

	_, err := o.Transfer(ctx, ledger.TransferRequest{From: ledger.Profit, To: ledger.Leftie, Amount: d("0")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.Transfer(ctx, ledger.TransferRequest{From: ledger.Profit, To: "otro", Amount: d("1")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

func TestDeletePurchaseOrder_ReversesPaymentAndDebt(t *testing.T) {
	// GIVEN: Order total 45000, paid 30000 from profit, remaining 15000
	// WHEN: The order is deleted
	// THEN: profit gets 30000 back (gastos -30000), distributor saldo -15000

	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Profit, "50000")

	r, err := o.RecordPurchaseOrder(ctx, standardOrder("oc1"), d("30000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderPartial, r.Order.Estado)
	assert.True(t, d("15000").Equal(r.Order.MontoRestante))
	assert.True(t, d("15000").Equal(r.Distributor.SaldoPendiente))
	assertCapital(t, o, ledger.Profit, "20000")

	r, err = o.DeletePurchaseOrder(ctx, "oc1")
	require.NoError(t, err)

	profit, err := o.GetAccount(ctx, ledger.Profit)
	require.NoError(t, err)
	assert.True(t, d("50000").Equal(profit.CapitalActual))
	assert.True(t, profit.HistoricoGastos.IsZero())
	assert.True(t, r.Distributor.SaldoPendiente.IsZero())

	_, err = o.GetPurchaseOrder(ctx, "oc1")
	assert.True(t, ledger.IsNotFound(err))

	ms, err := o.Movements().ListByReference(ctx, ledger.OrderRef("oc1"))
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.True(t, ms[1].Reversal)
	assert.Equal(t, ms[0].ID, ms[1].ReversesID)
	assertInvariantEverywhere(t, o)
}

func TestSettlePurchaseOrderPayment_Rules(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Leftie, "100000")
	ord := standardOrder("oc1")
	ord.BancoOrigenID = ledger.Leftie
	_, err := o.RecordPurchaseOrder(ctx, ord, d("10000"))
	require.NoError(t, err)
	fund(t, o, ledger.Profit, "5000")

	t.Run("delta zero is a no-op", func(t *testing.T) {
		r, err := o.SettlePurchaseOrderPayment(ctx, "oc1", d("10000"), ledger.Leftie)
		require.NoError(t, err)
		assert.Empty(t, r.Movements)
	})

	t.Run("lowering the paid amount is rejected", func(t *testing.T) {
		_, err := o.SettlePurchaseOrderPayment(ctx, "oc1", d("5000"), ledger.Leftie)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("paying beyond the total is rejected", func(t *testing.T) {
		_, err := o.SettlePurchaseOrderPayment(ctx, "oc1", d("45000.01"), ledger.Leftie)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("bank without funds is rejected", func(t *testing.T) {
		_, err := o.SettlePurchaseOrderPayment(ctx, "oc1", d("20000"), ledger.Azteca)
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	})

	t.Run("bank that cannot pay suppliers is rejected", func(t *testing.T) {
		_, err := o.SettlePurchaseOrderPayment(ctx, "oc1", d("20000"), ledger.Utilidades)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("payment from a second bank", func(t *testing.T) {
		r, err := o.SettlePurchaseOrderPayment(ctx, "oc1", d("15000"), ledger.Profit)
		require.NoError(t, err)
		assert.Equal(t, ledger.Profit, r.Order.BancoOrigenID)
		assert.True(t, d("30000").Equal(r.Order.MontoRestante))
		assertCapital(t, o, ledger.Profit, "0")
	})

	t.Run("final payment completes the order", func(t *testing.T) {
		r, err := o.PayPurchaseOrder(ctx, "oc1", d("30000"), ledger.Leftie)
		require.NoError(t, err)
		assert.Equal(t, ledger.OrderComplete, r.Order.Estado)
		assert.True(t, r.Distributor.SaldoPendiente.IsZero())
	})

	t.Run("delete credits back each bank", func(t *testing.T) {
		_, err := o.DeletePurchaseOrder(ctx, "oc1")
		require.NoError(t, err)
		assertCapital(t, o, ledger.Leftie, "100000")
		assertCapital(t, o, ledger.Profit, "5000")
	})

	assertInvariantEverywhere(t, o)
}

func TestRecordPurchaseOrder_UnpaidOrder_RejectsNonSupplierBank(t *testing.T) {
	// GIVEN: an order with no initial payment
	// WHEN: its bank cannot pay suppliers
	// THEN: the order is rejected before anything is stored
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	for _, bank := range []ledger.AccountID{ledger.Utilidades, ledger.FleteSur, ledger.BovedaUSA} {
		t.Run(string(bank), func(t *testing.T) {
			ord := standardOrder("oc-" + string(bank))
			ord.BancoOrigenID = bank

			_, err := o.RecordPurchaseOrder(ctx, ord, decimal.Zero)

			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "bancoOrigenId", verr.Field)
			_, err = o.GetPurchaseOrder(ctx, ord.ID)
			assert.True(t, ledger.IsNotFound(err))
			_, err = o.GetParty(ctx, ord.DistribuidorID)
			assert.True(t, ledger.IsNotFound(err))
		})
	}

	t.Run("zero-delta settle with such a bank", func(t *testing.T) {
		_, err := o.RecordPurchaseOrder(ctx, standardOrder("oc-ok"), decimal.Zero)
		require.NoError(t, err)

		_, err = o.SettlePurchaseOrderPayment(ctx, "oc-ok", decimal.Zero, ledger.Utilidades)
		assert.ErrorIs(t, err, ledger.ErrValidation)
		ord, err := o.GetPurchaseOrder(ctx, "oc-ok")
		require.NoError(t, err)
		assert.Equal(t, ledger.Profit, ord.BancoOrigenID)
	})
}

func TestRecordSale_DrawsPurchaseOrderStock(t *testing.T) {
	// GIVEN: an order of 10 units with transport on top of the unit price
	// WHEN: sales reference it
	// THEN: its stock follows the sales and a shortfall books nothing
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	ord := standardOrder("oc1")
	ord.CostoTransporte = d("300")
	r, err := o.RecordPurchaseOrder(ctx, ord, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(10), r.Order.StockInicial)
	assert.Equal(t, int64(10), r.Order.StockActual)
	assert.True(t, d("48000").Equal(r.Order.Total()))
	assert.True(t, d("4800").Equal(r.Order.CostoPorUnidad()))

	first := standardSale("v1")
	first.OrdenCompraID = "oc1"
	first.Cantidad = 6
	_, err = o.RecordSale(ctx, first, decimal.Zero)
	require.NoError(t, err)
	got, err := o.GetPurchaseOrder(ctx, "oc1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.StockActual)

	t.Run("shortfall is rejected without changes", func(t *testing.T) {
		second := standardSale("v2")
		second.OrdenCompraID = "oc1"
		second.Cantidad = 5
		before := totalCapital(t, o)

		_, err := o.RecordSale(ctx, second, d("100"))

		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "cantidad", verr.Field)
		_, err = o.GetSale(ctx, "v2")
		assert.True(t, ledger.IsNotFound(err))
		got, err := o.GetPurchaseOrder(ctx, "oc1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.StockActual)
		assert.True(t, before.Equal(totalCapital(t, o)))
		client, err := o.GetParty(ctx, "cliente-1")
		require.NoError(t, err)
		assert.True(t, first.Total().Equal(client.SaldoPendiente))
	})

	t.Run("unknown order", func(t *testing.T) {
		s := standardSale("v3")
		s.OrdenCompraID = "oc-missing"
		_, err := o.RecordSale(ctx, s, decimal.Zero)
		assert.True(t, ledger.IsNotFound(err))
	})

	t.Run("deleting the sale returns the units", func(t *testing.T) {
		_, err := o.DeleteSale(ctx, "v1")
		require.NoError(t, err)
		got, err := o.GetPurchaseOrder(ctx, "oc1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.StockActual)
	})

	t.Run("cancelled order sells nothing", func(t *testing.T) {
		_, err := o.CancelPurchaseOrder(ctx, "oc1")
		require.NoError(t, err)
		s := standardSale("v4")
		s.OrdenCompraID = "oc1"
		s.Cantidad = 1
		_, err = o.RecordSale(ctx, s, decimal.Zero)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	assertInvariantEverywhere(t, o)
}

func TestDeleteSale_AfterOrderDeleted(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordPurchaseOrder(ctx, standardOrder("oc1"), decimal.Zero)
	require.NoError(t, err)
	s := standardSale("v1")
	s.OrdenCompraID = "oc1"
	_, err = o.RecordSale(ctx, s, decimal.Zero)
	require.NoError(t, err)
	_, err = o.DeletePurchaseOrder(ctx, "oc1")
	require.NoError(t, err)

	_, err = o.DeleteSale(ctx, "v1")

	require.NoError(t, err)
	_, err = o.GetSale(ctx, "v1")
	assert.True(t, ledger.IsNotFound(err))
}

func TestCancelPurchaseOrder_KeepsRecord(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Profit, "50000")
	_, err := o.RecordPurchaseOrder(ctx, standardOrder("oc1"), d("30000"))
	require.NoError(t, err)

	r, err := o.CancelPurchaseOrder(ctx, "oc1")
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderCancelled, r.Order.Estado)
	assertCapital(t, o, ledger.Profit, "50000")

	_, err = o.PayPurchaseOrder(ctx, "oc1", d("100"), ledger.Profit)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.CancelPurchaseOrder(ctx, "oc1")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// Deleting a cancelled order must not compensate twice
	_, err = o.DeletePurchaseOrder(ctx, "oc1")
	require.NoError(t, err)
	assertCapital(t, o, ledger.Profit, "50000")

	dist, err := o.GetParty(ctx, "dist-1")
	require.NoError(t, err)
	assert.True(t, dist.SaldoPendiente.IsZero())
	assertInvariantEverywhere(t, o)
}

// =============================================================================
// MANUAL MOVEMENTS & CLIENT PAYMENTS
// =============================================================================

func TestRecordExpense_RequiresFunds(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Azteca, "500")

	_, err := o.RecordExpense(ctx, ledger.Azteca, d("600"), "renta")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = o.RecordExpense(ctx, ledger.Azteca, d("200"), "renta")
	require.NoError(t, err)

	a, err := o.GetAccount(ctx, ledger.Azteca)
	require.NoError(t, err)
	assert.True(t, d("500").Equal(a.HistoricoIngresos))
	assert.True(t, d("200").Equal(a.HistoricoGastos))
	assert.True(t, d("300").Equal(a.CapitalActual))
}

func TestRecordClientPayment(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	_, err := o.RecordSale(ctx, standardSale("v1"), d("0"))
	require.NoError(t, err)

	r, err := o.RecordClientPayment(ctx, ledger.ClientPayment{ClienteID: "cliente-1", AccountID: ledger.Azteca, Amount: d("30000")})
	require.NoError(t, err)
	assert.True(t, d("70000").Equal(r.Client.SaldoPendiente))
	assertCapital(t, o, ledger.Azteca, "30000")
	require.Len(t, r.Movements, 1)
	assert.Equal(t, ledger.MovAbono, r.Movements[0].Kind)

	_, err = o.RecordClientPayment(ctx, ledger.ClientPayment{ClienteID: "cliente-1", AccountID: ledger.Azteca, Amount: d("70000.01")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.RecordClientPayment(ctx, ledger.ClientPayment{ClienteID: "nadie", AccountID: ledger.Azteca, Amount: d("1")})
	assert.True(t, ledger.IsNotFound(err))
}

func TestInactiveAccount_RejectsNewMovements(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Leftie, "100")

	a, err := o.SetAccountActive(ctx, ledger.Profit, false)
	require.NoError(t, err)
	assert.False(t, a.Active)

	_, err = o.RecordIncome(ctx, ledger.Profit, d("10"), "")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = o.Transfer(ctx, ledger.TransferRequest{From: ledger.Leftie, To: ledger.Profit, Amount: d("10")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assertCapital(t, o, ledger.Leftie, "100")

	_, err = o.SetAccountActive(ctx, ledger.Profit, true)
	require.NoError(t, err)
	_, err = o.RecordIncome(ctx, ledger.Profit, d("10"), "")
	assert.NoError(t, err)
}

// =============================================================================
// CONCURRENCY & RETRIES
// =============================================================================

// flakyStore fails the first n transactions with a store conflict.
type flakyStore struct {
	*store.TxMemory
	failures int32
	calls    atomic.Int32
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if f.calls.Add(1) <= f.failures {
		return ledger.ErrConcurrentModification
	}
	return f.TxMemory.WithTx(ctx, fn)
}

type countingRecorder struct {
	mu         sync.Mutex
	results    map[string]int
	retries    int
	violations int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{results: make(map[string]int)}
}

func (r *countingRecorder) ObserveOperation(_, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result]++
}

func (r *countingRecorder) ObserveRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) ObserveConsistencyViolation(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations++
}

func TestRetry_SucceedsAfterTransientConflicts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	rec := newCountingRecorder()
	o := ledger.NewOrchestrator(mem, ledger.WithClock(fixedClock), ledger.WithRetryPolicy(testRetry()))
	require.NoError(t, o.Seed(ctx))

	flaky := &flakyStore{TxMemory: mem, failures: 2}
	o = ledger.NewOrchestrator(flaky, ledger.WithClock(fixedClock), ledger.WithRetryPolicy(testRetry()), ledger.WithRecorder(rec))

	_, err := o.RecordIncome(ctx, ledger.Profit, d("100"), "")
	require.NoError(t, err)

	assert.Equal(t, 2, rec.retries)
	assert.Equal(t, 1, rec.results["committed"])
	assertCapital(t, o, ledger.Profit, "100")
}

func TestRetry_Exhausted_ReturnsConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	flaky := &flakyStore{TxMemory: mem, failures: 100}
	rec := newCountingRecorder()
	o := ledger.NewOrchestrator(flaky, ledger.WithClock(fixedClock), ledger.WithRetryPolicy(testRetry()), ledger.WithRecorder(rec))

	_, err := o.RecordIncome(ctx, ledger.Profit, d("100"), "")

	var cce *ledger.ConcurrencyConflictError
	require.ErrorAs(t, err, &cce)
	assert.Equal(t, 3, cce.Attempts)
	assert.ErrorIs(t, cce.Last, ledger.ErrConcurrentModification)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, 1, rec.results["conflict"])
}

func TestContextCancelled_BeforeStart(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.RecordIncome(ctx, ledger.Profit, d("100"), "")

	assert.ErrorIs(t, err, context.Canceled)
	assertCapital(t, o, ledger.Profit, "0")
}

func TestContextCancelled_BeforeCommit_RollsBack(t *testing.T) {
	// GIVEN: The caller gives up while the transaction is running
	// THEN: Nothing is committed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := store.NewTxMemory()
	require.NoError(t, ledger.NewOrchestrator(mem).Seed(context.Background()))

	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			cancel()
		}
		return testNow
	}
	o := ledger.NewOrchestrator(mem, ledger.WithClock(clock), ledger.WithRetryPolicy(testRetry()))

	_, err := o.RecordIncome(ctx, ledger.Profit, d("100"), "")

	assert.ErrorIs(t, err, context.Canceled)
	a, err := mem.GetAccount(context.Background(), ledger.Profit)
	require.NoError(t, err)
	assert.True(t, a.CapitalActual.IsZero())
	ms, err := mem.MovementsByAccount(context.Background(), ledger.Profit)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestConcurrentTransfers_NeverOverdraw(t *testing.T) {
	// GIVEN: profit holds 300
	// WHEN: 50 goroutines each transfer 10 to leftie
	// THEN: Exactly 30 succeed and no account goes negative

	ctx := context.Background()
	o, _ := newTestOrchestrator(t)
	fund(t, o, ledger.Profit, "300")

	var wg sync.WaitGroup
	var ok, short atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Transfer(ctx, ledger.TransferRequest{From: ledger.Profit, To: ledger.Leftie, Amount: d("10")})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), ok.Load())
	assert.Equal(t, int32(20), short.Load())
	assertCapital(t, o, ledger.Profit, "0")
	assertCapital(t, o, ledger.Leftie, "300")
	assertInvariantEverywhere(t, o)
}

// =============================================================================
// AUDIT & DEFECTS
// =============================================================================

func TestAudit_DetectsDriftedCounters(t *testing.T) {
	ctx := context.Background()
	rec := newCountingRecorder()
	o, s := newTestOrchestrator(t, ledger.WithRecorder(rec))
	fund(t, o, ledger.Profit, "100")

	// Tamper behind the orchestrator's back
	a, err := s.GetAccount(ctx, ledger.Profit)
	require.NoError(t, err)
	a.HistoricoIngresos = a.HistoricoIngresos.Add(d("5"))
	a.CapitalActual = a.CapitalActual.Add(d("5"))
	_, err = s.PutAccount(ctx, a)
	require.NoError(t, err)

	report, err := o.Audit(ctx)

	assert.True(t, ledger.IsDefect(err))
	assert.False(t, report.OK())
	require.Len(t, report.Violations(), 1)
	assert.Equal(t, ledger.Profit, report.Violations()[0].AccountID)
	assert.Equal(t, "replay_ingresos", report.Violations()[0].Check)
	assert.Equal(t, 1, rec.violations)
}

func TestDeletePurchaseOrder_LogMismatch_IsConsistencyViolation(t *testing.T) {
	ctx := context.Background()
	rec := newCountingRecorder()
	o, s := newTestOrchestrator(t, ledger.WithRecorder(rec))
	fund(t, o, ledger.Profit, "50000")
	_, err := o.RecordPurchaseOrder(ctx, standardOrder("oc1"), d("30000"))
	require.NoError(t, err)

	// A stray movement under the order's reference
	require.NoError(t, s.AppendMovements(ctx, ledger.Movement{
		ID: "stray", AccountID: ledger.Profit, Kind: ledger.MovPago, Amount: d("1"),
		Timestamp: testNow, Reference: ledger.OrderRef("oc1"),
	}))

	_, err = o.DeletePurchaseOrder(ctx, "oc1")

	assert.True(t, ledger.IsDefect(err))
	assert.Equal(t, 1, rec.violations)
	_, err = o.GetPurchaseOrder(ctx, "oc1")
	assert.NoError(t, err, "aborted deletion leaves the order in place")
}

func TestReads_AreIdempotentBetweenWrites(t *testing.T) {
	backends := map[string]func(t *testing.T) ledger.TxStore{
		"memory": func(t *testing.T) ledger.TxStore { return store.NewTxMemory() },
		"sqlite": func(t *testing.T) ledger.TxStore {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := ledger.NewOrchestrator(newStore(t), ledger.WithClock(fixedClock), ledger.WithRetryPolicy(testRetry()))
			require.NoError(t, o.Seed(ctx))

			// GIVEN: some history on two accounts
			fund(t, o, ledger.BovedaMonte, "1000")
			_, err := o.Transfer(ctx, ledger.TransferRequest{From: ledger.BovedaMonte, To: ledger.Azteca, Amount: d("250")})
			require.NoError(t, err)

			// WHEN: the same reads run twice with no write in between
			a1, err := o.GetAccount(ctx, ledger.BovedaMonte)
			require.NoError(t, err)
			a2, err := o.GetAccount(ctx, ledger.BovedaMonte)
			require.NoError(t, err)
			l1, err := o.ListAccounts(ctx)
			require.NoError(t, err)
			l2, err := o.ListAccounts(ctx)
			require.NoError(t, err)

			// THEN: they agree field for field, versions included
			assert.Equal(t, a1, a2)
			assert.Equal(t, a1.Version, a2.Version)
			assert.Equal(t, l1, l2)
			require.Len(t, l1, 7)
			assert.Equal(t, a1, l1[0])

			// AND: a write moves the version forward
			fund(t, o, ledger.BovedaMonte, "1")
			a3, err := o.GetAccount(ctx, ledger.BovedaMonte)
			require.NoError(t, err)
			assert.Greater(t, a3.Version, a1.Version)
		})
	}
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, ledger.Result{Success: true}, ledger.ResultOf(nil))

	r := ledger.ResultOf(&ledger.SameAccountError{AccountID: ledger.Profit})
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "profit")
}
