/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	operations for demos and manual testing. Every scenario goes through
	the Orchestrator, so the data it leaves behind satisfies the same
	invariants as real usage and passes the audit.

AVAILABLE SCENARIOS:

	inicio-limpio:     Seven empty accounts
	operacion-basica:  Opening capital, a paid and a partial sale, a
	                   purchase order, a transfer
	credito-clientes:  Clients with credit limits, partial sales, abonos
	venta-con-perdida: A sale below cost (utilidades debited)

HOW SCENARIOS WORK:
 1. Reset the store (when a Resetter is configured)
 2. Seed the seven accounts
 3. Replay the scenario's operations

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "operacion-basica"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Ledger handlers
  - cmd/server/main.go: SEED_SCENARIO at startup
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/chronos-ledger/ledger"
	"github.com/warp/chronos-ledger/purchasing"
	"github.com/warp/chronos-ledger/sales"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "inicio-limpio",
		Name:        "Inicio limpio",
		Description: "Las siete cuentas en cero",
	},
	{
		ID:          "operacion-basica",
		Name:        "Operación básica",
		Description: "Capital inicial, venta pagada, venta parcial, orden de compra y transferencia",
	},
	{
		ID:          "credito-clientes",
		Name:        "Crédito a clientes",
		Description: "Clientes con límite de crédito, ventas parciales y abonos",
	},
	{
		ID:          "venta-con-perdida",
		Name:        "Venta con pérdida",
		Description: "Venta por debajo del costo: utilidades negativas",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"inicio-limpio":     func(*Handler, context.Context) error { return nil },
	"operacion-basica":  (*Handler).loadBasicOperationScenario,
	"credito-clientes":  (*Handler).loadClientCreditScenario,
	"venta-con-perdida": (*Handler).loadLossSaleScenario,
}

// Scenarios returns the available scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeOK(w, http.StatusOK, s)
			return
		}
	}
	writeOK(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// Load resets the store and replays a scenario. Loads are serialized.
func (h *Handler) Load(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return &ledger.ValidationError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", id)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = ""

	if h.Resetter != nil {
		if err := h.Resetter.Reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	if err := h.Ledger.Seed(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if err := load(h, ctx); err != nil {
		return err
	}

	h.currentScenario = id
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scenarioDate(day int) time.Time {
	return time.Date(2025, time.March, day, 10, 0, 0, 0, time.UTC)
}

func (h *Handler) openingCapital(ctx context.Context, amounts map[ledger.AccountID]string) error {
	for _, id := range ledger.AllAccountIDs() {
		amount, ok := amounts[id]
		if !ok {
			continue
		}
		if _, err := h.Ledger.RecordIncome(ctx, id, dec(amount), "Capital inicial"); err != nil {
			return fmt.Errorf("opening capital %s: %w", id, err)
		}
	}
	return nil
}

func (h *Handler) loadBasicOperationScenario(ctx context.Context) error {
	if err := h.openingCapital(ctx, map[ledger.AccountID]string{
		ledger.BovedaMonte: "500000",
		ledger.Profit:      "200000",
		ledger.Azteca:      "50000",
	}); err != nil {
		return err
	}

	if _, err := h.Ledger.RegisterParty(ctx, "dist-norte", ledger.PartyDistributor, "Distribuidora del Norte", decimal.Zero); err != nil {
		return err
	}
	if _, err := h.Purchases.Create(ctx, purchasing.NewOrder{
		ID: "OC-0001", DistribuidorID: "dist-norte", Fecha: scenarioDate(1),
		Cantidad: 25, PrecioUnitario: dec("4500"), MontoPagado: dec("30000"),
		BancoOrigenID: ledger.Profit,
	}); err != nil {
		return fmt.Errorf("purchase order: %w", err)
	}

	if _, err := h.Ledger.RegisterParty(ctx, "cli-bodega", ledger.PartyClient, "Bodega Central", decimal.Zero); err != nil {
		return err
	}
	if _, err := h.Sales.Create(ctx, sales.NewSale{
		ID: "V-0001", ClienteID: "cli-bodega", OrdenCompraID: "OC-0001", Fecha: scenarioDate(2),
		Cantidad: 10, PrecioVentaUnidad: dec("10000"), PrecioCompraUnidad: dec("6300"),
		MontoPagado: dec("100000"),
	}); err != nil {
		return fmt.Errorf("paid sale: %w", err)
	}
	if _, err := h.Sales.Create(ctx, sales.NewSale{
		ID: "V-0002", ClienteID: "cli-bodega", OrdenCompraID: "OC-0001", Fecha: scenarioDate(3),
		Cantidad: 10, PrecioVentaUnidad: dec("10000"), PrecioCompraUnidad: dec("6300"),
		MontoPagado: dec("25000"),
	}); err != nil {
		return fmt.Errorf("partial sale: %w", err)
	}

	_, err := h.Ledger.Transfer(ctx, ledger.TransferRequest{
		From: ledger.Utilidades, To: ledger.Leftie, Amount: dec("20000"), Concept: "Retiro de utilidades",
	})
	return err
}

func (h *Handler) loadClientCreditScenario(ctx context.Context) error {
	if err := h.openingCapital(ctx, map[ledger.AccountID]string{
		ledger.BovedaMonte: "250000",
	}); err != nil {
		return err
	}

	clients := []struct {
		id     ledger.PartyID
		nombre string
		limite string
	}{
		{"cli-abarrotes", "Abarrotes Lupita", "150000"},
		{"cli-ferreteria", "Ferretería El Clavo", "60000"},
		{"cli-contado", "Cliente de contado", "0"},
	}
	for _, c := range clients {
		if _, err := h.Ledger.RegisterParty(ctx, c.id, ledger.PartyClient, c.nombre, dec(c.limite)); err != nil {
			return err
		}
	}

	if _, err := h.Sales.Create(ctx, sales.NewSale{
		ID: "V-0101", ClienteID: "cli-abarrotes", Fecha: scenarioDate(5),
		Cantidad: 12, PrecioVentaUnidad: dec("9500"), PrecioCompraUnidad: dec("6300"),
		MontoPagado: dec("40000"),
	}); err != nil {
		return fmt.Errorf("credit sale: %w", err)
	}
	if _, err := h.Sales.PayClient(ctx, sales.ClientPayment{
		ClienteID: "cli-abarrotes", SaleID: "V-0101", Amount: dec("30000"),
	}); err != nil {
		return fmt.Errorf("sale abono: %w", err)
	}

	if _, err := h.Sales.Create(ctx, sales.NewSale{
		ID: "V-0102", ClienteID: "cli-ferreteria", Fecha: scenarioDate(6),
		Cantidad: 5, PrecioVentaUnidad: dec("11000"), PrecioCompraUnidad: dec("6800"),
	}); err != nil {
		return fmt.Errorf("unpaid sale: %w", err)
	}
	_, err := h.Sales.PayClient(ctx, sales.ClientPayment{
		ClienteID: "cli-ferreteria", AccountID: ledger.Azteca, Amount: dec("15000"),
		Concept: "Abono a cuenta general",
	})
	return err
}

func (h *Handler) loadLossSaleScenario(ctx context.Context) error {
	if err := h.openingCapital(ctx, map[ledger.AccountID]string{
		ledger.Utilidades: "10000",
	}); err != nil {
		return err
	}
	// 10 units at 1100: cost 8000, freight 5000, profit -2000.
	_, err := h.Sales.Create(ctx, sales.NewSale{
		ID: "V-0201", ClienteID: "cli-remate", Fecha: scenarioDate(8),
		Cantidad: 10, PrecioVentaUnidad: dec("1100"), PrecioCompraUnidad: dec("800"),
		MontoPagado: dec("11000"),
	})
	return err
}
