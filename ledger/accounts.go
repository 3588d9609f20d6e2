/*
accounts.go - The fixed registry of capital accounts

PURPOSE:
  CHRONOS tracks capital in exactly seven accounts ("bancos" / "bovedas").
  They are never created or destroyed at runtime. AccountID is a closed
  enumeration: every string coming from outside the package goes through
  ParseAccountID before it reaches the Orchestrator.

THE SEVEN ACCOUNTS:
  boveda_monte  Main vault (MXN), receives the COST bucket of every sale
  boveda_usa    USD vault
  profit        Operating bank
  leftie        Operating bank
  azteca        Operating bank
  flete_sur     Freight account, receives the FREIGHT bucket of every sale
  utilidades    Profit account, receives the PROFIT bucket of every sale

GYA DISTRIBUTION:
  Only boveda_monte, flete_sur and utilidades receive sale proceeds.
  See distribution.go.

SEE ALSO:
  - types.go: Account state (counters, invariant)
  - distribution.go: How a sale splits across the GYA accounts
*/
package ledger

import (
	"fmt"
	"strings"
)

// =============================================================================
// ACCOUNT IDENTIFIERS
// =============================================================================

// AccountID identifies one of the seven fixed accounts.
type AccountID string

const (
	BovedaMonte AccountID = "boveda_monte"
	BovedaUSA   AccountID = "boveda_usa"
	Profit      AccountID = "profit"
	Leftie      AccountID = "leftie"
	Azteca      AccountID = "azteca"
	FleteSur    AccountID = "flete_sur"
	Utilidades  AccountID = "utilidades"
)

// AccountKind groups accounts by what they are used for.
type AccountKind string

const (
	KindVault     AccountKind = "boveda"
	KindOperating AccountKind = "operativo"
	KindExpenses  AccountKind = "gastos"
	KindProfits   AccountKind = "utilidades"
)

// Currency is informational only. Conversion happens before amounts reach
// the ledger.
type Currency string

const (
	MXN Currency = "MXN"
	USD Currency = "USD"
)

// AccountConfig is the static description of an account.
type AccountConfig struct {
	ID            AccountID
	Name          string
	Kind          AccountKind
	Currency      Currency
	Description   string
	ReceivesSales bool // part of the GYA distribution
	PaysSuppliers bool // may fund purchase-order payments
	Order         int
}

var registry = []AccountConfig{
	{ID: BovedaMonte, Name: "Bóveda Monte", Kind: KindVault, Currency: MXN, Description: "Bóveda principal - recuperación de costos", ReceivesSales: true, PaysSuppliers: true, Order: 1},
	{ID: BovedaUSA, Name: "Bóveda USA", Kind: KindVault, Currency: USD, Description: "Bóveda para operaciones en dólares", Order: 2},
	{ID: Profit, Name: "Profit", Kind: KindOperating, Currency: MXN, Description: "Banco operativo principal", PaysSuppliers: true, Order: 3},
	{ID: Leftie, Name: "Leftie", Kind: KindOperating, Currency: MXN, Description: "Banco operativo secundario", PaysSuppliers: true, Order: 4},
	{ID: Azteca, Name: "Azteca", Kind: KindOperating, Currency: MXN, Description: "Banco Azteca", PaysSuppliers: true, Order: 5},
	{ID: FleteSur, Name: "Flete Sur", Kind: KindExpenses, Currency: MXN, Description: "Acumulado de gastos de flete", ReceivesSales: true, Order: 6},
	{ID: Utilidades, Name: "Utilidades", Kind: KindProfits, Currency: MXN, Description: "Ganancias netas del negocio", ReceivesSales: true, Order: 7},
}

// DistributionAccounts are the accounts that receive sale proceeds, in
// bucket order (cost, freight, profit).
var DistributionAccounts = [3]AccountID{BovedaMonte, FleteSur, Utilidades}

// AllAccountIDs returns the seven account ids in display order.
func AllAccountIDs() []AccountID {
	ids := make([]AccountID, len(registry))
	for i, c := range registry {
		ids[i] = c.ID
	}
	return ids
}

// Accounts returns a copy of the registry in display order.
func Accounts() []AccountConfig {
	out := make([]AccountConfig, len(registry))
	copy(out, registry)
	return out
}

// Valid reports whether id is one of the seven fixed accounts.
func (id AccountID) Valid() bool {
	_, ok := lookup(id)
	return ok
}

// Config returns the static configuration of the account.
// The zero value is returned for unknown ids.
func (id AccountID) Config() AccountConfig {
	c, _ := lookup(id)
	return c
}

func (id AccountID) String() string { return string(id) }

// ParseAccountID converts external input to an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	id := AccountID(strings.TrimSpace(s))
	if !id.Valid() {
		return "", &ValidationError{
			Field:  "account",
			Reason: fmt.Sprintf("unknown account %q (valid: %s)", s, validIDs()),
		}
	}
	return id, nil
}

func lookup(id AccountID) (AccountConfig, bool) {
	for _, c := range registry {
		if c.ID == id {
			return c, true
		}
	}
	return AccountConfig{}, false
}

func validIDs() string {
	names := make([]string, len(registry))
	for i, c := range registry {
		names[i] = string(c.ID)
	}
	return strings.Join(names, ", ")
}
