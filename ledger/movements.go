/*
movements.go - Append-only movement log

PURPOSE:
  The movement log records every credit, debit and transfer applied to an
  account, with a reference back to the business event that caused it.
  Account counters are a denormalized fold of this log; Replay recomputes
  them and Audit (audit.go) compares the two.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. SAME UNIT: A movement is written in the same transaction as the
     account change it records.
  3. COMPENSATION: Reversals append a movement with Reversal=true; the
     original stays in the log.

EXAMPLE FLOW (purchase order paid then deleted):
  1. pago 30000 on profit          -> gastos +30000
  2. pago 30000 on profit, reversal -> gastos -30000
  Replay(profit) = net 0, and both entries remain visible.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MovementLog is the read surface of the movement log.
type MovementLog struct {
	store MovementStore
}

func NewMovementLog(store MovementStore) *MovementLog {
	return &MovementLog{store: store}
}

// ListByAccount returns every movement of an account, oldest first.
func (l *MovementLog) ListByAccount(ctx context.Context, id AccountID) ([]Movement, error) {
	if !id.Valid() {
		_, err := ParseAccountID(string(id))
		return nil, err
	}
	return l.store.MovementsByAccount(ctx, id)
}

// ListByReference returns every movement caused by one business event.
func (l *MovementLog) ListByReference(ctx context.Context, ref string) ([]Movement, error) {
	if ref == "" {
		return nil, &ValidationError{Field: "reference", Reason: "required"}
	}
	return l.store.MovementsByReference(ctx, ref)
}

// Replay folds movements into counter totals.
func Replay(ms []Movement) (ingresos, gastos decimal.Decimal) {
	ingresos, gastos = decimal.Zero, decimal.Zero
	for _, m := range ms {
		in, out := m.Effect()
		ingresos = ingresos.Add(in)
		gastos = gastos.Add(out)
	}
	return ingresos, gastos
}

// Outstanding returns the movements that have not been compensated yet,
// excluding the compensating movements themselves.
func Outstanding(ms []Movement) []Movement {
	reversed := make(map[MovementID]bool)
	for _, m := range ms {
		if m.Reversal {
			reversed[m.ReversesID] = true
		}
	}
	var out []Movement
	for _, m := range ms {
		if !m.Reversal && !reversed[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// NetByAccount sums the capital effect of movements per account.
func NetByAccount(ms []Movement) map[AccountID]decimal.Decimal {
	net := make(map[AccountID]decimal.Decimal)
	for _, m := range ms {
		cur, ok := net[m.AccountID]
		if !ok {
			cur = decimal.Zero
		}
		net[m.AccountID] = cur.Add(m.Net())
	}
	return net
}

// compensation builds the movement that undoes m.
func compensation(m Movement, id MovementID, at time.Time, concept string) Movement {
	return Movement{
		ID:                   id,
		AccountID:            m.AccountID,
		Kind:                 m.Kind,
		Amount:               m.Amount,
		Timestamp:            at,
		Concept:              concept,
		Reference:            m.Reference,
		CounterpartAccountID: m.CounterpartAccountID,
		Reversal:             true,
		ReversesID:           m.ID,
	}
}
