/*
audit.go - Replay-based consistency audit

PURPOSE:
  Account counters are a denormalized fold of the movement log. Audit
  recomputes them from the log and compares, so a drifted counter or a
  broken derived-value invariant is detected instead of silently served.

CHECKS (per account):
  1. Stored account satisfies Verify() (capital == ingresos - gastos,
     counters non-negative)
  2. Replay(movements).ingresos == HistoricoIngresos
  3. Replay(movements).gastos   == HistoricoGastos
  4. CapitalActual >= 0

  Any failure is a ConsistencyViolationError: a defect, never expected.

USAGE:
  report, err := orch.Audit(ctx)
  if ledger.IsDefect(err) { ... alert ... }

SEE ALSO:
  - movements.go: Replay
  - api/scheduler.go: Periodic audit
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountAudit is the audit result for one account.
type AccountAudit struct {
	AccountID        AccountID
	Stored           Account
	ReplayedIngresos decimal.Decimal
	ReplayedGastos   decimal.Decimal
	Movements        int
	Violation        *ConsistencyViolationError
}

func (a AccountAudit) OK() bool { return a.Violation == nil }

type AuditReport struct {
	CheckedAt    time.Time
	Accounts     []AccountAudit
	TotalCapital decimal.Decimal
}

// Violations returns the failed checks, one per inconsistent account.
func (r AuditReport) Violations() []*ConsistencyViolationError {
	var out []*ConsistencyViolationError
	for _, a := range r.Accounts {
		if a.Violation != nil {
			out = append(out, a.Violation)
		}
	}
	return out
}

func (r AuditReport) OK() bool { return len(r.Violations()) == 0 }

// Audit replays every account's movements inside one transaction and
// compares the result with the stored counters. It returns the full report
// and, if anything is inconsistent, the first violation as the error.
func (o *Orchestrator) Audit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{CheckedAt: o.clock().UTC(), TotalCapital: decimal.Zero}

	err := o.store.WithTx(ctx, func(s Store) error {
		for _, id := range AllAccountIDs() {
			acct, err := s.GetAccount(ctx, id)
			if err != nil {
				return fmt.Errorf("audit %s: %w", id, err)
			}
			ms, err := s.MovementsByAccount(ctx, id)
			if err != nil {
				return fmt.Errorf("audit %s movements: %w", id, err)
			}
			report.Accounts = append(report.Accounts, auditAccount(acct, ms))
			report.TotalCapital = report.TotalCapital.Add(acct.CapitalActual)
		}
		return nil
	})
	if err != nil {
		o.fail("audit", err)
		return AuditReport{}, err
	}

	if vs := report.Violations(); len(vs) > 0 {
		for _, v := range vs[1:] {
			o.log.Error().Err(v).Str("op", "audit").Bool("alert", true).Msg("ledger consistency violation")
			o.metrics.ObserveConsistencyViolation("audit")
		}
		o.fail("audit", vs[0])
		return report, vs[0]
	}
	o.metrics.ObserveOperation("audit", "committed")
	o.log.Info().
		Int("accounts", len(report.Accounts)).
		Str("total_capital", report.TotalCapital.String()).
		Msg("ledger audit passed")
	return report, nil
}

func auditAccount(acct Account, ms []Movement) AccountAudit {
	in, out := Replay(ms)
	a := AccountAudit{
		AccountID:        acct.ID,
		Stored:           acct,
		ReplayedIngresos: in,
		ReplayedGastos:   out,
		Movements:        len(ms),
	}

	if err := acct.Verify(); err != nil {
		if !errors.As(err, &a.Violation) {
			a.Violation = &ConsistencyViolationError{AccountID: acct.ID, Check: "verify", Detail: err.Error()}
		}
		return a
	}
	switch {
	case !in.Equal(acct.HistoricoIngresos):
		a.Violation = &ConsistencyViolationError{AccountID: acct.ID, Check: "replay_ingresos",
			Detail: fmt.Sprintf("stored %s, replayed %s", acct.HistoricoIngresos, in)}
	case !out.Equal(acct.HistoricoGastos):
		a.Violation = &ConsistencyViolationError{AccountID: acct.ID, Check: "replay_gastos",
			Detail: fmt.Sprintf("stored %s, replayed %s", acct.HistoricoGastos, out)}
	case acct.CapitalActual.IsNegative():
		a.Violation = &ConsistencyViolationError{AccountID: acct.ID, Check: "capital_non_negative",
			Detail: fmt.Sprintf("capital %s", acct.CapitalActual)}
	}
	return a
}
