/*
transfers.go - Transfers, manual movements and client payments

PURPOSE:
  Operations that move money without a sale or purchase order behind them.

TRANSFER:
  origin:      transferencia_salida, historicoGastos += amount
  destination: transferencia_entrada, historicoIngresos += amount
  Both movements share one reference. Total capital is unchanged.

CHECK ORDER:
  1. origin == destination -> SameAccountError (regardless of balance)
  2. amount <= 0           -> ValidationError
  3. origin capital short  -> InsufficientFundsError
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type TransferRequest struct {
	From    AccountID
	To      AccountID
	Amount  decimal.Decimal
	Concept string
}

// Transfer moves amount from one account to another.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (Receipt, error) {
	if req.From == req.To {
		return Receipt{}, &SameAccountError{AccountID: req.From}
	}
	if _, err := ParseAccountID(string(req.From)); err != nil {
		return Receipt{}, err
	}
	if _, err := ParseAccountID(string(req.To)); err != nil {
		return Receipt{}, err
	}
	if err := validateAmount("amount", req.Amount); err != nil {
		return Receipt{}, err
	}

	ref := TransferRef(o.newID())
	concept := req.Concept
	if concept == "" {
		concept = fmt.Sprintf("Transferencia %s -> %s", req.From, req.To)
	}
	u, err := o.run(ctx, "transfer", func(u *unit) error {
		if err := u.requireFunds(req.From, req.Amount); err != nil {
			return err
		}
		if err := u.requireActive(req.To); err != nil {
			return err
		}
		if _, err := u.book(req.From, MovTransferenciaSalida, req.Amount, concept, ref, req.To); err != nil {
			return err
		}
		_, err := u.book(req.To, MovTransferenciaEntrada, req.Amount, concept, ref, req.From)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	return u.receipt(ref), nil
}

// RecordIncome books a manual ingreso on one account.
func (o *Orchestrator) RecordIncome(ctx context.Context, id AccountID, amount decimal.Decimal, concept string) (Receipt, error) {
	return o.manual(ctx, "record_income", id, MovIngreso, amount, concept)
}

// RecordExpense books a manual gasto on one account. The account must
// cover it.
func (o *Orchestrator) RecordExpense(ctx context.Context, id AccountID, amount decimal.Decimal, concept string) (Receipt, error) {
	return o.manual(ctx, "record_expense", id, MovGasto, amount, concept)
}

func (o *Orchestrator) manual(ctx context.Context, op string, id AccountID, kind MovementKind, amount decimal.Decimal, concept string) (Receipt, error) {
	if _, err := ParseAccountID(string(id)); err != nil {
		return Receipt{}, err
	}
	if err := validateAmount("amount", amount); err != nil {
		return Receipt{}, err
	}
	if concept == "" {
		concept = string(kind)
	}

	ref := ManualRef(o.newID())
	u, err := o.run(ctx, op, func(u *unit) error {
		if !kind.Credits() {
			if err := u.requireFunds(id, amount); err != nil {
				return err
			}
		}
		_, err := u.book(id, kind, amount, concept, ref, "")
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	return u.receipt(ref), nil
}

type ClientPayment struct {
	ClienteID PartyID
	AccountID AccountID
	Amount    decimal.Decimal
	Concept   string
}

// ClientPaymentReceipt is the result of RecordClientPayment.
type ClientPaymentReceipt struct {
	Receipt
	Client Party
}

// RecordClientPayment books an abono that is not tied to a sale: the
// account is credited and the client's debt reduced by the same amount.
func (o *Orchestrator) RecordClientPayment(ctx context.Context, p ClientPayment) (ClientPaymentReceipt, error) {
	if p.ClienteID == "" {
		return ClientPaymentReceipt{}, &ValidationError{Field: "clienteId", Reason: "required"}
	}
	if _, err := ParseAccountID(string(p.AccountID)); err != nil {
		return ClientPaymentReceipt{}, err
	}
	if err := validateAmount("amount", p.Amount); err != nil {
		return ClientPaymentReceipt{}, err
	}
	concept := p.Concept
	if concept == "" {
		concept = fmt.Sprintf("Abono cliente %s", p.ClienteID)
	}

	ref := ClientPaymentRef(o.newID())
	var client Party
	u, err := o.run(ctx, "record_client_payment", func(u *unit) error {
		if _, err := u.store.GetParty(u.ctx, p.ClienteID); err != nil {
			return err
		}
		c, err := u.party(p.ClienteID, PartyClient)
		if err != nil {
			return err
		}
		if p.Amount.GreaterThan(c.SaldoPendiente) {
			return &ValidationError{Field: "amount",
				Reason: fmt.Sprintf("payment %s exceeds outstanding debt %s", p.Amount, c.SaldoPendiente)}
		}
		if _, err := u.book(p.AccountID, MovAbono, p.Amount, concept, ref, ""); err != nil {
			return err
		}
		c, err = u.adjustSaldo(p.ClienteID, PartyClient, p.Amount.Neg())
		if err != nil {
			return err
		}
		client = *c
		return nil
	})
	if err != nil {
		return ClientPaymentReceipt{}, err
	}
	return ClientPaymentReceipt{Receipt: u.receipt(ref), Client: client}, nil
}
