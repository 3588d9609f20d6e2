/*
apply.go - Transaction-scoped unit of work

PURPOSE:
  Every Orchestrator operation runs against a unit: a per-transaction view
  that loads accounts and parties once, applies deltas in memory, and
  writes everything in flush(). Preconditions are therefore always
  evaluated before the first store write, and an aborted operation leaves
  zero partial effects even before the store rolls back.

PHASES:
  Validating  - operation checks its inputs (before a unit exists)
  Checking    - unit loads state; applyDelta rejects overdrafts
  Applying    - flush verifies every touched account and writes
  Committed   - the store commits the transaction
  Aborted     - any error; the store rolls back

ACCOUNT STORE CONTRACT:
  applyDelta(id, ingresoDelta, gastoDelta) is the only way account state
  changes. It recomputes capital from the counters and refuses to leave
  capital negative when the delta reduces it.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type unit struct {
	ctx   context.Context
	store Store
	now   time.Time
	newID func() string

	accounts     map[AccountID]*Account
	accountOrder []AccountID
	dirty        map[AccountID]bool

	parties    map[PartyID]*Party
	partyOrder []PartyID

	movements []Movement
	staged    []func(context.Context, Store) error
}

func newUnit(ctx context.Context, store Store, now time.Time, newID func() string) *unit {
	return &unit{
		ctx:      ctx,
		store:    store,
		now:      now,
		newID:    newID,
		accounts: make(map[AccountID]*Account),
		dirty:    make(map[AccountID]bool),
		parties:  make(map[PartyID]*Party),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (u *unit) account(id AccountID) (*Account, error) {
	if a, ok := u.accounts[id]; ok {
		return a, nil
	}
	if _, err := ParseAccountID(string(id)); err != nil {
		return nil, err
	}
	a, err := u.store.GetAccount(u.ctx, id)
	if err != nil {
		return nil, err
	}
	u.accounts[id] = &a
	u.accountOrder = append(u.accountOrder, id)
	return &a, nil
}

// applyDelta moves both counters of one account.
func (u *unit) applyDelta(id AccountID, ingresoDelta, gastoDelta decimal.Decimal) (Account, error) {
	a, err := u.account(id)
	if err != nil {
		return Account{}, err
	}
	next := a.withDelta(ingresoDelta, gastoDelta)
	if next.CapitalActual.IsNegative() && next.CapitalActual.LessThan(a.CapitalActual) {
		requested := a.CapitalActual.Sub(next.CapitalActual)
		return Account{}, &InsufficientFundsError{
			AccountID: id,
			Available: a.CapitalActual,
			Requested: requested,
			Shortfall: requested.Sub(a.CapitalActual),
		}
	}
	*a = next
	u.dirty[id] = true
	return next, nil
}

// requireFunds fails unless the account can cover amount right now.
func (u *unit) requireFunds(id AccountID, amount decimal.Decimal) error {
	a, err := u.account(id)
	if err != nil {
		return err
	}
	if a.CapitalActual.LessThan(amount) {
		return &InsufficientFundsError{
			AccountID: id,
			Available: a.CapitalActual,
			Requested: amount,
			Shortfall: amount.Sub(a.CapitalActual),
		}
	}
	return nil
}

func (u *unit) requireActive(id AccountID) error {
	a, err := u.account(id)
	if err != nil {
		return err
	}
	if !a.Active {
		return &ValidationError{Field: "account", Reason: fmt.Sprintf("account %s is inactive", id)}
	}
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// book records a new business movement and applies its effect.
// Inactive accounts reject new movements.
func (u *unit) book(id AccountID, kind MovementKind, amount decimal.Decimal, concept, ref string, counterpart AccountID) (Movement, error) {
	if !amount.IsPositive() {
		return Movement{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be positive, got %s", amount)}
	}
	if err := u.requireActive(id); err != nil {
		return Movement{}, err
	}
	m := Movement{
		ID:                   MovementID(u.newID()),
		AccountID:            id,
		Kind:                 kind,
		Amount:               amount,
		Timestamp:            u.now,
		Concept:              concept,
		Reference:            ref,
		CounterpartAccountID: counterpart,
	}
	return m, u.record(m)
}

// reverse appends the compensating movement of m. Allowed on inactive
// accounts: it undoes history rather than creating new activity.
func (u *unit) reverse(m Movement, concept string) (Movement, error) {
	c := compensation(m, MovementID(u.newID()), u.now, concept)
	return c, u.record(c)
}

func (u *unit) record(m Movement) error {
	in, out := m.Effect()
	if _, err := u.applyDelta(m.AccountID, in, out); err != nil {
		return err
	}
	u.movements = append(u.movements, m)
	return nil
}

// =============================================================================
// PARTIES
// =============================================================================

// party loads a client or distributor, creating an empty record for ids
// seen for the first time.
func (u *unit) party(id PartyID, kind PartyKind) (*Party, error) {
	if p, ok := u.parties[id]; ok {
		return p, nil
	}
	p, err := u.store.GetParty(u.ctx, id)
	switch {
	case IsNotFound(err):
		p = NewParty(id, kind)
	case err != nil:
		return nil, err
	case p.Kind != kind:
		return nil, &ValidationError{Field: "party", Reason: fmt.Sprintf("%s is a %s, not a %s", id, p.Kind, kind)}
	}
	u.parties[id] = &p
	u.partyOrder = append(u.partyOrder, id)
	return &p, nil
}

func (u *unit) adjustSaldo(id PartyID, kind PartyKind, delta decimal.Decimal) (*Party, error) {
	p, err := u.party(id, kind)
	if err != nil {
		return nil, err
	}
	p.SaldoPendiente = p.SaldoPendiente.Add(delta)
	p.UpdatedAt = u.now
	return p, nil
}

// =============================================================================
// FLUSH
// =============================================================================

// stage defers an entity write until flush.
func (u *unit) stage(fn func(context.Context, Store) error) {
	u.staged = append(u.staged, fn)
}

// flush verifies and writes everything the unit touched.
func (u *unit) flush() error {
	for _, id := range u.accountOrder {
		if !u.dirty[id] {
			continue
		}
		a := u.accounts[id]
		if err := a.Verify(); err != nil {
			return err
		}
		a.UpdatedAt = u.now
		stored, err := u.store.PutAccount(u.ctx, *a)
		if err != nil {
			return err
		}
		if err := stored.Verify(); err != nil {
			return err
		}
		*a = stored
	}
	for _, id := range u.partyOrder {
		if err := u.store.PutParty(u.ctx, *u.parties[id]); err != nil {
			return err
		}
	}
	if len(u.movements) > 0 {
		if err := u.store.AppendMovements(u.ctx, u.movements...); err != nil {
			return err
		}
	}
	for _, fn := range u.staged {
		if err := fn(u.ctx, u.store); err != nil {
			return err
		}
	}
	return nil
}

func (u *unit) snapshot(id AccountID) Account {
	if a, ok := u.accounts[id]; ok {
		return *a
	}
	return Account{}
}
