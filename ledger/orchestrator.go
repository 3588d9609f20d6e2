/*
orchestrator.go - Ledger Transaction Orchestrator

PURPOSE:
  The only component allowed to mutate account state. Each public
  operation (sale settlement, purchase-order payment, transfer, reversal)
  runs as one atomic unit that updates accounts, the movement log and the
  linked client/distributor debt together or not at all.

STATE MACHINE (per invocation):
  Validating -> Checking -> Applying -> Committed
  Validating -> Checking -> Aborted

CONCURRENCY:
  Every operation runs inside TxStore.WithTx. Stores detect conflicting
  writes (version check / write lock) and return ErrConcurrentModification.
  The losing operation is retried with exponential backoff up to
  RetryPolicy.MaxAttempts, then fails with ConcurrencyConflictError.
  There is no application-level lock: the store's transaction primitive
  is the serialization point.

CANCELLATION:
  If ctx is done before commit the transaction rolls back. Retries stop as
  soon as ctx is done.

DEFECTS:
  A ConsistencyViolationError is never retried. It is logged at error
  level with alert=true and counted, then returned to the caller.

SEE ALSO:
  - apply.go: Unit of work (applyDelta, book, reverse, flush)
  - sales.go / purchasing.go / transfers.go: Operations
  - audit.go: Replay-based consistency audit
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// RetryPolicy bounds how conflicting transactions are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		return p.MaxDelay
	}
	return d
}

// Recorder receives operation outcomes. internal/metrics implements it
// with Prometheus counters.
type Recorder interface {
	ObserveOperation(op, result string)
	ObserveRetry(op string)
	ObserveConsistencyViolation(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string) {}
func (nopRecorder) ObserveRetry(string) {}
func (nopRecorder) ObserveConsistencyViolation(string) {}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.log = l } }
func WithRetryPolicy(p RetryPolicy) Option { return func(o *Orchestrator) { o.retry = p } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.clock = now } }
func WithIDGenerator(f func() string) Option { return func(o *Orchestrator) { o.newID = f } }
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.metrics = r } }

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	store   TxStore
	log     zerolog.Logger
	retry   RetryPolicy
	clock   func() time.Time
	newID   func() string
	metrics Recorder
}

func NewOrchestrator(store TxStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		log:     zerolog.Nop(),
		retry:   DefaultRetryPolicy(),
		clock:   time.Now,
		newID:   uuid.NewString,
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.MaxAttempts < 1 {
		o.retry.MaxAttempts = 1
	}
	return o
}

// Receipt describes what a committed operation did.
type Receipt struct {
	Reference string
	Accounts  []Account // post-commit state of every account touched
	Movements []Movement
}

func (u *unit) receipt(ref string) Receipt {
	r := Receipt{Reference: ref, Movements: u.movements}
	for _, id := range u.accountOrder {
		if u.dirty[id] {
			r.Accounts = append(r.Accounts, *u.accounts[id])
		}
	}
	return r
}

// run executes fn as one atomic unit, retrying store conflicts.
func (o *Orchestrator) run(ctx context.Context, op string, fn func(u *unit) error) (*unit, error) {
	var last error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			o.fail(op, err)
			return nil, err
		}

		var u *unit
		err := o.store.WithTx(ctx, func(s Store) error {
			u = newUnit(ctx, s, o.clock().UTC(), o.newID)
			if err := fn(u); err != nil {
				return err
			}
			if err := u.flush(); err != nil {
				return err
			}
			// Abandoned by the caller: roll back rather than commit.
			return ctx.Err()
		})
		if err == nil {
			o.metrics.ObserveOperation(op, "committed")
			o.log.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Int("movements", len(u.movements)).
				Msg("ledger operation committed")
			return u, nil
		}
		if !IsRetryable(err) {
			o.fail(op, err)
			return nil, err
		}

		last = err
		o.metrics.ObserveRetry(op)
		o.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("ledger conflict, retrying")
		if attempt == o.retry.MaxAttempts {
			break
		}
		if err := sleep(ctx, o.retry.backoff(attempt)); err != nil {
			o.fail(op, err)
			return nil, err
		}
	}

	err := &ConcurrencyConflictError{Operation: op, Attempts: o.retry.MaxAttempts, Last: last}
	o.fail(op, err)
	return nil, err
}

func (o *Orchestrator) fail(op string, err error) {
	switch {
	case IsDefect(err):
		o.metrics.ObserveOperation(op, "defect")
		o.metrics.ObserveConsistencyViolation(op)
		o.log.Error().Err(err).Str("op", op).Bool("alert", true).Msg("ledger consistency violation")
	case IsClientError(err):
		o.metrics.ObserveOperation(op, "rejected")
		o.log.Info().Err(err).Str("op", op).Msg("ledger operation rejected")
	case IsNotFound(err):
		o.metrics.ObserveOperation(op, "not_found")
		o.log.Info().Err(err).Str("op", op).Msg("ledger operation rejected")
	case errors.Is(err, ErrConcurrencyConflict):
		o.metrics.ObserveOperation(op, "conflict")
		o.log.Warn().Err(err).Str("op", op).Msg("ledger operation gave up")
	default:
		o.metrics.ObserveOperation(op, "error")
		o.log.Error().Err(err).Str("op", op).Msg("ledger operation failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// SETUP AND READS
// =============================================================================

// Seed creates any missing account. Idempotent.
func (o *Orchestrator) Seed(ctx context.Context) error {
	return o.store.WithTx(ctx, func(s Store) error {
		for _, id := range AllAccountIDs() {
			_, err := s.GetAccount(ctx, id)
			if err == nil {
				continue
			}
			if !IsNotFound(err) {
				return err
			}
			acct := NewAccount(id)
			acct.UpdatedAt = o.clock().UTC()
			if _, err := s.PutAccount(ctx, acct); err != nil {
				return err
			}
			o.log.Info().Str("account", string(id)).Msg("account created")
		}
		return nil
	})
}

// GetAccount is a read-only query; it may observe slightly stale data and
// must not gate a write.
func (o *Orchestrator) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	if _, err := ParseAccountID(string(id)); err != nil {
		return Account{}, err
	}
	return o.store.GetAccount(ctx, id)
}

func (o *Orchestrator) ListAccounts(ctx context.Context) ([]Account, error) {
	return o.store.ListAccounts(ctx)
}

func (o *Orchestrator) GetSale(ctx context.Context, id SaleID) (Sale, error) {
	return o.store.GetSale(ctx, id)
}

func (o *Orchestrator) GetPurchaseOrder(ctx context.Context, id OrderID) (PurchaseOrder, error) {
	return o.store.GetPurchaseOrder(ctx, id)
}

func (o *Orchestrator) GetParty(ctx context.Context, id PartyID) (Party, error) {
	return o.store.GetParty(ctx, id)
}

func (o *Orchestrator) Movements() *MovementLog {
	return NewMovementLog(o.store)
}

// SetAccountActive soft-disables or re-enables an account.
func (o *Orchestrator) SetAccountActive(ctx context.Context, id AccountID, active bool) (Account, error) {
	if _, err := ParseAccountID(string(id)); err != nil {
		return Account{}, err
	}
	u, err := o.run(ctx, "set_account_active", func(u *unit) error {
		a, err := u.account(id)
		if err != nil {
			return err
		}
		a.Active = active
		u.dirty[id] = true
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return u.snapshot(id), nil
}

// RegisterParty creates or renames a client or distributor and sets its
// credit limit. The outstanding debt is never touched here.
func (o *Orchestrator) RegisterParty(ctx context.Context, id PartyID, kind PartyKind, nombre string, limiteCredito decimal.Decimal) (Party, error) {
	if id == "" {
		return Party{}, &ValidationError{Field: "id", Reason: "required"}
	}
	if kind != PartyClient && kind != PartyDistributor {
		return Party{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown party kind %q", kind)}
	}
	if limiteCredito.IsNegative() {
		return Party{}, &ValidationError{Field: "limiteCredito", Reason: "must not be negative"}
	}
	if kind == PartyDistributor && !limiteCredito.IsZero() {
		return Party{}, &ValidationError{Field: "limiteCredito", Reason: "only clients have a credit limit"}
	}

	var out Party
	_, err := o.run(ctx, "register_party", func(u *unit) error {
		p, err := u.party(id, kind)
		if err != nil {
			return err
		}
		p.Nombre = nombre
		p.LimiteCredito = limiteCredito
		p.UpdatedAt = u.now
		out = *p
		return nil
	})
	if err != nil {
		return Party{}, err
	}
	return out, nil
}
