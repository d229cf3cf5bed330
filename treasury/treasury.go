/*
Package treasury keeps the per-district fund pools disbursements draw on.

PURPOSE:
  An append-only ledger of credits and debits per {region, sub-region}
  pool. Every entry carries the balance after it was applied, so the
  current balance is the last entry's balance_after and the whole chain is
  auditable. Entries are never updated or deleted.

ROLE IN DISBURSEMENT:
  The workflow engine checks the pool before committing a disbursement and
  debits it after the commit. The case event log, not this ledger, is the
  source of truth for per-case disbursed sums; a failed post-commit debit
  is reconciled from the events.
*/
package treasury

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/openpcr/caseflow/workflow"
)

// EntryType distinguishes money in from money out.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Entry is one immutable ledger line.
type Entry struct {
	ID           string
	Region       string
	SubRegion    string
	Type         EntryType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Ref          string
	CreatedAt    time.Time
}

// Store persists treasury entries. Append-only.
type Store interface {
	// AppendEntry persists one entry.
	AppendEntry(ctx context.Context, e Entry) error

	// LastBalance returns the most recent balance_after for a pool, or zero
	// when the pool has no entries.
	LastBalance(ctx context.Context, region, subRegion string) (decimal.Decimal, error)

	// ListEntries returns a pool's entries ascending by creation.
	ListEntries(ctx context.Context, region, subRegion string) ([]Entry, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger serializes writes per process so the balance_after chain stays
// consistent. Implements the engine's Treasury collaborator.
type Ledger struct {
	mu    sync.Mutex
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewLedger(store Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Credit adds funds to a pool.
func (l *Ledger) Credit(ctx context.Context, j workflow.Jurisdiction, amount decimal.Decimal, ref string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return &workflow.ValidationError{Field: "amount", Message: "must be positive"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.store.LastBalance(ctx, j.Region, j.SubRegion)
	if err != nil {
		return err
	}
	return l.append(ctx, j, EntryCredit, amount, balance.Add(amount), ref)
}

// Debit removes funds from a pool, failing on shortfall.
func (l *Ledger) Debit(ctx context.Context, j workflow.Jurisdiction, amount decimal.Decimal, ref string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return &workflow.ValidationError{Field: "amount", Message: "must be positive"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.store.LastBalance(ctx, j.Region, j.SubRegion)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: pool %s/%s holds %v, debit of %v requested",
			workflow.ErrInsufficientFunds, j.Region, j.SubRegion, balance, amount)
	}
	return l.append(ctx, j, EntryDebit, amount, balance.Sub(amount), ref)
}

// CheckFunds reports whether a pool can cover an amount, without writing.
func (l *Ledger) CheckFunds(ctx context.Context, j workflow.Jurisdiction, amount decimal.Decimal) error {
	balance, err := l.store.LastBalance(ctx, j.Region, j.SubRegion)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: pool %s/%s holds %v, %v required",
			workflow.ErrInsufficientFunds, j.Region, j.SubRegion, balance, amount)
	}
	return nil
}

// Balance returns a pool's current balance.
func (l *Ledger) Balance(ctx context.Context, j workflow.Jurisdiction) (decimal.Decimal, error) {
	return l.store.LastBalance(ctx, j.Region, j.SubRegion)
}

// History returns a pool's full entry chain.
func (l *Ledger) History(ctx context.Context, j workflow.Jurisdiction) ([]Entry, error) {
	return l.store.ListEntries(ctx, j.Region, j.SubRegion)
}

func (l *Ledger) append(ctx context.Context, j workflow.Jurisdiction, t EntryType, amount, after decimal.Decimal, ref string) error {
	e := Entry{
		ID:           uuid.NewString(),
		Region:       j.Region,
		SubRegion:    j.SubRegion,
		Type:         t,
		Amount:       amount,
		BalanceAfter: after,
		Ref:          ref,
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendEntry(ctx, e); err != nil {
		return err
	}
	l.log.Info().
		Str("pool", j.Region+"/"+j.SubRegion).
		Str("type", string(t)).
		Str("amount", amount.String()).
		Str("balance_after", after.String()).
		Str("ref", ref).
		Msg("treasury entry")
	return nil
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type poolKey struct {
	Region    string
	SubRegion string
}

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	entries map[poolKey][]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[poolKey][]Entry)}
}

func (m *Memory) AppendEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := poolKey{e.Region, e.SubRegion}
	m.entries[k] = append(m.entries[k], e)
	return nil
}

func (m *Memory) LastBalance(_ context.Context, region, subRegion string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.entries[poolKey{region, subRegion}]
	if len(es) == 0 {
		return decimal.Zero, nil
	}
	return es[len(es)-1].BalanceAfter, nil
}

func (m *Memory) ListEntries(_ context.Context, region, subRegion string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.entries[poolKey{region, subRegion}]
	out := make([]Entry, len(es))
	copy(out, es)
	return out, nil
}
