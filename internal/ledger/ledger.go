package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

// ErrInsufficientBalance rejects a debit larger than the available quantity.
// The matcher treats it as "skip this candidate", never as a fatal error.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger is the single source of truth for holdings. Every settlement debit
// and credit goes through it; the matcher never bypasses it.
type Ledger struct {
	balances store.BalanceRepository
}

// New creates a ledger over a balance repository.
func New(balances store.BalanceRepository) *Ledger {
	return &Ledger{balances: balances}
}

// Available returns how much of contract/specifier the address holds.
func (l *Ledger) Available(ctx context.Context, address, contract, specifier string) (int64, error) {
	return l.balances.Get(ctx, address, contract, specifier)
}

// Debit removes qty from the address's holding in one atomic adjustment. It
// fails with ErrInsufficientBalance, mutating nothing, if qty exceeds the
// available amount.
func (l *Ledger) Debit(ctx context.Context, address, contract, specifier string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("debit quantity must be positive, got %d", qty)
	}
	err := l.balances.Adjust(ctx, address, contract, specifier, -qty)
	if errors.Is(err, store.ErrNegativeBalance) {
		return fmt.Errorf("%w: %s cannot cover %d of %s", ErrInsufficientBalance, address, qty, contract)
	}
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	return nil
}

// Credit adds qty to the address's holding, creating the entry if absent.
func (l *Ledger) Credit(ctx context.Context, address, contract, specifier string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("credit quantity must be positive, got %d", qty)
	}
	if err := l.balances.Adjust(ctx, address, contract, specifier, qty); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

// ApplySnapshot overwrites holdings with a full snapshot pulled from a chain
// datasource. Ingestion must not interleave with a fill, so callers run it
// between matching passes.
func (l *Ledger) ApplySnapshot(ctx context.Context, entries []models.BalanceEntry) error {
	for _, entry := range entries {
		if entry.Quantity < 0 {
			return fmt.Errorf("snapshot entry for %s has negative quantity %d", entry.Address, entry.Quantity)
		}
		if err := l.balances.Set(ctx, entry); err != nil {
			return fmt.Errorf("failed to apply snapshot entry: %w", err)
		}
	}
	return nil
}

// ApplyTransfer credits a confirmed on-chain transfer to its destination and,
// when the source is tracked, debits it. An untracked source (its entry would
// go negative) only yields the credit; balances never go below zero.
func (l *Ledger) ApplyTransfer(ctx context.Context, event models.SettlementEvent) error {
	if event.Quantity <= 0 {
		return fmt.Errorf("transfer quantity must be positive, got %d", event.Quantity)
	}
	err := l.Debit(ctx, event.Source, event.Contract, event.Specifier, event.Quantity)
	if err != nil && !errors.Is(err, ErrInsufficientBalance) {
		return err
	}
	return l.Credit(ctx, event.Destination, event.Contract, event.Specifier, event.Quantity)
}
