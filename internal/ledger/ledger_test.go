package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

func TestLedger_CreditAndAvailable(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	got, err := l.Available(ctx, "addr", "contract", "")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 for absent entry, got %d", got)
	}

	if err := l.Credit(ctx, "addr", "contract", "", 7); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := l.Credit(ctx, "addr", "contract", "", 3); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	got, err = l.Available(ctx, "addr", "contract", "")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
}

func TestLedger_ConcurrentCreditsConserveUnits(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := l.Credit(ctx, "addr", "contract", "", 1); err != nil {
					t.Errorf("Credit failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := l.Available(ctx, "addr", "contract", "")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != workers*perWorker {
		t.Errorf("lost updates: expected %d, got %d", workers*perWorker, got)
	}
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	if err := l.Credit(ctx, "addr", "contract", "", 100); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// Twice as many debits as the holding covers; the excess must fail
	// without pushing the balance negative.
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Debit(ctx, "addr", "contract", "", 1)
			if err != nil && !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("Debit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := l.Available(ctx, "addr", "contract", "")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected holding drained to exactly 0, got %d", got)
	}
}

func TestLedger_SpecifierIsolatesHoldings(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	if err := l.Credit(ctx, "addr", "contract", "sn1", 5); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	got, err := l.Available(ctx, "addr", "contract", "sn2")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != 0 {
		t.Errorf("holdings of one serial must not cover another, got %d", got)
	}
}

func TestLedger_DebitInsufficient(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	if err := l.Credit(ctx, "addr", "contract", "", 5); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	err := l.Debit(ctx, "addr", "contract", "", 6)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The failed debit must not have mutated anything.
	got, err := l.Available(ctx, "addr", "contract", "")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != 5 {
		t.Errorf("expected balance untouched at 5, got %d", got)
	}

	if err := l.Debit(ctx, "addr", "contract", "", 5); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	got, err = l.Available(ctx, "addr", "contract", "")
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 after full debit, got %d", got)
	}
}

func TestLedger_ApplySnapshot(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	if err := l.Credit(ctx, "addr", "contract", "", 2); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// Snapshots overwrite, they do not accumulate.
	err := l.ApplySnapshot(ctx, []models.BalanceEntry{
		{Address: "addr", Contract: "contract", Quantity: 9},
		{Address: "other", Contract: "contract", Specifier: "sn1", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	got, _ := l.Available(ctx, "addr", "contract", "")
	if got != 9 {
		t.Errorf("expected snapshot value 9, got %d", got)
	}
	got, _ = l.Available(ctx, "other", "contract", "sn1")
	if got != 1 {
		t.Errorf("expected snapshot value 1, got %d", got)
	}
}

func TestLedger_ApplyTransfer(t *testing.T) {
	l := New(store.NewMemory().Balances())
	ctx := context.Background()

	if err := l.Credit(ctx, "seller", "contract", "", 5); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	err := l.ApplyTransfer(ctx, models.SettlementEvent{
		Source: "seller", Destination: "buyer", Contract: "contract", Quantity: 3, Valid: true,
	})
	if err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}

	sellerQty, _ := l.Available(ctx, "seller", "contract", "")
	buyerQty, _ := l.Available(ctx, "buyer", "contract", "")
	if sellerQty != 2 || buyerQty != 3 {
		t.Errorf("expected 2/3 after transfer, got %d/%d", sellerQty, buyerQty)
	}

	// An untracked source only yields the credit; nothing goes negative.
	err = l.ApplyTransfer(ctx, models.SettlementEvent{
		Source: "unknown", Destination: "buyer", Contract: "contract", Quantity: 4, Valid: true,
	})
	if err != nil {
		t.Fatalf("ApplyTransfer failed: %v", err)
	}
	unknownQty, _ := l.Available(ctx, "unknown", "contract", "")
	buyerQty, _ = l.Available(ctx, "buyer", "contract", "")
	if unknownQty != 0 || buyerQty != 7 {
		t.Errorf("expected 0/7, got %d/%d", unknownQty, buyerQty)
	}
}
