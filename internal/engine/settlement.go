package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cscannon/barter/internal/ledger"
	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

// leg is one direction of asset movement within a fill: the seller's sell
// contract moving to the buyer.
type leg struct {
	Seller    *models.Order
	Buyer     *models.Order
	Contract  string
	Specifier string
	Qty       int64
}

func fillLegs(a, b *models.Order, f fill) [2]leg {
	return [2]leg{
		// b's sell contract moving to a.
		{Seller: b, Buyer: a, Contract: a.BuyContract, Specifier: pickSpecifier(b.SellSpecifier, a.BuySpecifier), Qty: f.Qty},
		// a's sell contract moving to b.
		{Seller: a, Buyer: b, Contract: a.SellContract, Specifier: pickSpecifier(a.SellSpecifier, b.BuySpecifier), Qty: f.ASell},
	}
}

func pickSpecifier(sellerSpec, buyerSpec string) string {
	if sellerSpec != "" {
		return sellerSpec
	}
	return buyerSpec
}

// onChainSettled reports whether a leg's transfer already happened on-chain.
// An order carrying a BuyDestination was created from the confirmed transfer
// of its sell side to that address, so the engine neither gates nor re-records
// that movement.
func (l leg) onChainSettled() bool {
	return l.Seller.BuyDestination != ""
}

// gateBalances confirms every off-chain leg's seller holds the quantity about
// to be debited. Returns ledger.ErrInsufficientBalance to make the caller
// skip the candidate.
func (e *Engine) gateBalances(ctx context.Context, a, b *models.Order, f fill) error {
	for _, l := range fillLegs(a, b, f) {
		if l.onChainSettled() {
			continue
		}
		available, err := e.ledger.Available(ctx, l.Seller.Source, l.Contract, l.Specifier)
		if err != nil {
			return fmt.Errorf("failed to read seller balance: %w", err)
		}
		if available < l.Qty {
			return fmt.Errorf("%w: %s holds %d of %s, fill needs %d",
				ledger.ErrInsufficientBalance, l.Seller.Source, available, l.Contract, l.Qty)
		}
	}
	return nil
}

// applyFill commits one fill: ledger movement, match edges, remaining totals,
// status transitions and settlement events, atomically where the store
// supports transactions.
func (e *Engine) applyFill(ctx context.Context, a, b *models.Order, f fill) (*MatchResult, error) {
	seq := edgeCount(a, b.ID)
	now := time.Now()
	var events []models.SettlementEvent

	commit := func(s store.Store) error {
		ldg := ledger.New(s.Balances())

		for _, l := range fillLegs(a, b, f) {
			if l.onChainSettled() {
				// The payment was delivered on-chain to the named
				// destination; only the credit is recorded.
				if err := ldg.Credit(ctx, l.Seller.BuyDestination, l.Contract, l.Specifier, l.Qty); err != nil {
					return err
				}
				continue
			}
			if err := ldg.Debit(ctx, l.Seller.Source, l.Contract, l.Specifier, l.Qty); err != nil {
				return err
			}
			if err := ldg.Credit(ctx, l.Buyer.Source, l.Contract, l.Specifier, l.Qty); err != nil {
				return err
			}
			event, err := emitSettlement(ctx, s.Events(), e.chain.Name, l, seq, now)
			if err != nil {
				return err
			}
			if event != nil {
				events = append(events, *event)
			}
		}

		a.MatchedWith = append(a.MatchedWith, models.MatchEdge{
			CounterOrderID: b.ID,
			BuyQuantity:    f.Qty,
			SellQuantity:   f.ASell,
			Sequence:       seq,
			CreatedAt:      now,
		})
		b.MatchedWith = append(b.MatchedWith, models.MatchEdge{
			CounterOrderID: a.ID,
			BuyQuantity:    f.BBuy,
			SellQuantity:   f.Qty,
			Sequence:       seq,
			CreatedAt:      now,
		})

		a.RemainingBuy -= f.Qty
		a.RemainingSell -= f.ASell
		b.RemainingSell -= f.Qty
		b.RemainingBuy -= f.BBuy
		a.Total = a.RemainingBuy * a.RemainingSell
		b.Total = b.RemainingBuy * b.RemainingSell
		setStatus(a)
		setStatus(b)

		if err := s.Orders().Update(ctx, a); err != nil {
			return fmt.Errorf("failed to update order %s: %w", a.ID, err)
		}
		if err := s.Orders().Update(ctx, b); err != nil {
			return fmt.Errorf("failed to update order %s: %w", b.ID, err)
		}
		return nil
	}

	var err error
	if tx, ok := e.store.(store.Transactional); ok {
		err = tx.WithTx(ctx, commit)
	} else {
		err = commit(e.store)
	}
	if err != nil {
		return nil, err
	}

	e.log.Info("filled",
		zap.String("order", a.ID),
		zap.String("counter", b.ID),
		zap.Int64("quantity", f.Qty),
		zap.String("contract", a.BuyContract))

	if e.OnEvent != nil {
		for _, event := range events {
			e.OnEvent(event)
		}
	}
	return &MatchResult{Order: a, CounterOrder: b, Events: events}, nil
}

func setStatus(o *models.Order) {
	if o.Total == 0 {
		o.Status = models.StatusClose
	} else {
		o.Status = models.StatusOpen
	}
}

func edgeCount(o *models.Order, counterID string) int {
	n := 0
	for _, edge := range o.MatchedWith {
		if edge.CounterOrderID == counterID {
			n++
		}
	}
	return n
}

// emitSettlement appends the event recording one leg, keyed so a retried fill
// step cannot produce duplicates. Returns nil when the key already exists.
func emitSettlement(ctx context.Context, events store.EventRepository, blockchain string, l leg, seq int, now time.Time) (*models.SettlementEvent, error) {
	fillKey := fmt.Sprintf("%s:%s:%d", l.Seller.ID, l.Buyer.ID, seq)

	if _, err := events.GetByFillKey(ctx, fillKey); err == nil {
		return nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check settlement event: %w", err)
	}

	event := &models.SettlementEvent{
		ID:          uuid.NewString(),
		TxID:        l.Seller.TxHash,
		Blockchain:  blockchain,
		Source:      l.Seller.Source,
		Destination: l.Buyer.Source,
		Contract:    l.Contract,
		Specifier:   l.Specifier,
		Quantity:    l.Qty,
		Timestamp:   l.Seller.Timestamp,
		BlockHeight: l.Seller.BlockHeight,
		Valid:       true,
		FillKey:     fillKey,
		CreatedAt:   now,
	}
	if err := events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to emit settlement event: %w", err)
	}
	return event, nil
}
