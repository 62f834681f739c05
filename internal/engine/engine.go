package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cscannon/barter/internal/chain"
	"github.com/cscannon/barter/internal/ledger"
	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

// Engine pairs compatible barter orders and settles them against the ledger.
// All matching for one blockchain runs through one Engine instance; the mutex
// makes every fill a single critical section covering candidate scan, balance
// gate, ledger movement, order mutation and event emission.
type Engine struct {
	mu     sync.Mutex
	chain  chain.Blockchain
	store  store.Store
	ledger *ledger.Ledger
	log    *zap.Logger

	// OnEvent, when set, is invoked after each settlement event commits.
	// Used by the server to push events to websocket subscribers.
	OnEvent func(models.SettlementEvent)
}

// New creates an engine for one blockchain over a store and its ledger.
func New(bc chain.Blockchain, st store.Store, ldg *ledger.Ledger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{chain: bc, store: st, ledger: ldg, log: log}
}

// OrderTerms are the economic terms supplied by an order's creator.
type OrderTerms struct {
	Source         string
	SellContract   string
	SellSpecifier  string
	SellAmount     int64
	BuyContract    string
	BuySpecifier   string
	BuyAmount      int64
	TxHash         string
	Timestamp      int64
	BlockHeight    int64
	BuyDestination string
}

// CreateOrder validates terms and persists a new order with full remaining
// amounts and no status. Invalid terms surface immediately; nothing is
// persisted.
func (e *Engine) CreateOrder(ctx context.Context, terms OrderTerms) (*models.Order, error) {
	source, err := e.chain.NormalizeAddress(terms.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidOrderTerms, err)
	}
	buyDestination := ""
	if terms.BuyDestination != "" {
		buyDestination, err = e.chain.NormalizeAddress(terms.BuyDestination)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidOrderTerms, err)
		}
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		Blockchain:     e.chain.Name,
		Source:         source,
		SellContract:   terms.SellContract,
		SellSpecifier:  terms.SellSpecifier,
		SellAmount:     terms.SellAmount,
		BuyContract:    terms.BuyContract,
		BuySpecifier:   terms.BuySpecifier,
		BuyAmount:      terms.BuyAmount,
		RemainingBuy:   terms.BuyAmount,
		RemainingSell:  terms.SellAmount,
		Total:          terms.BuyAmount * terms.SellAmount,
		BuyDestination: buyDestination,
		TxHash:         terms.TxHash,
		Timestamp:      terms.Timestamp,
		BlockHeight:    terms.BlockHeight,
		CreatedAt:      time.Now(),
	}
	if err := store.ValidateTerms(order); err != nil {
		return nil, err
	}
	if err := e.store.Orders().Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

// MatchResult describes one settled pairing.
type MatchResult struct {
	Order        *models.Order
	CounterOrder *models.Order
	Events       []models.SettlementEvent
}

// MatchNext finds and settles a single compatible pair. A nil result with a
// nil error means no counterparty exists right now; that is the expected
// steady state, not a failure.
func (e *Engine) MatchNext(ctx context.Context) (*MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matchNextLocked(ctx)
}

// MatchAll repeatedly applies the single-step matcher until no further
// compatible pair exists and returns the orders touched, oldest first. Each
// fill commits independently, so stopping between fills leaves nothing
// inconsistent.
func (e *Engine) MatchAll(ctx context.Context) ([]*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	touched := make(map[string]*models.Order)
	var order []string
	for {
		result, err := e.matchNextLocked(ctx)
		if err != nil {
			return nil, err
		}
		if result == nil {
			break
		}
		for _, o := range []*models.Order{result.Order, result.CounterOrder} {
			if _, seen := touched[o.ID]; !seen {
				order = append(order, o.ID)
			}
			touched[o.ID] = o
		}
	}

	orders := make([]*models.Order, 0, len(order))
	for _, id := range order {
		orders = append(orders, touched[id])
	}
	return orders, nil
}

// Ingest runs a ledger mutation inside the matching critical section, so
// chain-sourced balance updates never interleave with a fill.
func (e *Engine) Ingest(fn func(*ledger.Ledger) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.ledger)
}

// GetAllMatches returns every order currently carrying at least one match
// edge. It performs no matching itself.
func (e *Engine) GetAllMatches(ctx context.Context) ([]*models.Order, error) {
	hasMatch := true
	return e.store.Orders().Query(ctx, models.OrderFilter{HasMatch: &hasMatch})
}

func (e *Engine) matchNextLocked(ctx context.Context) (*MatchResult, error) {
	orders, err := e.store.Orders().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	for i, a := range orders {
		if !eligible(a) {
			continue
		}
		for j, b := range orders {
			if i == j || !eligible(b) {
				continue
			}
			if !compatible(a, b) {
				continue
			}
			f, ok := computeFill(a, b)
			if !ok {
				continue
			}
			if err := e.gateBalances(ctx, a, b, f); err != nil {
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					e.log.Debug("skipping candidate, seller balance short",
						zap.String("order", a.ID),
						zap.String("counter", b.ID),
						zap.Error(err))
					continue
				}
				return nil, err
			}
			return e.applyFill(ctx, a, b, f)
		}
	}
	return nil, nil
}

// eligible excludes closed and exhausted orders from matching. CLOSE is
// terminal; a closed order is never reconsidered.
func eligible(o *models.Order) bool {
	return o.Status != models.StatusClose && o.RemainingBuy > 0 && o.RemainingSell > 0
}

// compatible checks the barter pairing rule: each order must sell what the
// other buys, and wherever either side names an explicit token, the
// specifiers must agree exactly.
func compatible(a, b *models.Order) bool {
	if a.BuyContract != b.SellContract || a.SellContract != b.BuyContract {
		return false
	}
	if (a.BuySpecifier != "" || b.SellSpecifier != "") && a.BuySpecifier != b.SellSpecifier {
		return false
	}
	if (a.SellSpecifier != "" || b.BuySpecifier != "") && a.SellSpecifier != b.BuySpecifier {
		return false
	}
	return true
}

// fill captures the quantities one pairing consumes. Qty is denominated in
// a's buy contract; ASell and BBuy are the mirrored quantities computed from
// each order's own fixed exchange ratio.
type fill struct {
	Qty   int64
	ASell int64
	BBuy  int64
}

func computeFill(a, b *models.Order) (fill, bool) {
	qty := a.RemainingBuy
	if b.RemainingSell < qty {
		qty = b.RemainingSell
	}
	if qty <= 0 {
		return fill{}, false
	}

	f := fill{Qty: qty}
	if qty == a.RemainingBuy {
		f.ASell = a.RemainingSell
	} else {
		f.ASell = qty * a.SellAmount / a.BuyAmount
	}
	if qty == b.RemainingSell {
		f.BBuy = b.RemainingBuy
	} else {
		f.BBuy = qty * b.BuyAmount / b.SellAmount
	}

	// Integer rounding across repeated partial fills can drift past the
	// remaining amounts; never consume more than an order has left.
	if f.ASell > a.RemainingSell {
		f.ASell = a.RemainingSell
	}
	if f.BBuy > b.RemainingBuy {
		f.BBuy = b.RemainingBuy
	}

	// A mirrored quantity that rounds to zero would move assets for free.
	if f.ASell <= 0 || f.BBuy <= 0 {
		return fill{}, false
	}
	return f, true
}
