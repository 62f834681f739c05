package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cscannon/barter/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidOrderTerms rejects orders with missing contracts or non-positive
// amounts before anything is persisted.
var ErrInvalidOrderTerms = errors.New("invalid order terms")

// ErrNegativeBalance rejects an adjustment whose result would drop a holding
// below zero.
var ErrNegativeBalance = errors.New("balance cannot go negative")

// MaxOrderAmount bounds each side of an order so BuyAmount*SellAmount stays
// within int64.
const MaxOrderAmount = int64(1) << 31

// OrderRepository is the durable order collection. Orders returned by reads
// are private copies; callers persist mutations through Update.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	// All returns every order in creation order, oldest first.
	All(ctx context.Context) ([]*models.Order, error)
	// Query returns the orders satisfying every set predicate of the
	// filter, in creation order.
	Query(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
}

// BalanceRepository persists (address, contract, specifier) quantities.
type BalanceRepository interface {
	Get(ctx context.Context, address, contract, specifier string) (int64, error)
	Set(ctx context.Context, entry models.BalanceEntry) error
	// Adjust atomically adds delta (possibly negative) to the entry,
	// creating it if absent. It fails with ErrNegativeBalance, mutating
	// nothing, when the result would drop below zero.
	Adjust(ctx context.Context, address, contract, specifier string, delta int64) error
	List(ctx context.Context, address string) ([]models.BalanceEntry, error)
}

// EventRepository is the append-only settlement event log.
type EventRepository interface {
	Create(ctx context.Context, event *models.SettlementEvent) error
	// GetByFillKey returns nil, ErrNotFound when no event carries the key.
	GetByFillKey(ctx context.Context, fillKey string) (*models.SettlementEvent, error)
	All(ctx context.Context) ([]models.SettlementEvent, error)
}

// UserRepository persists registered users.
type UserRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Store aggregates the repositories one engine instance operates on. Passing
// it explicitly (rather than a process-wide registry) keeps test instances
// isolated.
type Store interface {
	Orders() OrderRepository
	Balances() BalanceRepository
	Events() EventRepository
	Users() UserRepository
}

// Transactional is implemented by stores that can apply a whole fill
// atomically. The engine uses it when present; the in-memory store does not
// need it because every fill runs inside the engine's critical section.
type Transactional interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ValidateTerms checks an order's economic terms. Both store implementations
// call it before persisting.
func ValidateTerms(order *models.Order) error {
	if order.Source == "" {
		return fmt.Errorf("%w: missing source address", ErrInvalidOrderTerms)
	}
	if order.SellContract == "" || order.BuyContract == "" {
		return fmt.Errorf("%w: missing contract", ErrInvalidOrderTerms)
	}
	if order.SellAmount <= 0 {
		return fmt.Errorf("%w: sell amount must be positive", ErrInvalidOrderTerms)
	}
	if order.BuyAmount <= 0 {
		return fmt.Errorf("%w: buy amount must be positive", ErrInvalidOrderTerms)
	}
	if order.SellAmount > MaxOrderAmount {
		return fmt.Errorf("%w: sell amount exceeds %d", ErrInvalidOrderTerms, MaxOrderAmount)
	}
	if order.BuyAmount > MaxOrderAmount {
		return fmt.Errorf("%w: buy amount exceeds %d", ErrInvalidOrderTerms, MaxOrderAmount)
	}
	return nil
}
