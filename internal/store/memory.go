package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cscannon/barter/internal/models"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and standalone
// mode; the pgx implementation in internal/db is the durable one.
type Memory struct {
	mu sync.Mutex

	orders     map[string]*models.Order
	orderIDs   []string // creation order
	balances   map[string]models.BalanceEntry
	events     []models.SettlementEvent
	eventKeys  map[string]int // FillKey -> index into events
	users      map[string]*models.User
	nextUserID int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]*models.Order),
		balances:  make(map[string]models.BalanceEntry),
		eventKeys: make(map[string]int),
		users:     make(map[string]*models.User),
	}
}

func (m *Memory) Orders() OrderRepository     { return (*memoryOrders)(m) }
func (m *Memory) Balances() BalanceRepository { return (*memoryBalances)(m) }
func (m *Memory) Events() EventRepository     { return (*memoryEvents)(m) }
func (m *Memory) Users() UserRepository       { return (*memoryUsers)(m) }

func balanceKey(address, contract, specifier string) string {
	return address + "|" + contract + "|" + specifier
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.MatchedWith = append([]models.MatchEdge(nil), o.MatchedWith...)
	return &c
}

type memoryOrders Memory

func (m *memoryOrders) Create(_ context.Context, order *models.Order) error {
	if err := ValidateTerms(order); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	m.orders[order.ID] = copyOrder(order)
	m.orderIDs = append(m.orderIDs, order.ID)
	return nil
}

func (m *memoryOrders) Get(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return copyOrder(order), nil
}

func (m *memoryOrders) Update(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *memoryOrders) All(_ context.Context) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]*models.Order, 0, len(m.orderIDs))
	for _, id := range m.orderIDs {
		orders = append(orders, copyOrder(m.orders[id]))
	}
	return orders, nil
}

func (m *memoryOrders) Query(_ context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []*models.Order
	for _, id := range m.orderIDs {
		order := m.orders[id]
		if !matchesFilter(order, filter) {
			continue
		}
		orders = append(orders, copyOrder(order))
	}
	return orders, nil
}

func matchesFilter(order *models.Order, filter models.OrderFilter) bool {
	if filter.StatusPresent != nil && (order.Status != "") != *filter.StatusPresent {
		return false
	}
	if filter.StatusEquals != nil && order.Status != *filter.StatusEquals {
		return false
	}
	if filter.HasBuyDestination != nil && (order.BuyDestination != "") != *filter.HasBuyDestination {
		return false
	}
	if filter.HasMatch != nil && (len(order.MatchedWith) > 0) != *filter.HasMatch {
		return false
	}
	return true
}

type memoryBalances Memory

func (m *memoryBalances) Get(_ context.Context, address, contract, specifier string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balances[balanceKey(address, contract, specifier)].Quantity, nil
}

func (m *memoryBalances) Set(_ context.Context, entry models.BalanceEntry) error {
	if entry.Quantity < 0 {
		return fmt.Errorf("balance for %s cannot go negative", entry.Address)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[balanceKey(entry.Address, entry.Contract, entry.Specifier)] = entry
	return nil
}

func (m *memoryBalances) Adjust(_ context.Context, address, contract, specifier string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey(address, contract, specifier)
	entry := m.balances[key]
	next := entry.Quantity + delta
	if next < 0 {
		return fmt.Errorf("%s holds %d of %s: %w", address, entry.Quantity, contract, ErrNegativeBalance)
	}
	m.balances[key] = models.BalanceEntry{
		Address:   address,
		Contract:  contract,
		Specifier: specifier,
		Quantity:  next,
	}
	return nil
}

func (m *memoryBalances) List(_ context.Context, address string) ([]models.BalanceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []models.BalanceEntry
	for _, entry := range m.balances {
		if entry.Address == address {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

type memoryEvents Memory

func (m *memoryEvents) Create(_ context.Context, event *models.SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.FillKey != "" {
		if _, ok := m.eventKeys[event.FillKey]; ok {
			return fmt.Errorf("event with fill key %s already exists", event.FillKey)
		}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	m.events = append(m.events, *event)
	if event.FillKey != "" {
		m.eventKeys[event.FillKey] = len(m.events) - 1
	}
	return nil
}

func (m *memoryEvents) GetByFillKey(_ context.Context, fillKey string) (*models.SettlementEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.eventKeys[fillKey]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", fillKey, ErrNotFound)
	}
	event := m.events[idx]
	return &event, nil
}

func (m *memoryEvents) All(_ context.Context) ([]models.SettlementEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.SettlementEvent(nil), m.events...), nil
}

type memoryUsers Memory

func (m *memoryUsers) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return nil, fmt.Errorf("user %s already exists", username)
	}
	m.nextUserID++
	user := &models.User{
		ID:           m.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	m.users[username] = user
	u := *user
	return &u, nil
}

func (m *memoryUsers) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	u := *user
	return &u, nil
}
