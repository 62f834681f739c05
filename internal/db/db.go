package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

// querier is satisfied by both the pool and a transaction, so every
// repository works unchanged inside WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool and implements store.Store.
type DB struct {
	Pool *pgxpool.Pool
	q    querier
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool, q: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

func (db *DB) Orders() store.OrderRepository     { return &orderRepo{q: db.q} }
func (db *DB) Balances() store.BalanceRepository { return &balanceRepo{q: db.q} }
func (db *DB) Events() store.EventRepository     { return &eventRepo{q: db.q} }
func (db *DB) Users() store.UserRepository       { return &userRepo{q: db.q} }

// WithTx runs fn against a transaction-scoped store, committing on success.
// The engine uses this to apply a whole fill atomically.
func (db *DB) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&DB{Pool: db.Pool, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type orderRepo struct {
	q querier
}

const orderColumns = `id, blockchain, source, sell_contract, sell_specifier, sell_amount,
	buy_contract, buy_specifier, buy_amount, remaining_buy, remaining_sell, total,
	buy_destination, tx_hash, chain_timestamp, block_height, status, created_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(&order.ID, &order.Blockchain, &order.Source,
		&order.SellContract, &order.SellSpecifier, &order.SellAmount,
		&order.BuyContract, &order.BuySpecifier, &order.BuyAmount,
		&order.RemainingBuy, &order.RemainingSell, &order.Total,
		&order.BuyDestination, &order.TxHash, &order.Timestamp, &order.BlockHeight,
		&order.Status, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) Create(ctx context.Context, order *models.Order) error {
	if err := store.ValidateTerms(order); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		order.ID, order.Blockchain, order.Source,
		order.SellContract, order.SellSpecifier, order.SellAmount,
		order.BuyContract, order.BuySpecifier, order.BuyAmount,
		order.RemainingBuy, order.RemainingSell, order.Total,
		order.BuyDestination, order.TxHash, order.Timestamp, order.BlockHeight,
		string(order.Status), order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrder(r.q.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if err := r.loadEdges(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) loadEdges(ctx context.Context, order *models.Order) error {
	rows, err := r.q.Query(ctx,
		`SELECT counter_order_id, buy_quantity, sell_quantity, sequence, created_at
		 FROM match_edges WHERE order_id = $1 ORDER BY id ASC`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load match edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var edge models.MatchEdge
		if err := rows.Scan(&edge.CounterOrderID, &edge.BuyQuantity, &edge.SellQuantity,
			&edge.Sequence, &edge.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan match edge: %w", err)
		}
		order.MatchedWith = append(order.MatchedWith, edge)
	}
	return rows.Err()
}

func (r *orderRepo) Update(ctx context.Context, order *models.Order) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE orders SET remaining_buy = $1, remaining_sell = $2, total = $3, status = $4
		 WHERE id = $5`,
		order.RemainingBuy, order.RemainingSell, order.Total, string(order.Status), order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", order.ID, store.ErrNotFound)
	}

	// Match edges are append-only; persist only the ones not yet stored.
	var persisted int
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM match_edges WHERE order_id = $1`, order.ID).Scan(&persisted); err != nil {
		return fmt.Errorf("failed to count match edges: %w", err)
	}
	for i := persisted; i < len(order.MatchedWith); i++ {
		edge := order.MatchedWith[i]
		_, err := r.q.Exec(ctx,
			`INSERT INTO match_edges (order_id, counter_order_id, buy_quantity, sell_quantity, sequence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, edge.CounterOrderID, edge.BuyQuantity, edge.SellQuantity, edge.Sequence, edge.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert match edge: %w", err)
		}
	}
	return nil
}

func (r *orderRepo) All(ctx context.Context) ([]*models.Order, error) {
	return r.selectOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at ASC, id ASC`)
}

func (r *orderRepo) Query(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	var conds []string
	var args []any

	if filter.StatusPresent != nil {
		if *filter.StatusPresent {
			conds = append(conds, `status <> ''`)
		} else {
			conds = append(conds, `status = ''`)
		}
	}
	if filter.StatusEquals != nil {
		args = append(args, string(*filter.StatusEquals))
		conds = append(conds, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if filter.HasBuyDestination != nil {
		if *filter.HasBuyDestination {
			conds = append(conds, `buy_destination <> ''`)
		} else {
			conds = append(conds, `buy_destination = ''`)
		}
	}
	if filter.HasMatch != nil {
		if *filter.HasMatch {
			conds = append(conds, `EXISTS (SELECT 1 FROM match_edges e WHERE e.order_id = orders.id)`)
		} else {
			conds = append(conds, `NOT EXISTS (SELECT 1 FROM match_edges e WHERE e.order_id = orders.id)`)
		}
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	return r.selectOrders(ctx, query, args...)
}

func (r *orderRepo) selectOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := r.loadEdges(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

type balanceRepo struct {
	q querier
}

func (r *balanceRepo) Get(ctx context.Context, address, contract, specifier string) (int64, error) {
	var quantity int64
	err := r.q.QueryRow(ctx,
		`SELECT quantity FROM balances WHERE address = $1 AND contract = $2 AND specifier = $3`,
		address, contract, specifier).Scan(&quantity)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return quantity, nil
}

func (r *balanceRepo) Set(ctx context.Context, entry models.BalanceEntry) error {
	if entry.Quantity < 0 {
		return fmt.Errorf("balance for %s cannot go negative", entry.Address)
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO balances (address, contract, specifier, quantity)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (address, contract, specifier) DO UPDATE SET quantity = $4`,
		entry.Address, entry.Contract, entry.Specifier, entry.Quantity)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// Adjust applies a delta in one statement so concurrent adjustments cannot
// lose updates. The table's non-negative check rejects overdrafts.
func (r *balanceRepo) Adjust(ctx context.Context, address, contract, specifier string, delta int64) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO balances (address, contract, specifier, quantity)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (address, contract, specifier)
		 DO UPDATE SET quantity = balances.quantity + EXCLUDED.quantity`,
		address, contract, specifier, delta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return fmt.Errorf("%s cannot cover %d of %s: %w", address, -delta, contract, store.ErrNegativeBalance)
		}
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	return nil
}

func (r *balanceRepo) List(ctx context.Context, address string) ([]models.BalanceEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT address, contract, specifier, quantity FROM balances WHERE address = $1`,
		address)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var entries []models.BalanceEntry
	for rows.Next() {
		var entry models.BalanceEntry
		if err := rows.Scan(&entry.Address, &entry.Contract, &entry.Specifier, &entry.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type eventRepo struct {
	q querier
}

func (r *eventRepo) Create(ctx context.Context, event *models.SettlementEvent) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO settlement_events (id, fill_key, tx_id, blockchain, source, destination,
			contract, specifier, quantity, chain_timestamp, block_height, valid, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID, event.FillKey, event.TxID, event.Blockchain, event.Source, event.Destination,
		event.Contract, event.Specifier, event.Quantity, event.Timestamp, event.BlockHeight,
		event.Valid, event.Error, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create settlement event: %w", err)
	}
	return nil
}

func (r *eventRepo) GetByFillKey(ctx context.Context, fillKey string) (*models.SettlementEvent, error) {
	event := &models.SettlementEvent{}
	err := r.q.QueryRow(ctx,
		`SELECT id, fill_key, tx_id, blockchain, source, destination, contract, specifier,
			quantity, chain_timestamp, block_height, valid, error, created_at
		 FROM settlement_events WHERE fill_key = $1`, fillKey).Scan(
		&event.ID, &event.FillKey, &event.TxID, &event.Blockchain, &event.Source, &event.Destination,
		&event.Contract, &event.Specifier, &event.Quantity, &event.Timestamp, &event.BlockHeight,
		&event.Valid, &event.Error, &event.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("event %s: %w", fillKey, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get settlement event: %w", err)
	}
	return event, nil
}

func (r *eventRepo) All(ctx context.Context) ([]models.SettlementEvent, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, fill_key, tx_id, blockchain, source, destination, contract, specifier,
			quantity, chain_timestamp, block_height, valid, error, created_at
		 FROM settlement_events ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement events: %w", err)
	}
	defer rows.Close()

	var events []models.SettlementEvent
	for rows.Next() {
		var event models.SettlementEvent
		if err := rows.Scan(&event.ID, &event.FillKey, &event.TxID, &event.Blockchain,
			&event.Source, &event.Destination, &event.Contract, &event.Specifier,
			&event.Quantity, &event.Timestamp, &event.BlockHeight,
			&event.Valid, &event.Error, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type userRepo struct {
	q querier
}

func (r *userRepo) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := r.q.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)
		 RETURNING id, username, password_hash, created_at`,
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *userRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := r.q.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`,
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
