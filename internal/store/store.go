// Package store is the transactional ledger: users, assets, orders and
// trades persisted in MySQL. Row-level exclusive locks (SELECT ... FOR
// UPDATE) inside a transaction are the only serialization mechanism; there
// is no in-memory book.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spot-exchange/internal/models"
)

// Querier is satisfied by both *sql.DB and *sql.Tx. Locking reads only make
// sense on a *sql.Tx; plain reads accept either.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides ledger persistence on top of a MySQL connection pool.
type Store struct {
	db *sql.DB
}

// New returns a Store bound to the given database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ---- users ----

const userColumns = "id, name, email, password_hash, balance, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user row and fills in the generated id.
func (s *Store) CreateUser(ctx context.Context, q Querier, u *models.User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	res, err := q.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, u.Balance, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// UserByEmail fetches a user by email. Returns sql.ErrNoRows if absent.
func (s *Store) UserByEmail(ctx context.Context, q Querier, email string) (*models.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UserByID fetches a user by id without locking.
func (s *Store) UserByID(ctx context.Context, q Querier, id int64) (*models.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UserForUpdate loads a user row under an exclusive lock.
func (s *Store) UserForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id)
	return scanUser(row)
}

// SetUserBalance writes a new balance. The caller must hold the row lock.
func (s *Store) SetUserBalance(ctx context.Context, q Querier, id int64, balance decimal.Decimal) error {
	_, err := q.ExecContext(ctx,
		`UPDATE users SET balance = ?, updated_at = ? WHERE id = ?`,
		balance, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance for user %d: %w", id, err)
	}
	return nil
}

// ---- assets ----

const assetColumns = "id, user_id, symbol, amount, locked_amount, created_at, updated_at"

func scanAsset(row interface{ Scan(...any) error }) (*models.Asset, error) {
	var a models.Asset
	if err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.Amount, &a.LockedAmount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// AssetForUpdate loads the (user, symbol) asset row under an exclusive
// lock. Returns sql.ErrNoRows when the row does not exist.
func (s *Store) AssetForUpdate(ctx context.Context, tx *sql.Tx, userID int64, symbol string) (*models.Asset, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE user_id = ? AND symbol = ? FOR UPDATE`,
		userID, symbol,
	)
	return scanAsset(row)
}

// CreateAsset inserts an asset row (used for lazy buyer-side creation at
// settlement and for seeding).
func (s *Store) CreateAsset(ctx context.Context, q Querier, a *models.Asset) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	res, err := q.ExecContext(ctx,
		`INSERT INTO assets (user_id, symbol, amount, locked_amount, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Symbol, a.Amount, a.LockedAmount, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert asset %s for user %d: %w", a.Symbol, a.UserID, err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// SetAsset writes amount and locked_amount. The caller must hold the lock.
func (s *Store) SetAsset(ctx context.Context, q Querier, id int64, amount, locked decimal.Decimal) error {
	_, err := q.ExecContext(ctx,
		`UPDATE assets SET amount = ?, locked_amount = ?, updated_at = ? WHERE id = ?`,
		amount, locked, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset %d: %w", id, err)
	}
	return nil
}

// AssetsByUser returns every asset row for a user, ordered by symbol.
func (s *Store) AssetsByUser(ctx context.Context, q Querier, userID int64) ([]*models.Asset, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE user_id = ? ORDER BY symbol ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ---- orders ----

const orderColumns = "id, user_id, symbol, side, price, amount, filled_amount, status, created_at, updated_at"

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Price, &o.Amount, &o.FilledAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertOrder persists a new order and fills in the generated id.
func (s *Store) InsertOrder(ctx context.Context, q Querier, o *models.Order) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO orders (user_id, symbol, side, price, amount, filled_amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.Symbol, o.Side, o.Price, o.Amount, o.FilledAmount, int(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return err
}

// OrderByID fetches an order without locking.
func (s *Store) OrderByID(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// OrderForUpdate loads an order row under an exclusive lock.
func (s *Store) OrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
	return scanOrder(row)
}

// SetOrderFill writes filled_amount and status. The caller must hold the lock.
func (s *Store) SetOrderFill(ctx context.Context, q Querier, id int64, filled decimal.Decimal, status models.OrderStatus) error {
	_, err := q.ExecContext(ctx,
		`UPDATE orders SET filled_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		filled, int(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", id, err)
	}
	return nil
}

// CounterOrders returns the resting counter-orders eligible to match the
// taker, in price-time priority, every returned row exclusively locked.
// Ties in (price, created_at) are broken by id for determinism.
func (s *Store) CounterOrders(ctx context.Context, tx *sql.Tx, taker *models.Order) ([]*models.Order, error) {
	var query string
	if taker.Side == models.OrderSideBuy {
		query = `SELECT ` + orderColumns + ` FROM orders
			WHERE symbol = ? AND status = ? AND side = 'sell' AND user_id <> ? AND id <> ? AND price <= ?
			ORDER BY price ASC, created_at ASC, id ASC FOR UPDATE`
	} else {
		query = `SELECT ` + orderColumns + ` FROM orders
			WHERE symbol = ? AND status = ? AND side = 'buy' AND user_id <> ? AND id <> ? AND price >= ?
			ORDER BY price DESC, created_at ASC, id ASC FOR UPDATE`
	}

	rows, err := tx.QueryContext(ctx, query,
		taker.Symbol, int(models.OrderStatusOpen), taker.UserID, taker.ID, taker.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to query counter orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan counter order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// OpenOrders returns all OPEN orders on a symbol for one side in book
// priority order: buys by price DESC, sells by price ASC, then time, then id.
func (s *Store) OpenOrders(ctx context.Context, q Querier, symbol string, side models.OrderSide) ([]*models.Order, error) {
	priceOrder := "ASC"
	if side == models.OrderSideBuy {
		priceOrder = "DESC"
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE symbol = ? AND status = ? AND side = ?
		 ORDER BY price `+priceOrder+`, created_at ASC, id ASC`,
		symbol, int(models.OrderStatusOpen), string(side))
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// OrdersByUser returns the user's orders, newest first.
func (s *Store) OrdersByUser(ctx context.Context, q Querier, userID int64) ([]*models.Order, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ---- trades ----

const tradeColumns = "id, buy_order_id, sell_order_id, buyer_id, seller_id, symbol, price, amount, executed_at"

// InsertTrade appends an immutable trade record.
func (s *Store) InsertTrade(ctx context.Context, q Querier, t *models.Trade) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO trades (buy_order_id, sell_order_id, buyer_id, seller_id, symbol, price, amount, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID, t.Symbol, t.Price, t.Amount, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// TradesBySymbol returns recent trades for a symbol, newest first
// (limit <= 0 means no limit).
func (s *Store) TradesBySymbol(ctx context.Context, q Querier, symbol string, limit int) ([]*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? ORDER BY executed_at DESC, id DESC`
	args := []any{symbol}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.Symbol, &t.Price, &t.Amount, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
