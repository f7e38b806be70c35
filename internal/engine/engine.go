// Package engine implements the order lifecycle: reservation on entry,
// price-time priority matching, settlement with exact scale-8 accounting,
// refunds on cancellation. Concurrency safety comes entirely from row-level
// exclusive locks at the store; submissions run on whatever goroutine the
// caller provides.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spot-exchange/internal/db"
	"spot-exchange/internal/events"
	"spot-exchange/internal/models"
	"spot-exchange/internal/store"
)

const maxSymbolLength = 10

// Engine is the matching core. It owns no mutable state of its own; all
// shared state lives in the transactional store.
type Engine struct {
	db        *sql.DB
	store     *store.Store
	logger    *zap.Logger
	publisher events.Publisher
}

// New constructs an Engine. publisher may be nil, in which case events are
// staged and discarded.
func New(database *sql.DB, st *store.Store, logger *zap.Logger, publisher events.Publisher) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: database, store: st, logger: logger, publisher: publisher}
}

// validateOrder guards the engine against malformed submissions. The API
// layer produces the field-keyed 422 map; this is the last line of defense.
func validateOrder(symbol string, side models.OrderSide, price, amount decimal.Decimal) error {
	if symbol == "" || len(symbol) > maxSymbolLength {
		return ErrInvalidOrder
	}
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		return ErrInvalidOrder
	}
	if !price.IsPositive() || !amount.IsPositive() {
		return ErrInvalidOrder
	}
	return nil
}

// matchOutcome folds the result of the match transaction into the Submit
// response. A conflict that exhausted its retries leaves the order resting
// OPEN with its reservation intact, so the submission is reported as an
// accepted order with no trades. Any other error propagates.
func matchOutcome(order *models.Order, trades []*models.Trade, err error) (*models.Order, []*models.Trade, error) {
	if err == nil {
		return order, trades, nil
	}
	if errors.Is(err, db.ErrTxConflict) {
		return order, nil, nil
	}
	return nil, nil, err
}

// Submit reserves funds or inventory, persists the order OPEN and runs a
// matching pass against the book. It returns the order in its post-match
// state together with the trades executed by this call.
//
// Reservation and persistence commit first; the matching pass is a second
// transaction that reloads the order under its own lock (a concurrent
// cancel between the two simply makes the pass a no-op). Each transaction
// retries independently on store conflicts, and events are published only
// after their transaction commits.
func (e *Engine) Submit(ctx context.Context, userID int64, symbol string, side models.OrderSide, price, amount decimal.Decimal) (*models.Order, []*models.Trade, error) {
	if err := validateOrder(symbol, side, price, amount); err != nil {
		return nil, nil, err
	}

	var order *models.Order
	err := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		order = &models.Order{
			UserID:       userID,
			Symbol:       symbol,
			Side:         side,
			Price:        price,
			Amount:       amount,
			FilledAmount: decimal.Zero,
			Status:       models.OrderStatusOpen,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.reserve(ctx, tx, order); err != nil {
			return err
		}
		return e.store.InsertOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("order accepted",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("amount", amount.String()),
	)

	var (
		stager events.Stager
		trades []*models.Trade
	)
	matchErr := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		stager.Reset()
		matched, txTrades, err := e.match(ctx, tx, order.ID, &stager)
		if err != nil {
			return err
		}
		order, trades = matched, txTrades
		return nil
	})
	if matchErr == nil {
		stager.Flush(e.publisher)
	} else if errors.Is(matchErr, db.ErrTxConflict) {
		// The reservation committed and the order rests OPEN on the book;
		// abandoning the match pass under contention is not a submission
		// failure. The order matches later as a maker.
		e.logger.Warn("match pass abandoned after conflicts",
			zap.Int64("order_id", order.ID),
			zap.Error(matchErr))
	}
	order, trades, err = matchOutcome(order, trades, matchErr)
	if err != nil {
		return nil, nil, err
	}

	if len(trades) > 0 {
		e.logger.Info("order matched",
			zap.Int64("order_id", order.ID),
			zap.Int("trades", len(trades)),
			zap.String("status", order.Status.Text()),
		)
	}
	return order, trades, nil
}

// Cancel verifies ownership, refunds the remaining reservation and
// transitions the order to CANCELLED. A racing match serializes through the
// order row lock; if the match won and filled the order, Cancel reports
// ErrCannotCancel.
func (e *Engine) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	var (
		stager events.Stager
		order  *models.Order
	)
	err := db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		stager.Reset()

		o, err := e.store.OrderForUpdate(ctx, tx, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		// Not distinguishing foreign orders from missing ones.
		if o.UserID != userID {
			return ErrOrderNotFound
		}
		if !o.IsOpen() {
			return ErrCannotCancel
		}

		if err := e.refund(ctx, tx, o); err != nil {
			return err
		}
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = time.Now().UTC()
		if err := e.store.SetOrderFill(ctx, tx, o.ID, o.FilledAmount, o.Status); err != nil {
			return err
		}
		stager.OrderStatusUpdated(o)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	stager.Flush(e.publisher)

	e.logger.Info("order cancelled",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
	)
	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	return e.store.OrdersByUser(ctx, e.db, userID)
}

// Book returns all OPEN orders on a symbol: buys by (price DESC,
// created_at ASC), sells by (price ASC, created_at ASC).
func (e *Engine) Book(ctx context.Context, symbol string) (buys, sells []*models.Order, err error) {
	buys, err = e.store.OpenOrders(ctx, e.db, symbol, models.OrderSideBuy)
	if err != nil {
		return nil, nil, err
	}
	sells, err = e.store.OpenOrders(ctx, e.db, symbol, models.OrderSideSell)
	if err != nil {
		return nil, nil, err
	}
	return buys, sells, nil
}

// Trades returns recent trades on a symbol, newest first.
func (e *Engine) Trades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	return e.store.TradesBySymbol(ctx, e.db, symbol, limit)
}

// Profile returns the user row and all asset rows for a user.
func (e *Engine) Profile(ctx context.Context, userID int64) (*models.User, []*models.Asset, error) {
	user, err := e.store.UserByID(ctx, e.db, userID)
	if err != nil {
		return nil, nil, err
	}
	assets, err := e.store.AssetsByUser(ctx, e.db, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, assets, nil
}
