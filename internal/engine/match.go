package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spot-exchange/internal/events"
	"spot-exchange/internal/fixed"
	"spot-exchange/internal/models"
)

// settlementAmounts computes the money legs of one fill. total is the
// execution notional at the maker price, commission the buyer fee on it,
// and rebate the slice of the buyer's reservation released back: the buyer
// reserved at its own limit price, so when the maker price is better the
// difference comes back at settlement. rebate is never negative because the
// maker price never exceeds the buy order's limit.
func settlementAmounts(buyLimit, makerPrice, amount decimal.Decimal) (total, commission, rebate decimal.Decimal) {
	total = fixed.Notional(makerPrice, amount)
	commission = fixed.Commission(total)
	reserved := buyReservation(buyLimit, amount)
	rebate = reserved.Sub(total.Add(commission))
	return total, commission, rebate
}

// match drives a newly submitted order through the book inside one
// transaction. The taker row is reloaded under an exclusive lock; if it is
// no longer OPEN (a racing cancel won) the call is a no-op. Counter-orders
// come back locked in price-time priority and are consumed in order until
// the taker is filled or the book is exhausted. Any residual remains OPEN
// and rests as a maker for future takers.
func (e *Engine) match(ctx context.Context, tx *sql.Tx, takerID int64, stager *events.Stager) (*models.Order, []*models.Trade, error) {
	taker, err := e.store.OrderForUpdate(ctx, tx, takerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock order %d: %w", takerID, err)
	}
	if !taker.IsOpen() {
		return taker, nil, nil
	}

	counters, err := e.store.CounterOrders(ctx, tx, taker)
	if err != nil {
		return nil, nil, err
	}

	var trades []*models.Trade
	now := time.Now().UTC()
	for _, maker := range counters {
		if taker.RemainingAmount().IsZero() {
			break
		}
		if !maker.IsOpen() || !maker.RemainingAmount().IsPositive() {
			continue
		}

		amount := fixed.Min(taker.RemainingAmount(), maker.RemainingAmount())
		trade, err := e.settle(ctx, tx, taker, maker, amount, now, stager)
		if err != nil {
			return nil, nil, err
		}
		trades = append(trades, trade)
	}
	return taker, trades, nil
}

// settle executes one fill between the taker and a locked maker at the
// maker's resting price: moves inventory to the buyer, releases the
// seller's locked inventory, pays the seller the notional, rebates the
// buyer's price improvement, updates both fills, appends the trade and
// stages the events. Lock order: buyer asset, seller asset, buyer user,
// seller user.
func (e *Engine) settle(ctx context.Context, tx *sql.Tx, taker, maker *models.Order, amount decimal.Decimal, now time.Time, stager *events.Stager) (*models.Trade, error) {
	buyOrder, sellOrder := taker, maker
	if taker.Side == models.OrderSideSell {
		buyOrder, sellOrder = maker, taker
	}
	price := maker.Price
	total, _, rebate := settlementAmounts(buyOrder.Price, price, amount)

	// Buyer asset row is created lazily on first purchase of a symbol.
	buyerAsset, err := e.store.AssetForUpdate(ctx, tx, buyOrder.UserID, buyOrder.Symbol)
	if errors.Is(err, sql.ErrNoRows) {
		buyerAsset = &models.Asset{
			UserID:       buyOrder.UserID,
			Symbol:       buyOrder.Symbol,
			Amount:       fixed.Zero,
			LockedAmount: fixed.Zero,
		}
		err = e.store.CreateAsset(ctx, tx, buyerAsset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock buyer asset: %w", err)
	}

	sellerAsset, err := e.store.AssetForUpdate(ctx, tx, sellOrder.UserID, sellOrder.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to lock seller asset: %w", err)
	}

	buyer, err := e.store.UserForUpdate(ctx, tx, buyOrder.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock buyer: %w", err)
	}
	seller, err := e.store.UserForUpdate(ctx, tx, sellOrder.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock seller: %w", err)
	}

	// Buyer gains inventory; the reservation already paid for it, so only
	// the price-improvement rebate touches the balance here.
	if err := e.store.SetAsset(ctx, tx, buyerAsset.ID, buyerAsset.Amount.Add(amount), buyerAsset.LockedAmount); err != nil {
		return nil, err
	}
	if rebate.IsPositive() {
		if err := e.store.SetUserBalance(ctx, tx, buyer.ID, buyer.Balance.Add(rebate)); err != nil {
			return nil, err
		}
	}

	// Seller releases locked inventory one-to-one and receives the notional.
	// The commission stays with the house.
	if err := e.store.SetAsset(ctx, tx, sellerAsset.ID, sellerAsset.Amount.Sub(amount), sellerAsset.LockedAmount.Sub(amount)); err != nil {
		return nil, err
	}
	if err := e.store.SetUserBalance(ctx, tx, seller.ID, seller.Balance.Add(total)); err != nil {
		return nil, err
	}

	if err := e.applyFill(ctx, tx, buyOrder, amount, now, stager); err != nil {
		return nil, err
	}
	if err := e.applyFill(ctx, tx, sellOrder, amount, now, stager); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyOrder.UserID,
		SellerID:    sellOrder.UserID,
		Symbol:      buyOrder.Symbol,
		Price:       price,
		Amount:      amount,
		ExecutedAt:  now,
	}
	if err := e.store.InsertTrade(ctx, tx, trade); err != nil {
		return nil, err
	}
	stager.OrderMatched(trade)

	return trade, nil
}

// applyFill advances an order's filled amount and transitions it to FILLED
// when complete, staging the status event on the transition.
func (e *Engine) applyFill(ctx context.Context, tx *sql.Tx, o *models.Order, amount decimal.Decimal, now time.Time, stager *events.Stager) error {
	o.FilledAmount = o.FilledAmount.Add(amount)
	o.UpdatedAt = now
	filled := o.FilledAmount.Equal(o.Amount)
	if filled {
		o.Status = models.OrderStatusFilled
	}
	if err := e.store.SetOrderFill(ctx, tx, o.ID, o.FilledAmount, o.Status); err != nil {
		return err
	}
	if filled {
		stager.OrderStatusUpdated(o)
	}
	return nil
}
