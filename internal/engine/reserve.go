package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"spot-exchange/internal/fixed"
	"spot-exchange/internal/models"
)

// buyReservation is the cash debited for a buy of the given size: the
// notional plus the buyer-side commission, both truncated to scale 8.
// Refunds and settlement rebates reuse this exact arithmetic so that
// reserve + refund is the identity on scale-8 decimals.
func buyReservation(price, amount decimal.Decimal) decimal.Decimal {
	notional := fixed.Notional(price, amount)
	return notional.Add(fixed.Commission(notional))
}

// reserve runs in the same transaction that persists the new order.
// Buy: debits balance by notional + commission at the order's limit price.
// Sell: locks inventory on the (user, symbol) asset row.
func (e *Engine) reserve(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	if o.Side == models.OrderSideBuy {
		user, err := e.store.UserForUpdate(ctx, tx, o.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock user %d: %w", o.UserID, err)
		}
		required := buyReservation(o.Price, o.Amount)
		if user.Balance.LessThan(required) {
			return ErrInsufficientBalance
		}
		return e.store.SetUserBalance(ctx, tx, user.ID, user.Balance.Sub(required))
	}

	asset, err := e.store.AssetForUpdate(ctx, tx, o.UserID, o.Symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAssetNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock asset %s for user %d: %w", o.Symbol, o.UserID, err)
	}
	if asset.AvailableAmount().LessThan(o.Amount) {
		return ErrInsufficientAsset
	}
	return e.store.SetAsset(ctx, tx, asset.ID, asset.Amount, asset.LockedAmount.Add(o.Amount))
}

// refund reverses the reservation for the order's remaining amount on
// cancel. A missing asset row on a sell cancel is tolerated silently.
func (e *Engine) refund(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	remaining := o.RemainingAmount()
	if !remaining.IsPositive() {
		return nil
	}

	if o.Side == models.OrderSideBuy {
		user, err := e.store.UserForUpdate(ctx, tx, o.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock user %d: %w", o.UserID, err)
		}
		return e.store.SetUserBalance(ctx, tx, user.ID, user.Balance.Add(buyReservation(o.Price, remaining)))
	}

	asset, err := e.store.AssetForUpdate(ctx, tx, o.UserID, o.Symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock asset %s for user %d: %w", o.Symbol, o.UserID, err)
	}
	return e.store.SetAsset(ctx, tx, asset.ID, asset.Amount, asset.LockedAmount.Sub(remaining))
}
