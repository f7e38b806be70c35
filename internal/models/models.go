package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order (buy or sell)
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the persisted order state, encoded as an integer.
type OrderStatus int

const (
	OrderStatusOpen      OrderStatus = 1
	OrderStatusFilled    OrderStatus = 2
	OrderStatusCancelled OrderStatus = 3
)

// Text returns the lowercase wire name for a status code.
func (s OrderStatus) Text() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// User holds unlocked fiat cash in Balance. Funds reserved by open buy
// orders have already been debited from Balance.
type User struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Asset is a per-user inventory row for one symbol. LockedAmount is the
// portion reserved by open sell orders; 0 <= LockedAmount <= Amount.
type Asset struct {
	ID           int64           `json:"id" db:"id"`
	UserID       int64           `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	LockedAmount decimal.Decimal `json:"locked_amount" db:"locked_amount"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableAmount is the inventory not reserved by open sell orders.
func (a *Asset) AvailableAmount() decimal.Decimal {
	return a.Amount.Sub(a.LockedAmount)
}

// Order is a limit order. CreatedAt is the time-priority key.
type Order struct {
	ID           int64           `json:"id" db:"id"`
	UserID       int64           `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Side         OrderSide       `json:"side" db:"side"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	FilledAmount decimal.Decimal `json:"filled_amount" db:"filled_amount"`
	Status       OrderStatus     `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// RemainingAmount is the unfilled portion of the order.
func (o *Order) RemainingAmount() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// IsOpen reports whether the order can still match or be cancelled.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// Trade is an immutable execution record. Price is the maker's resting
// price at the moment of match.
type Trade struct {
	ID          int64           `json:"id" db:"id"`
	BuyOrderID  int64           `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id" db:"sell_order_id"`
	BuyerID     int64           `json:"buyer_id" db:"buyer_id"`
	SellerID    int64           `json:"seller_id" db:"seller_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
}

// Total is the trade notional (price × amount) before commission.
func (t *Trade) Total() decimal.Decimal {
	return t.Price.Mul(t.Amount).Truncate(8)
}
