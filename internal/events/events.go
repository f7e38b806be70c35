// Package events defines the typed event records the engine produces and
// the delivery contract the transport implements. Events are staged during
// a transaction and flushed to the publisher only after commit, so a rolled
// back match never notifies anyone.
package events

import (
	"fmt"
	"time"

	"spot-exchange/internal/fixed"
	"spot-exchange/internal/models"
)

// Event names on the wire.
const (
	NameOrderMatched       = "order.matched"
	NameOrderStatusUpdated = "order.status.updated"
)

// Channel returns the private per-user channel name for a user id.
func Channel(userID int64) string {
	return fmt.Sprintf("user.%d", userID)
}

// Event is one delivery to one user.
type Event struct {
	Name    string
	UserID  int64
	Payload any
}

// Publisher delivers an event to a user's private channel, best-effort.
type Publisher interface {
	Publish(userID int64, name string, payload any)
}

// TradePayload is the order.matched wire shape. Money and quantity fields
// are strings with exactly 8 fractional digits.
type TradePayload struct {
	ID          int64     `json:"id"`
	BuyOrderID  int64     `json:"buy_order_id"`
	SellOrderID int64     `json:"sell_order_id"`
	BuyerID     int64     `json:"buyer_id"`
	SellerID    int64     `json:"seller_id"`
	Symbol      string    `json:"symbol"`
	Price       string    `json:"price"`
	Amount      string    `json:"amount"`
	Total       string    `json:"total"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// OrderPayload is the order.status.updated wire shape.
type OrderPayload struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Price           string    `json:"price"`
	Amount          string    `json:"amount"`
	FilledAmount    string    `json:"filled_amount"`
	RemainingAmount string    `json:"remaining_amount"`
	Status          int       `json:"status"`
	StatusText      string    `json:"status_text"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewTradePayload converts a trade to its wire shape.
func NewTradePayload(t *models.Trade) TradePayload {
	return TradePayload{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Symbol:      t.Symbol,
		Price:       fixed.String(t.Price),
		Amount:      fixed.String(t.Amount),
		Total:       fixed.String(t.Total()),
		ExecutedAt:  t.ExecutedAt,
	}
}

// NewOrderPayload converts an order to its wire shape.
func NewOrderPayload(o *models.Order) OrderPayload {
	return OrderPayload{
		ID:              o.ID,
		UserID:          o.UserID,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Price:           fixed.String(o.Price),
		Amount:          fixed.String(o.Amount),
		FilledAmount:    fixed.String(o.FilledAmount),
		RemainingAmount: fixed.String(o.RemainingAmount()),
		Status:          int(o.Status),
		StatusText:      o.Status.Text(),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// Stager accumulates events inside a transaction. Reset discards staged
// events when the transaction is retried; Flush hands them to the publisher
// after commit, in staging order.
type Stager struct {
	pending []Event
}

// Reset clears staged events. Call at the start of every transaction attempt.
func (s *Stager) Reset() {
	s.pending = s.pending[:0]
}

// OrderMatched stages one trade event for the buyer and one for the seller.
func (s *Stager) OrderMatched(t *models.Trade) {
	payload := map[string]any{"trade": NewTradePayload(t)}
	s.pending = append(s.pending,
		Event{Name: NameOrderMatched, UserID: t.BuyerID, Payload: payload},
		Event{Name: NameOrderMatched, UserID: t.SellerID, Payload: payload},
	)
}

// OrderStatusUpdated stages a status event for the order's owner. Called on
// terminal transitions only (filled, cancelled).
func (s *Stager) OrderStatusUpdated(o *models.Order) {
	s.pending = append(s.pending, Event{
		Name:    NameOrderStatusUpdated,
		UserID:  o.UserID,
		Payload: map[string]any{"order": NewOrderPayload(o)},
	})
}

// Pending returns the staged events.
func (s *Stager) Pending() []Event {
	return s.pending
}

// Flush publishes staged events in order and clears the buffer.
func (s *Stager) Flush(p Publisher) {
	if p == nil {
		s.Reset()
		return
	}
	for _, ev := range s.pending {
		p.Publish(ev.UserID, ev.Name, ev.Payload)
	}
	s.Reset()
}
