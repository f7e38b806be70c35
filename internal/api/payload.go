package api

import (
	"spot-exchange/internal/events"
	"spot-exchange/internal/fixed"
	"spot-exchange/internal/models"
)

// userPayload is the user shape returned by /login and /profile. Balance
// uses the 8-fractional-digit wire format like every money field.
type userPayload struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Balance string `json:"balance"`
}

type assetPayload struct {
	Symbol          string `json:"symbol"`
	Amount          string `json:"amount"`
	LockedAmount    string `json:"locked_amount"`
	AvailableAmount string `json:"available_amount"`
}

func newUserPayload(u *models.User) userPayload {
	return userPayload{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Balance: fixed.String(u.Balance),
	}
}

func newAssetPayload(a *models.Asset) assetPayload {
	return assetPayload{
		Symbol:          a.Symbol,
		Amount:          fixed.String(a.Amount),
		LockedAmount:    fixed.String(a.LockedAmount),
		AvailableAmount: fixed.String(a.AvailableAmount()),
	}
}

func newOrderPayloads(orders []*models.Order) []events.OrderPayload {
	out := make([]events.OrderPayload, len(orders))
	for i, o := range orders {
		out[i] = events.NewOrderPayload(o)
	}
	return out
}

func newTradePayloads(trades []*models.Trade) []events.TradePayload {
	out := make([]events.TradePayload, len(trades))
	for i, t := range trades {
		out[i] = events.NewTradePayload(t)
	}
	return out
}
