package api

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"spot-exchange/internal/fixed"
	"spot-exchange/internal/models"
)

const maxSymbolLength = 10

// createOrderRequest is the POST /orders body. Price and amount are kept
// raw so that a non-numeric value surfaces as a field-keyed validation
// error instead of a JSON decode failure; the wire accepts both strings
// and plain JSON numbers.
type createOrderRequest struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Price  json.RawMessage `json:"price"`
	Amount json.RawMessage `json:"amount"`
}

// parseDecimalField parses a raw JSON value as a decimal. ok is false when
// the field is absent, null, or not numeric.
func parseDecimalField(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, false
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := fixed.Parse(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// validateCreateOrder checks the normative rules (symbol required and at
// most 10 characters, side buy|sell, price and amount numeric and positive)
// and returns the parsed decimals. A non-nil error map means invalid.
func validateCreateOrder(req *createOrderRequest) (price, amount decimal.Decimal, errs map[string]string) {
	errs = make(map[string]string)

	if req.Symbol == "" {
		errs["symbol"] = "symbol is required"
	} else if len(req.Symbol) > maxSymbolLength {
		errs["symbol"] = "symbol must be at most 10 characters"
	}

	if req.Side == "" {
		errs["side"] = "side is required"
	} else if req.Side != string(models.OrderSideBuy) && req.Side != string(models.OrderSideSell) {
		errs["side"] = "side must be 'buy' or 'sell'"
	}

	if len(req.Price) == 0 {
		errs["price"] = "price is required"
	} else if p, ok := parseDecimalField(req.Price); !ok {
		errs["price"] = "price must be numeric"
	} else if !p.IsPositive() {
		errs["price"] = "price must be greater than 0"
	} else {
		price = p
	}

	if len(req.Amount) == 0 {
		errs["amount"] = "amount is required"
	} else if a, ok := parseDecimalField(req.Amount); !ok {
		errs["amount"] = "amount must be numeric"
	} else if !a.IsPositive() {
		errs["amount"] = "amount must be greater than 0"
	} else {
		amount = a
	}

	if len(errs) == 0 {
		return price, amount, nil
	}
	return price, amount, errs
}

// loginRequest is the POST /login body.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func validateLogin(req *loginRequest) map[string]string {
	errs := make(map[string]string)
	if req.Email == "" {
		errs["email"] = "email is required"
	}
	if req.Password == "" {
		errs["password"] = "password is required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
