package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"spot-exchange/internal/auth"
	"spot-exchange/internal/db"
	"spot-exchange/internal/engine"
	"spot-exchange/internal/events"
	"spot-exchange/internal/models"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid JSON"})
		return
	}
	if errs := validateLogin(&req); errs != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs})
		return
	}

	user, err := s.store.UserByEmail(r.Context(), s.db, req.Email)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !auth.CheckPassword(user.PasswordHash, req.Password)) {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
		return
	}
	if err != nil {
		s.logger.Error("login lookup failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}

	token, err := s.auth.Issue(user.ID)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  newUserPayload(user),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Revoke(claimsFrom(r))
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r).UserID
	user, assets, err := s.engine.Profile(r.Context(), userID)
	if err != nil {
		s.logger.Error("profile failed", zap.Int64("user_id", userID), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}

	assetPayloads := make([]assetPayload, len(assets))
	for i, a := range assets {
		assetPayloads[i] = newAssetPayload(a)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":   newUserPayload(user),
		"assets": assetPayloads,
	})
}

// handleListOrders serves both views of GET /orders: with ?symbol it
// returns the book for that symbol in priority order, without it the
// caller's own orders newest first.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		buys, sells, err := s.engine.Book(r.Context(), symbol)
		if err != nil {
			s.logger.Error("book query failed", zap.String("symbol", symbol), zap.Error(err))
			respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"symbol":      symbol,
			"buy_orders":  newOrderPayloads(buys),
			"sell_orders": newOrderPayloads(sells),
		})
		return
	}

	userID := claimsFrom(r).UserID
	orders, err := s.engine.ListOrders(r.Context(), userID)
	if err != nil {
		s.logger.Error("order list failed", zap.Int64("user_id", userID), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": newOrderPayloads(orders)})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid JSON"})
		return
	}
	price, amount, errs := validateCreateOrder(&req)
	if errs != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs})
		return
	}

	userID := claimsFrom(r).UserID
	order, _, err := s.engine.Submit(r.Context(), userID, req.Symbol, models.OrderSide(req.Side), price, amount)
	if err != nil {
		s.respondOrderError(w, "Failed to create order", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Order created",
		"order":   events.NewOrderPayload(order),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid order id"})
		return
	}

	userID := claimsFrom(r).UserID
	order, err := s.engine.Cancel(r.Context(), userID, orderID)
	if err != nil {
		s.respondOrderError(w, "Failed to cancel order", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Order cancelled",
		"order":   events.NewOrderPayload(order),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"errors": map[string]string{"symbol": "symbol is required"},
		})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"errors": map[string]string{"limit": "limit must be a non-negative integer"},
			})
			return
		}
		limit = parsed
	}

	trades, err := s.engine.Trades(r.Context(), symbol, limit)
	if err != nil {
		s.logger.Error("trade query failed", zap.String("symbol", symbol), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"trades": newTradePayloads(trades),
	})
}

// handleWebSocket authenticates via ?token and hands the connection to the
// hub, subscribed to the user's private channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated"})
		return
	}
	s.hub.Serve(w, r, claims.UserID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// respondOrderError maps engine errors onto the API contract: caller
// mistakes come back verbatim with a 400, conflicts that exhausted their
// retries get a generic 400, anything else is a 500 without internals.
func (s *Server) respondOrderError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientAsset),
		errors.Is(err, engine.ErrAssetNotFound),
		errors.Is(err, engine.ErrCannotCancel),
		errors.Is(err, engine.ErrOrderNotFound):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"message": message,
			"error":   err.Error(),
		})
	case errors.Is(err, db.ErrTxConflict):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"message": message,
			"error":   "please retry",
		})
	default:
		s.logger.Error("order operation failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
}
