// Package api exposes the order lifecycle over JSON HTTP plus a WebSocket
// endpoint for per-user events.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"spot-exchange/internal/auth"
	"spot-exchange/internal/engine"
	"spot-exchange/internal/store"
	"spot-exchange/internal/ws"
)

type contextKey string

const claimsKey contextKey = "claims"

// Server wires the engine, store, auth manager and WebSocket hub behind a
// mux router.
type Server struct {
	db     *sql.DB
	engine *engine.Engine
	store  *store.Store
	auth   *auth.Manager
	hub    *ws.Hub
	logger *zap.Logger
	router *mux.Router
}

// NewServer builds the router and returns the server.
func NewServer(database *sql.DB, eng *engine.Engine, st *store.Store, am *auth.Manager, hub *ws.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:     database,
		engine: eng,
		store:  st,
		auth:   am,
		hub:    hub,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	authed := s.router.PathPrefix("/").Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/profile", s.handleProfile).Methods(http.MethodGet)
	authed.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	authed.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	authed.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	authed.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// logRequests logs method, path, and duration with a per-request id.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// requireAuth validates the bearer token and stores the claims in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.Verify(bearerToken(r))
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated"})
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
