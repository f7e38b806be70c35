// Command seed creates a pair of demo users with starting balances and
// inventory so a fresh database can take orders immediately.
package main

import (
	"context"
	"database/sql"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spot-exchange/internal/auth"
	"spot-exchange/internal/config"
	"spot-exchange/internal/db"
	"spot-exchange/internal/logging"
	"spot-exchange/internal/models"
	"spot-exchange/internal/store"
)

type seedUser struct {
	name     string
	email    string
	password string
	balance  string
	assets   map[string]string
}

var seedUsers = []seedUser{
	{
		name:     "Alice",
		email:    "alice@example.com",
		password: "password",
		balance:  "100000",
		assets:   map[string]string{"BTC": "2", "ETH": "10"},
	},
	{
		name:     "Bob",
		email:    "bob@example.com",
		password: "password",
		balance:  "100000",
		assets:   map[string]string{"BTC": "1"},
	},
}

func main() {
	godotenv.Load()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	st := store.New(database)
	ctx := context.Background()
	for _, su := range seedUsers {
		if err := seedOne(ctx, st, database, su); err != nil {
			logger.Fatal("seeding failed", zap.String("email", su.email), zap.Error(err))
		}
		logger.Info("seeded user", zap.String("email", su.email))
	}
}

func seedOne(ctx context.Context, st *store.Store, database *sql.DB, su seedUser) error {
	if _, err := st.UserByEmail(ctx, database, su.email); err == nil {
		// Already seeded.
		return nil
	}

	hash, err := auth.HashPassword(su.password)
	if err != nil {
		return err
	}
	user := &models.User{
		Name:         su.name,
		Email:        su.email,
		PasswordHash: hash,
		Balance:      decimal.RequireFromString(su.balance),
	}
	if err := st.CreateUser(ctx, database, user); err != nil {
		return err
	}

	for symbol, amount := range su.assets {
		asset := &models.Asset{
			UserID:       user.ID,
			Symbol:       symbol,
			Amount:       decimal.RequireFromString(amount),
			LockedAmount: decimal.Zero,
		}
		if err := st.CreateAsset(ctx, database, asset); err != nil {
			return err
		}
	}
	return nil
}
