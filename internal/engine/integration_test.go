package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-exchange/internal/db"
	"spot-exchange/internal/models"
	"spot-exchange/internal/store"
)

// Integration tests run against a real MySQL instance and are skipped when
// DB_DSN is not set.

func setupEngine(t *testing.T) (*Engine, *store.Store, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN environment variable not set, skipping integration test")
	}

	database, err := db.Connect(dsn)
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database))
	for _, table := range []string{"trades", "orders", "assets", "users"} {
		_, err := database.Exec("DELETE FROM " + table)
		require.NoError(t, err, "failed to clear table %s", table)
	}

	st := store.New(database)
	return New(database, st, nil, nil), st, database
}

func createUser(t *testing.T, st *store.Store, database *sql.DB, name, balance string) *models.User {
	t.Helper()
	u := &models.User{
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Balance:      decimal.RequireFromString(balance),
	}
	require.NoError(t, st.CreateUser(context.Background(), database, u))
	return u
}

func giveAsset(t *testing.T, st *store.Store, database *sql.DB, userID int64, symbol, amount string) {
	t.Helper()
	a := &models.Asset{
		UserID:       userID,
		Symbol:       symbol,
		Amount:       decimal.RequireFromString(amount),
		LockedAmount: decimal.Zero,
	}
	require.NoError(t, st.CreateAsset(context.Background(), database, a))
}

func userBalance(t *testing.T, st *store.Store, database *sql.DB, userID int64) decimal.Decimal {
	t.Helper()
	u, err := st.UserByID(context.Background(), database, userID)
	require.NoError(t, err)
	return u.Balance
}

func userAsset(t *testing.T, database *sql.DB, userID int64, symbol string) (amount, locked decimal.Decimal) {
	t.Helper()
	err := database.QueryRow(
		"SELECT amount, locked_amount FROM assets WHERE user_id = ? AND symbol = ?",
		userID, symbol,
	).Scan(&amount, &locked)
	require.NoError(t, err)
	return amount, locked
}

// Scenario: full match at equal price. Buyer pays notional plus 1.5%
// commission, seller receives the notional, inventory moves one-to-one.
func TestSubmitFullMatchAtEqualPrice(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	seller := createUser(t, st, database, "seller", "0")
	buyer := createUser(t, st, database, "buyer", "100000")
	giveAsset(t, st, database, seller.ID, "BTC", "2")

	sellOrder, trades, err := eng.Submit(ctx, seller.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1"))
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, models.OrderStatusOpen, sellOrder.Status)

	buyOrder, trades, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "50000.00000000", trade.Price.StringFixed(8))
	assert.Equal(t, "1.00000000", trade.Amount.StringFixed(8))
	assert.Equal(t, buyOrder.ID, trade.BuyOrderID)
	assert.Equal(t, sellOrder.ID, trade.SellOrderID)
	assert.Equal(t, models.OrderStatusFilled, buyOrder.Status)

	// 100000 - (50000 + 750)
	assert.Equal(t, "49250.00000000", userBalance(t, st, database, buyer.ID).StringFixed(8))
	assert.Equal(t, "50000.00000000", userBalance(t, st, database, seller.ID).StringFixed(8))

	amount, locked := userAsset(t, database, buyer.ID, "BTC")
	assert.Equal(t, "1.00000000", amount.StringFixed(8))
	assert.True(t, locked.IsZero())

	amount, locked = userAsset(t, database, seller.ID, "BTC")
	assert.Equal(t, "1.00000000", amount.StringFixed(8))
	assert.True(t, locked.IsZero())

	persisted, err := st.OrderByID(ctx, database, sellOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, persisted.Status)
}

// Scenario: price improvement. The buyer reserved at its 50000 limit but
// executes at the maker's 48000; the difference comes back at settlement.
func TestSubmitPriceImprovementRebatesBuyer(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	seller := createUser(t, st, database, "seller", "0")
	buyer := createUser(t, st, database, "buyer", "100000")
	giveAsset(t, st, database, seller.ID, "BTC", "2")

	_, _, err := eng.Submit(ctx, seller.ID, "BTC", models.OrderSideSell, dec("48000"), dec("1"))
	require.NoError(t, err)

	_, trades, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "48000.00000000", trades[0].Price.StringFixed(8))

	// Net cost is the execution price's notional + commission: 48720.
	assert.Equal(t, "51280.00000000", userBalance(t, st, database, buyer.ID).StringFixed(8))
	assert.Equal(t, "48000.00000000", userBalance(t, st, database, seller.ID).StringFixed(8))
}

// Scenario: partial fill. Taker larger than maker rests OPEN with the
// remainder; the maker fills completely.
func TestSubmitPartialFillLeavesTakerOpen(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	seller := createUser(t, st, database, "seller", "0")
	buyer := createUser(t, st, database, "buyer", "100000")
	giveAsset(t, st, database, seller.ID, "BTC", "1")

	sellOrder, _, err := eng.Submit(ctx, seller.ID, "BTC", models.OrderSideSell, dec("50000"), dec("0.5"))
	require.NoError(t, err)

	buyOrder, trades, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "0.50000000", trades[0].Amount.StringFixed(8))

	assert.Equal(t, models.OrderStatusOpen, buyOrder.Status)
	assert.Equal(t, "0.50000000", buyOrder.FilledAmount.StringFixed(8))
	assert.Equal(t, "0.50000000", buyOrder.RemainingAmount().StringFixed(8))

	persisted, err := st.OrderByID(ctx, database, sellOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, persisted.Status)
}

// Scenario: walk the book. Two makers at the same price fill in time
// priority, producing two trades.
func TestSubmitWalksBookInTimePriority(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	s1 := createUser(t, st, database, "s1", "0")
	s2 := createUser(t, st, database, "s2", "0")
	buyer := createUser(t, st, database, "buyer", "100000")
	giveAsset(t, st, database, s1.ID, "BTC", "1")
	giveAsset(t, st, database, s2.ID, "BTC", "1")

	first, _, err := eng.Submit(ctx, s1.ID, "BTC", models.OrderSideSell, dec("50000"), dec("0.4"))
	require.NoError(t, err)
	second, _, err := eng.Submit(ctx, s2.ID, "BTC", models.OrderSideSell, dec("50000"), dec("0.6"))
	require.NoError(t, err)

	buyOrder, trades, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, first.ID, trades[0].SellOrderID)
	assert.Equal(t, "0.40000000", trades[0].Amount.StringFixed(8))
	assert.Equal(t, second.ID, trades[1].SellOrderID)
	assert.Equal(t, "0.60000000", trades[1].Amount.StringFixed(8))
	assert.Equal(t, models.OrderStatusFilled, buyOrder.Status)
}

// Scenario: no cross. A sell above the best bid rests without trading.
func TestSubmitNoCrossRestsBothOrders(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	buyer := createUser(t, st, database, "buyer", "100000")
	seller := createUser(t, st, database, "seller", "0")
	giveAsset(t, st, database, seller.ID, "BTC", "1")

	bid, _, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("48000"), dec("1"))
	require.NoError(t, err)

	ask, trades, err := eng.Submit(ctx, seller.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1"))
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, models.OrderStatusOpen, bid.Status)
	assert.Equal(t, models.OrderStatusOpen, ask.Status)

	buys, sells, err := eng.Book(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, buys, 1)
	require.Len(t, sells, 1)
}

// Scenario: cheapest first. Price priority beats time priority.
func TestSubmitPricePriorityBeatsTime(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	s1 := createUser(t, st, database, "s1", "0")
	s2 := createUser(t, st, database, "s2", "0")
	buyer := createUser(t, st, database, "buyer", "100000")
	giveAsset(t, st, database, s1.ID, "BTC", "1")
	giveAsset(t, st, database, s2.ID, "BTC", "1")

	_, _, err := eng.Submit(ctx, s1.ID, "BTC", models.OrderSideSell, dec("51000"), dec("1"))
	require.NoError(t, err)
	cheap, _, err := eng.Submit(ctx, s2.ID, "BTC", models.OrderSideSell, dec("49000"), dec("1"))
	require.NoError(t, err)

	_, trades, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("52000"), dec("1"))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, cheap.ID, trades[0].SellOrderID)
	assert.Equal(t, "49000.00000000", trades[0].Price.StringFixed(8))
}

// Orders from the same user never match each other.
func TestSubmitNeverSelfTrades(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	u := createUser(t, st, database, "solo", "100000")
	giveAsset(t, st, database, u.ID, "BTC", "1")

	_, _, err := eng.Submit(ctx, u.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1"))
	require.NoError(t, err)

	_, trades, err := eng.Submit(ctx, u.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestCancelRestoresBuyReservationExactly(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	buyer := createUser(t, st, database, "buyer", "100000")

	order, _, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("48000.12345678"), dec("0.33333333"))
	require.NoError(t, err)
	assert.True(t, userBalance(t, st, database, buyer.ID).LessThan(dec("100000")))

	cancelled, err := eng.Cancel(ctx, buyer.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	// reserve + refund is the identity on scale-8 decimals
	assert.Equal(t, "100000.00000000", userBalance(t, st, database, buyer.ID).StringFixed(8))
}

func TestCancelReleasesSellLock(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	seller := createUser(t, st, database, "seller", "0")
	giveAsset(t, st, database, seller.ID, "BTC", "2")

	order, _, err := eng.Submit(ctx, seller.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1.5"))
	require.NoError(t, err)

	_, locked := userAsset(t, database, seller.ID, "BTC")
	assert.Equal(t, "1.50000000", locked.StringFixed(8))

	_, err = eng.Cancel(ctx, seller.ID, order.ID)
	require.NoError(t, err)

	amount, locked := userAsset(t, database, seller.ID, "BTC")
	assert.Equal(t, "2.00000000", amount.StringFixed(8))
	assert.True(t, locked.IsZero())
}

func TestCancelTerminalOrderFails(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	buyer := createUser(t, st, database, "buyer", "100000")
	order, _, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)

	_, err = eng.Cancel(ctx, buyer.ID, order.ID)
	require.NoError(t, err)

	balance := userBalance(t, st, database, buyer.ID)
	_, err = eng.Cancel(ctx, buyer.ID, order.ID)
	assert.ErrorIs(t, err, ErrCannotCancel)
	// second cancel must not move money
	assert.True(t, balance.Equal(userBalance(t, st, database, buyer.ID)))
}

func TestCancelForeignOrderNotFound(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	owner := createUser(t, st, database, "owner", "100000")
	other := createUser(t, st, database, "other", "100000")
	order, _, err := eng.Submit(ctx, owner.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	require.NoError(t, err)

	_, err = eng.Cancel(ctx, other.ID, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSubmitReservationFailures(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	poor := createUser(t, st, database, "poor", "100")
	_, _, err := eng.Submit(ctx, poor.ID, "BTC", models.OrderSideBuy, dec("50000"), dec("1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// No asset row at all.
	_, _, err = eng.Submit(ctx, poor.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1"))
	assert.ErrorIs(t, err, ErrAssetNotFound)

	// Asset row exists but available is short.
	giveAsset(t, st, database, poor.ID, "BTC", "0.5")
	_, _, err = eng.Submit(ctx, poor.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1"))
	assert.ErrorIs(t, err, ErrInsufficientAsset)

	// Failed submissions must leave no orders behind.
	orders, err := eng.ListOrders(ctx, poor.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestListOrdersNewestFirst(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	buyer := createUser(t, st, database, "buyer", "1000000")
	first, _, err := eng.Submit(ctx, buyer.ID, "BTC", models.OrderSideBuy, dec("48000"), dec("1"))
	require.NoError(t, err)
	second, _, err := eng.Submit(ctx, buyer.ID, "ETH", models.OrderSideBuy, dec("3000"), dec("1"))
	require.NoError(t, err)

	orders, err := eng.ListOrders(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}

// Concurrent buys against one resting sell must not over-fill it or mint
// inventory: serialization happens entirely at the store.
func TestConcurrentSubmissionsConserveInventory(t *testing.T) {
	eng, st, database := setupEngine(t)
	ctx := context.Background()

	seller := createUser(t, st, database, "seller", "0")
	giveAsset(t, st, database, seller.ID, "BTC", "1")
	_, _, err := eng.Submit(ctx, seller.ID, "BTC", models.OrderSideSell, dec("50000"), dec("1"))
	require.NoError(t, err)

	const buyers = 4
	users := make([]*models.User, buyers)
	for i := range users {
		users[i] = createUser(t, st, database, fmt.Sprintf("buyer%d", i), "100000")
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, _, err := eng.Submit(ctx, userID, "BTC", models.OrderSideBuy, dec("50000"), dec("0.5"))
			assert.NoError(t, err)
		}(u.ID)
	}
	wg.Wait()

	// Exactly 1 BTC changed hands across however many trades occurred.
	var total decimal.Decimal
	require.NoError(t, database.QueryRow("SELECT COALESCE(SUM(amount), 0) FROM trades").Scan(&total))
	assert.Equal(t, "1.00000000", total.StringFixed(8))

	var held decimal.Decimal
	require.NoError(t, database.QueryRow("SELECT COALESCE(SUM(amount), 0) FROM assets WHERE symbol = 'BTC'").Scan(&held))
	assert.Equal(t, "1.00000000", held.StringFixed(8))

	// No negative balances anywhere.
	var negatives int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users WHERE balance < 0").Scan(&negatives))
	assert.Zero(t, negatives)
}
