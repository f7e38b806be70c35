package db

import (
	"database/sql"
	"fmt"
)

// Status codes are stored as integers: 1=open, 2=filled, 3=cancelled.
// All money and quantity columns are DECIMAL(32,8).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT       NOT NULL AUTO_INCREMENT,
		name          VARCHAR(255) NOT NULL,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		balance       DECIMAL(32,8) NOT NULL DEFAULT 0,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_users_email (email)
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id            BIGINT       NOT NULL AUTO_INCREMENT,
		user_id       BIGINT       NOT NULL,
		symbol        VARCHAR(10)  NOT NULL,
		amount        DECIMAL(32,8) NOT NULL DEFAULT 0,
		locked_amount DECIMAL(32,8) NOT NULL DEFAULT 0,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_assets_user_symbol (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id            BIGINT       NOT NULL AUTO_INCREMENT,
		user_id       BIGINT       NOT NULL,
		symbol        VARCHAR(10)  NOT NULL,
		side          VARCHAR(4)   NOT NULL,
		price         DECIMAL(32,8) NOT NULL,
		amount        DECIMAL(32,8) NOT NULL,
		filled_amount DECIMAL(32,8) NOT NULL DEFAULT 0,
		status        TINYINT      NOT NULL DEFAULT 1,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		PRIMARY KEY (id),
		KEY idx_orders_book (symbol, status, side, price),
		KEY idx_orders_user (user_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id            BIGINT       NOT NULL AUTO_INCREMENT,
		buy_order_id  BIGINT       NOT NULL,
		sell_order_id BIGINT       NOT NULL,
		buyer_id      BIGINT       NOT NULL,
		seller_id     BIGINT       NOT NULL,
		symbol        VARCHAR(10)  NOT NULL,
		price         DECIMAL(32,8) NOT NULL,
		amount        DECIMAL(32,8) NOT NULL,
		executed_at   DATETIME(6)  NOT NULL,
		PRIMARY KEY (id),
		KEY idx_trades_symbol (symbol, executed_at)
	)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(database *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := database.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
