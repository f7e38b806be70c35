package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const txMaxAttempts = 5

// MySQL error numbers for lock wait timeout and deadlock. Both roll the
// transaction back on the server side and are safe to retry.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// ErrTxConflict is returned when a transaction keeps deadlocking after all
// retry attempts.
var ErrTxConflict = errors.New("transaction conflict")

// IsRetryable reports whether err is a serialization failure worth retrying.
func IsRetryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout
	}
	return false
}

// WithTx runs fn inside a transaction. On deadlock or lock-wait timeout the
// whole function is retried from a fresh transaction; fn must therefore be
// safe to re-run (no side effects outside the transaction until it returns).
// A panic inside fn rolls the transaction back and re-panics.
func WithTx(ctx context.Context, database *sql.DB, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		err = runInTx(tx, fn)
		if err == nil {
			if err = tx.Commit(); err == nil {
				return nil
			}
		} else {
			tx.Rollback()
		}

		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		// Brief backoff before the retry; contention on the same book
		// usually clears as soon as the winner commits.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrTxConflict, lastErr)
}

func runInTx(tx *sql.Tx, fn func(tx *sql.Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	return fn(tx)
}
