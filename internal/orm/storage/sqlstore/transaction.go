package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDeadlock is returned when a commit keeps failing on deadlocks
	ErrDeadlock = errors.New("deadlock detected")
)

const (
	// DefaultMaxRetries is the default number of commit attempts
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 50 * time.Millisecond
)

// RetryConfig configures retry behavior for commits
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// withTransaction executes fn within a transaction.
// It commits on success and rolls back on error or panic.
func withTransaction(ctx context.Context, db DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withRetry runs withTransaction and retries deadlocks and serialization
// failures with exponential backoff.
func withRetry(ctx context.Context, db DB, config RetryConfig, fn func(tx *sql.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		// Check if context is already cancelled before starting retry attempt
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := withTransaction(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		// Calculate exponential backoff: baseBackoff * 2^attempt
		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d retries: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// IsRetryableError checks if an error is a deadlock or serialization
// failure
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40P01 deadlock_detected, 40001 serialization_failure
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"deadlock detected", "could not serialize access", "database is locked"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
