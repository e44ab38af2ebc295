package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Retry runs f with exponential backoff until it succeeds, returns a
// PermError, or maxDuration passes.
func Retry(ctx context.Context, maxDuration time.Duration, f func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxDuration

	return backoff.Retry(func() error {
		err := f(ctx)
		if err != nil && (IsPermanent(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// ReliableExec acquires a pooled connection and runs f, retrying transient failures.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, maxDuration time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	return Retry(ctx, maxDuration, func(ctx context.Context) error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("error in pool.Acquire: %w", err)
		}
		defer conn.Release()
		return f(ctx, conn)
	})
}

// ReliableExecInTx is ReliableExec inside a transaction that commits when f returns nil.
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, maxDuration time.Duration, f func(ctx context.Context, tx pgx.Tx) error) error {
	return Retry(ctx, maxDuration, func(ctx context.Context) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("error in pool.Begin: %w", err)
		}
		defer tx.Rollback(ctx)
		if err := f(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("error in tx.Commit: %w", err)
		}
		return nil
	})
}
