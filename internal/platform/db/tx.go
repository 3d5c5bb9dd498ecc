package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx.
// Component stores are bound to a Querier so the same store code runs either
// standalone or inside a posting transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. Satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

const serializeAttempts = 3

// WithSerializableTx executes a function within a Serializable transaction,
// retrying the whole transaction when Postgres aborts it with a serialization
// failure or deadlock. Callbacks must therefore be safe to re-run from the
// top: everything they do is discarded with the aborted transaction, but any
// state they mutate outside it must be reset on entry.
func WithSerializableTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < serializeAttempts; attempt++ {
		err = runTx(ctx, b, fn)
		if !SerializationFailure(err) {
			return err
		}
	}
	return err
}

// SerializationFailure reports whether err is a Postgres serialization
// failure (40001) or deadlock (40P01), both of which the server documents as
// retry-the-transaction conditions.
func SerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func runTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
