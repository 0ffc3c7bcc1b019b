// Package postgres adapts every domain Store interface to pgx/v5, the
// same client the teacher uses throughout its own persistence layer.
// Every mutating operation runs inside one transaction, serialized per
// owner with pg_advisory_xact_lock taken as that transaction's first
// statement, and every row read for later write uses SELECT ... FOR
// UPDATE.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/tberr"
)

// pgxTx is a local alias so the rest of this package can write plain
// "pgxTx" instead of importing pgx in every file.
type pgxTx = pgx.Tx

// Pool wraps a pgxpool.Pool with the helpers every Store adapter shares.
type Pool struct {
	DB *pgxpool.Pool
}

// NewPool opens a connection pool against dsn.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, tberr.Wrap(tberr.KindFatal, "could not open postgres pool", err)
	}
	return &Pool{DB: db}, nil
}

// Close releases the pool's connections.
func (p *Pool) Close() { p.DB.Close() }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (p *Pool) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// WithUserTx runs fn inside a transaction that first takes
// pg_advisory_xact_lock(owner), serializing every mutating operation for
// that owner for the lifetime of the transaction. The lock is released
// automatically at commit/rollback (the "xact" variant never needs an
// explicit unlock).
func (p *Pool) WithUserTx(ctx context.Context, owner person.ID, fn func(pgx.Tx) error) error {
	return p.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(owner)); err != nil {
			return err
		}
		return fn(tx)
	})
}

// isNoRows reports whether err is pgx's "no rows" sentinel, the signal
// every adapter in this package treats as tberr.NotFound.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// translate maps a raw pgx/driver error into the engine's error
// taxonomy. A callback that already returned a classified *tberr.Error
// (any business-logic failure from inside a WithTx/WithUserTx closure)
// passes through untouched; only a genuinely raw driver/transport error
// gets wrapped, as TryAgain, since those are ordinarily transient.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var classified *tberr.Error
	if errors.As(err, &classified) {
		return err
	}
	return tberr.Wrap(tberr.KindTryAgain, "storage operation failed", err)
}
