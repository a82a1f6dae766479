package postgres

import (
	"context"
	"database/sql"
	"errors"
)

var errNilTxCallback = errors.New("postgres adapter: transaction callback is nil")

// WithTx runs fn against an adapter bound to a single transaction. Nested
// calls reuse the outer transaction.
func (a *Adapter) WithTx(ctx context.Context, fn func(tx *Adapter) error) error {
	if fn == nil {
		return errNilTxCallback
	}

	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	if a.tx != nil {
		return fn(a)
	}

	db, err := a.requireDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txAdapter := &Adapter{
		db:    a.db,
		tx:    tx,
		stmts: a.stmts,
	}

	if err := fn(txAdapter); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	return nil
}

// stmt binds a prepared statement to the adapter's transaction when it has one.
// The returned release func must be called once the statement is done.
func (a *Adapter) stmt(ctx context.Context, prepared *sql.Stmt) (*sql.Stmt, func()) {
	if a.tx == nil {
		return prepared, func() {}
	}
	bound := a.tx.StmtContext(ctx, prepared)
	return bound, func() { _ = bound.Close() }
}
