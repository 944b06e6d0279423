package txn

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories resolve their querier through From so the same code runs inside
// and outside a managed transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// ContextWithTx binds a transaction to the context.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// From returns the transaction bound to ctx, or db when none is bound.
func From(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// UnitOfWork executes a function as one atomic unit.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PostgresUnitOfWork runs units of work inside database transactions at a
// fixed isolation level, serializable by default.
type PostgresUnitOfWork struct {
	db        *sql.DB
	isolation sql.IsolationLevel
}

// NewPostgresUnitOfWork constructs a unit of work over db.
func NewPostgresUnitOfWork(db *sql.DB, isolation sql.IsolationLevel) (*PostgresUnitOfWork, error) {
	if db == nil {
		return nil, errors.New("txn: nil db")
	}
	if isolation == sql.LevelDefault {
		isolation = sql.LevelSerializable
	}
	return &PostgresUnitOfWork{db: db, isolation: isolation}, nil
}

// WithinTx begins a transaction, binds it to the context and commits when fn
// returns nil. Any error rolls back.
func (u *PostgresUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.db == nil {
		return errors.New("txn: nil unit of work")
	}
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: u.isolation})
	if err != nil {
		return err
	}
	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MemoryUnitOfWork is the hermetic counterpart used with in-memory
// repositories: it runs the function directly with no transactional scope.
type MemoryUnitOfWork struct{}

// WithinTx runs fn.
func (MemoryUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
