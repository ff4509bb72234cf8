// Package postgres implements the unit of work, the repositories and the
// outbox relay on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/apperr"
	"github.com/campusclinic/medstock/internal/store"
)

// PostgreSQL error codes the repositories translate.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// UnitOfWork runs engine operations in pgx transactions. Stock rows are
// locked with SELECT ... FOR UPDATE and the schema's CHECK constraints
// back up the ledger invariants.
type UnitOfWork struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a unit of work over a pool.
func NewUnitOfWork(pool *pgxpool.Pool, logger *zap.Logger) *UnitOfWork {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitOfWork{pool: pool, logger: logger}
}

// Do runs fn in a read-write transaction.
func (u *UnitOfWork) Do(ctx context.Context, fn func(store.Tx) error) error {
	return u.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, true, fn)
}

// View runs fn in a read-only transaction.
func (u *UnitOfWork) View(ctx context.Context, fn func(store.Tx) error) error {
	return u.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (u *UnitOfWork) run(ctx context.Context, opts pgx.TxOptions, write bool, fn func(store.Tx) error) error {
	tx, err := u.pool.BeginTx(ctx, opts)
	if err != nil {
		return &apperr.TransactionError{Op: "begin", Err: err}
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			u.logger.Warn("rollback failed", zap.Error(err))
		}
	}()

	if err := fn(&transaction{tx: tx, write: write}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &apperr.TransactionError{Op: "commit", Err: err}
	}
	return nil
}

// transaction binds the repositories to one pgx.Tx.
type transaction struct {
	tx    pgx.Tx
	write bool
}

func (t *transaction) Medicines() store.MedicineRepository { return medicineRepo{t.tx} }

func (t *transaction) Stock() store.StockRepository { return stockRepo{t.tx} }

func (t *transaction) Purchases() store.PurchaseRepository { return purchaseRepo{t.tx} }

func (t *transaction) Checkups() store.CheckupRepository { return checkupRepo{tx: t.tx, lock: t.write} }

func (t *transaction) Observations() store.ObservationRepository { return observationRepo{tx: t.tx, lock: t.write} }

func (t *transaction) Outbox() store.OutboxWriter { return outboxWriter{t.tx} }

// translate maps constraint violations onto the domain taxonomy. Anything
// else is returned unchanged.
func translate(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return &apperr.ConflictError{Entity: entity, ID: id, Reason: "already exists"}
	case codeForeignKeyViolation:
		return &apperr.ReferentialIntegrityError{Entity: entity, ID: id, ReferencedBy: pgErr.ConstraintName}
	case codeCheckViolation:
		return &apperr.ConflictError{Entity: entity, ID: id, Reason: "violates " + pgErr.ConstraintName}
	case codeSerialization, codeDeadlock:
		return &apperr.TransactionError{Op: "execute", Err: err}
	}
	return err
}
