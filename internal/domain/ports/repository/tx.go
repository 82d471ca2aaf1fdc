package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. The concrete type is infra-defined
// (pgx.Tx for Postgres). Repositories must gracefully accept a nil Tx and
// fall back to their non-transactional path.
type Tx interface{}

// TransactionManager executes a function within a storage transaction,
// passing the transaction handle through so repositories on both sides of
// a multi-row update see the same snapshot. Keep this interface small.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
