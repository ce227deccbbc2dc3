package runtime

import (
	"github.com/objectql-dev/objectql/apierr"
	"github.com/objectql-dev/objectql/driver"
)

// Transaction begins a driver transaction (capability-gated), runs fn with
// a child Context carrying the transaction handle, commits on normal
// return, and rolls back on any returned error — the guaranteed-release
// shape calls for, generalized from multi-step saga
// (infrastructure/transaction/transaction.go's Transaction/Step/rollback)
// down to the single-driver-handle case actually needs. Nested
// calls on a Context that already carries a transaction handle reuse it
// rather than beginning a second one.
func (c *Context) Transaction(datasource string, fn func(txCtx *Context) error) (err error) {
	if c.tx != nil {
		return fn(c)
	}

	d, ok := c.rt.drivers[datasource]
	if !ok {
		return apierr.Internal("no driver registered for datasource "+datasource, nil)
	}
	transactor, ok := d.(driver.Transactor)
	if !ok || !d.Capabilities().Transactions {
		// Driver doesn't support transactions: run fn directly, still
		// under a child context so Object() calls see a consistent
		// c.tx (nil), matching "uniform" requirement.
		return fn(c.withTx(nil))
	}

	tx, err := transactor.BeginTx(c.std)
	if err != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "could not begin transaction", err)
	}

	txCtx := c.withTx(tx)
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(c.std)
			panic(r)
		}
	}()

	if err = fn(txCtx); err != nil {
		if rbErr := tx.Rollback(c.std); rbErr != nil {
			return apierr.Internal("rollback failed after operation error", err)
		}
		return err
	}
	if commitErr := tx.Commit(c.std); commitErr != nil {
		return apierr.Wrap(apierr.CodeDriverConnectionFailed, "commit failed", commitErr)
	}
	return nil
}
