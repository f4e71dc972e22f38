// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// transaction wraps sqlx.Tx, tracking commit state so deferred rollbacks
// stay quiet after a successful commit.
type transaction struct {
	*sqlx.Tx
	sqlStore  *SQLStore
	committed bool
}

// Commit commits the pending transaction.
func (t *transaction) Commit() error {
	err := t.Tx.Commit()
	if err == nil {
		t.committed = true
	}
	return err
}

// RollbackUnlessCommitted rollbacks the transaction if it has not been
// committed, logging any error doing so.
func (t *transaction) RollbackUnlessCommitted() {
	if t.committed {
		return
	}

	err := t.Tx.Rollback()
	if err != nil {
		t.sqlStore.logger.WithError(err).Error("failed to roll back transaction")
	}
}

// beginTransaction begins a transaction against the store's database.
func (sqlStore *SQLStore) beginTransaction(db *sqlx.DB) (*transaction, error) {
	tx, err := db.Beginx()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	return &transaction{
		Tx:       tx,
		sqlStore: sqlStore,
	}, nil
}
