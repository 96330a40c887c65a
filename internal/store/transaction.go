package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type contextKey int

const transactionKey contextKey = iota

var ErrNoTransaction = errors.New("no transaction in progress")

// Tx is the transaction carried by a context. Every sub-store resolves its
// *gorm.DB through FromContext, so all the writes issued with that context
// land in the same transaction.
type Tx struct {
	id  int64
	db  *gorm.DB
	log *zap.SugaredLogger
}

// FromContext returns the open transaction of ctx, or nil.
func FromContext(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok || tx == nil || tx.db == nil {
		return nil
	}
	return tx.db
}

// Commit ends the transaction of ctx. A context without a transaction is left
// untouched. The returned context no longer carries the transaction.
func Commit(ctx context.Context) (context.Context, error) {
	return endTransaction(ctx, (*Tx).commit)
}

// Rollback aborts the transaction of ctx, see Commit.
func Rollback(ctx context.Context) (context.Context, error) {
	return endTransaction(ctx, (*Tx).rollback)
}

func endTransaction(ctx context.Context, end func(*Tx) error) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok || tx == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, transactionKey, (*Tx)(nil)), end(tx)
}

// newTransactionContext opens a transaction unless ctx already carries one;
// nested calls join the outer transaction.
func newTransactionContext(ctx context.Context, db *gorm.DB) (context.Context, error) {
	if FromContext(ctx) != nil {
		return ctx, nil
	}

	gtx := db.Session(&gorm.Session{Context: ctx}).Begin()
	if gtx.Error != nil {
		return ctx, gtx.Error
	}

	tx := &Tx{db: gtx, log: zap.S().Named("store")}
	if gtx.Dialector.Name() == "postgres" {
		// txid_current is only unique between two wraparounds, good enough for logs
		var row struct{ ID int64 }
		gtx.Raw("select txid_current() as id").Scan(&row)
		tx.id = row.ID
	}

	return context.WithValue(ctx, transactionKey, tx), nil
}

func (t *Tx) commit() error {
	if t.db == nil {
		return ErrNoTransaction
	}
	if err := t.db.Commit().Error; err != nil {
		t.log.Errorw("failed to commit transaction", "tx_id", t.id, "error", err)
		return err
	}
	t.db = nil
	t.log.Debugw("transaction committed", "tx_id", t.id)
	return nil
}

func (t *Tx) rollback() error {
	if t.db == nil {
		return ErrNoTransaction
	}
	if err := t.db.Rollback().Error; err != nil {
		t.log.Errorw("failed to rollback transaction", "tx_id", t.id, "error", err)
		return err
	}
	t.db = nil
	t.log.Debugw("transaction rolled back", "tx_id", t.id)
	return nil
}
