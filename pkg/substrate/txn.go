package substrate

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/harisbotic/ustore/pkg/logger"
)

// Txn batches substrate operations so they commit atomically. Reads
// through a transaction observe its own staged writes. Pebble applies
// committed batches atomically, so a commit either lands whole or not
// at all; there is no cross-transaction conflict detection, callers
// serialize conflicting writers themselves.
type Txn struct {
	db    *DB
	batch *pebble.Batch
	done  bool
}

// Begin opens a transaction.
func (db *DB) Begin() *Txn {
	return &Txn{db: db, batch: db.pb.NewIndexedBatch()}
}

// Commit applies every staged operation atomically.
func (t *Txn) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	if err := t.batch.Commit(t.db.writeOpt()); err != nil {
		logger.Error("txn_commit_failed", "error", err)
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Abort discards the transaction.
func (t *Txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.batch.Close()
}
