// Package queue implements the offline write queue: writes that cannot reach
// the remote store are buffered in the local store and replayed, in insertion
// order, once connectivity returns. Delivery is at-least-once; there is no
// conflict resolution for concurrent edits.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"savingsd/pkg/localstore"
)

// Op kinds understood by the replayer.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Target tables understood by the replayer.
const (
	TableTransactions   = "transactions"
	TableSavingsRecords = "savings_records"
	TableUserSettings   = "user_settings"
)

// Remote applies a single buffered op against the remote store.
type Remote interface {
	Apply(ctx context.Context, op localstore.PendingOp) error
}

// Queue buffers writes in the local store and drains them against a Remote.
type Queue struct {
	store   *localstore.Store
	rounds  int
	backoff time.Duration
	sleep   func(time.Duration) // replaced in tests
}

// New returns a queue persisting into store, retrying failed replay rounds a
// few times with linear backoff.
func New(store *localstore.Store) *Queue {
	return &Queue{
		store:   store,
		rounds:  3,
		backoff: 2 * time.Second,
		sleep:   time.Sleep,
	}
}

// Enqueue appends an operation descriptor to the queue. The payload is
// marshalled to JSON so the op survives a process restart.
func (q *Queue) Enqueue(op, table string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s %s: %w", op, table, err)
	}
	return q.store.AppendOp(&localstore.PendingOp{Op: op, TargetTable: table, Payload: body})
}

// Pending returns the number of buffered ops.
func (q *Queue) Pending() (int64, error) {
	return q.store.CountOps()
}

// Replay drains the queue against remote. Ops run in insertion order; a
// delivered op is deleted, a failed one keeps its place with an incremented
// attempt counter. Rounds repeat while failures remain, up to the retry cap,
// sleeping a linearly growing backoff between rounds. Returns the number of
// ops delivered.
func (q *Queue) Replay(ctx context.Context, remote Remote) (int, error) {
	delivered := 0
	for round := 0; round < q.rounds; round++ {
		if round > 0 {
			q.sleep(time.Duration(round) * q.backoff)
		}
		ops, err := q.store.ListOps()
		if err != nil {
			return delivered, err
		}
		if len(ops) == 0 {
			return delivered, nil
		}
		failures := 0
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			if err := remote.Apply(ctx, op); err != nil {
				if merr := q.store.MarkOpFailed(op.ID, err.Error()); merr != nil {
					return delivered, merr
				}
				failures++
				continue
			}
			if err := q.store.DeleteOp(op.ID); err != nil {
				return delivered, err
			}
			delivered++
		}
		if failures == 0 {
			return delivered, nil
		}
	}
	return delivered, nil
}
