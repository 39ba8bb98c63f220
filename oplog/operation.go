// Package oplog implements the operation log and the asynchronous
// persistence task behind it: every row mutation is captured as an
// Operation and handed to a single background worker, decoupling the
// in-memory write path from disk I/O.
package oplog

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/secidx"
)

// Kind is the mutation an Operation replays against a persistence
// engine.
type Kind uint8

const (
	KindInsert Kind = iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one durable unit of work queued for the persistence task.
// Its ID is a UUIDv7 so operations sort chronologically by ID alone,
// with no separate sequence counter.
type Operation struct {
	ID   uuid.UUID
	Kind Kind

	// Link is the row's heap location this operation affects. For
	// Update it is the new location; OldLink carries the previous one
	// so a persistence engine can reclaim it. For Delete, Link is zero
	// and OldLink is the deleted row's location.
	Link    index.Link
	OldLink index.Link

	// Encoded is the row's serialized bytes, present for Insert/Update.
	Encoded []byte

	// PrimaryEvents is the primary index's CDC stream for this
	// mutation.
	PrimaryEvents []index.ChangeEvent

	// SecondaryEvents is the per-secondary-index CDC bundle.
	SecondaryEvents secidx.EventBundle

	// PKGenState snapshots the primary-key generator's resumable state
	// at the moment of this Insert, so a crash between this operation
	// being queued and it being durably applied can still restore a
	// generator that never reissues a key.
	PKGenState []byte

	// OnApplied, if set, is invoked by Task once this operation has been
	// handed to ApplyOperation, success or failure: a failed apply is
	// logged and not retried, so a waiter must not block forever on it.
	// Table uses this to release the per-column rowlock.RowLock entry a
	// write touched, letting WaitForRow watch a single primary key
	// instead of draining the whole queue.
	OnApplied func()
}

// NewOperation builds an Operation with a freshly minted UUIDv7 id.
func NewOperation(kind Kind, link, oldLink index.Link, encoded []byte, primary []index.ChangeEvent, secondary secidx.EventBundle, pkState []byte) (Operation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Operation{}, errors.Wrap(err, "oplog: generate operation id")
	}
	return Operation{
		ID:              id,
		Kind:            kind,
		Link:            link,
		OldLink:         oldLink,
		Encoded:         encoded,
		PrimaryEvents:   primary,
		SecondaryEvents: secondary,
		PKGenState:      pkState,
	}, nil
}

// PersistenceEngine is whatever durable backend replays Operations. A
// persistent table's space implements this; an in-memory-only table
// never constructs a Task at all.
type PersistenceEngine interface {
	ApplyOperation(op Operation) error
}
