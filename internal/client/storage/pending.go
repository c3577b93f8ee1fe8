package storage

import (
	"context"

	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// PendingOperation операция, ожидающая отправки на сервер.
// Seq задает FIFO порядок: операции против одной сущности должны
// уходить в порядке создания.
type PendingOperation struct {
	Operation api.SyncOperation `json:"operation"`
	Seq       uint64            `json:"seq"`
}

// PendingQueue defines interface for the outgoing operation queue
type PendingQueue interface {
	// Enqueue appends an operation to the queue
	Enqueue(ctx context.Context, op *api.SyncOperation) error

	// List returns all pending operations in FIFO order
	List(ctx context.Context) ([]*PendingOperation, error)

	// Remove deletes operations by sequence numbers (after server ack)
	Remove(ctx context.Context, seqs []uint64) error

	// Count returns the number of pending operations
	Count(ctx context.Context) (int, error)
}
