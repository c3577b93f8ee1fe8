package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// seqKey кодирует sequence number в big endian: лексикографический
// порядок ключей bbolt совпадает с числовым, курсор дает FIFO
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Enqueue appends an operation to the queue
func (s *Storage) Enqueue(ctx context.Context, op *api.SyncOperation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return fmt.Errorf("pending bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		pending := storage.PendingOperation{
			Operation: *op,
			Seq:       seq,
		}

		data, err := json.Marshal(pending)
		if err != nil {
			return fmt.Errorf("failed to marshal pending operation: %w", err)
		}

		if err := bucket.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to enqueue operation: %w", err)
		}

		return nil
	})
}

// List returns all pending operations in FIFO order
func (s *Storage) List(ctx context.Context) ([]*storage.PendingOperation, error) {
	ops := []*storage.PendingOperation{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return fmt.Errorf("pending bucket not found")
		}

		return bucket.ForEach(func(k, v []byte) error {
			pending := &storage.PendingOperation{}
			if err := json.Unmarshal(v, pending); err != nil {
				return fmt.Errorf("failed to unmarshal pending operation: %w", err)
			}
			ops = append(ops, pending)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

// Remove deletes operations by sequence numbers (after server ack)
func (s *Storage) Remove(ctx context.Context, seqs []uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return fmt.Errorf("pending bucket not found")
		}

		for _, seq := range seqs {
			if err := bucket.Delete(seqKey(seq)); err != nil {
				return fmt.Errorf("failed to remove operation %d: %w", seq, err)
			}
		}

		return nil
	})
}

// Count returns the number of pending operations
func (s *Storage) Count(ctx context.Context) (int, error) {
	count := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending)
		if bucket == nil {
			return fmt.Errorf("pending bucket not found")
		}

		count = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}
