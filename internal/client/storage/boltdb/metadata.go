package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var lastSyncKey = []byte("last_sync")

// SaveLastSync saves the watermark of the last successful sync
func (s *Storage) SaveLastSync(ctx context.Context, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}

		data, err := t.MarshalText()
		if err != nil {
			return fmt.Errorf("failed to marshal timestamp: %w", err)
		}

		if err := bucket.Put(lastSyncKey, data); err != nil {
			return fmt.Errorf("failed to save last sync: %w", err)
		}

		return nil
	})
}

// GetLastSync retrieves the watermark of the last successful sync
// Returns zero time if no sync has been performed yet
func (s *Storage) GetLastSync(ctx context.Context) (time.Time, error) {
	var result time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}

		data := bucket.Get(lastSyncKey)
		if data == nil {
			return nil
		}

		if err := result.UnmarshalText(data); err != nil {
			return fmt.Errorf("failed to unmarshal timestamp: %w", err)
		}

		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	return result, nil
}
