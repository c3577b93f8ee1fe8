package boltdb

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketSession  = []byte("session")
	bucketEntities = []byte("entities")
	bucketPending  = []byte("pending")
	bucketMeta     = []byte("meta")
)

// Storage represents BoltDB client storage implementation
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the database file, created if missing
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Создаем все buckets заранее
	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketSession, bucketEntities, bucketPending, bucketMeta}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}
