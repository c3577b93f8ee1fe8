package storage

import (
	"context"
	"time"
)

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveLastSync saves the watermark of the last successful sync
	SaveLastSync(ctx context.Context, t time.Time) error

	// GetLastSync retrieves the watermark of the last successful sync
	// Returns zero time if no sync has been performed yet
	GetLastSync(ctx context.Context) (time.Time, error)
}
