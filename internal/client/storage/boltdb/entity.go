package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/zetra-hq/zetra-sync/internal/client/storage"
)

// entityKey строит ключ bucket'а: "<type>/<id>"
// Префиксный scan по типу дает ListEntities без отдельного индекса
func entityKey(entityType, entityID string) []byte {
	return []byte(entityType + "/" + entityID)
}

// SaveEntity stores or replaces a cached entity
func (s *Storage) SaveEntity(ctx context.Context, entity *storage.CachedEntity) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntities)
		if bucket == nil {
			return fmt.Errorf("entities bucket not found")
		}

		if err := bucket.Put(entityKey(entity.EntityType, entity.EntityID), data); err != nil {
			return fmt.Errorf("failed to save entity: %w", err)
		}

		return nil
	})
}

// GetEntity retrieves a cached entity
func (s *Storage) GetEntity(ctx context.Context, entityType, entityID string) (*storage.CachedEntity, error) {
	var entity *storage.CachedEntity

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntities)
		if bucket == nil {
			return fmt.Errorf("entities bucket not found")
		}

		data := bucket.Get(entityKey(entityType, entityID))
		if data == nil {
			return storage.ErrEntityNotFound
		}

		entity = &storage.CachedEntity{}
		if err := json.Unmarshal(data, entity); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entity, nil
}

// ListEntities returns all non-deleted cached entities of a type
func (s *Storage) ListEntities(ctx context.Context, entityType string) ([]*storage.CachedEntity, error) {
	entities := []*storage.CachedEntity{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntities)
		if bucket == nil {
			return fmt.Errorf("entities bucket not found")
		}

		return bucket.ForEach(func(k, v []byte) error {
			if entityType != "" && !strings.HasPrefix(string(k), entityType+"/") {
				return nil
			}

			entity := &storage.CachedEntity{}
			if err := json.Unmarshal(v, entity); err != nil {
				return fmt.Errorf("failed to unmarshal entity %s: %w", k, err)
			}

			if !entity.Deleted {
				entities = append(entities, entity)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entities, nil
}

// DeleteEntity removes a cached entity outright
func (s *Storage) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntities)
		if bucket == nil {
			return fmt.Errorf("entities bucket not found")
		}

		return bucket.Delete(entityKey(entityType, entityID))
	})
}

// Clear removes all cached entities
func (s *Storage) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntities); err != nil {
			return fmt.Errorf("failed to delete entities bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketEntities); err != nil {
			return fmt.Errorf("failed to recreate entities bucket: %w", err)
		}
		return nil
	})
}
