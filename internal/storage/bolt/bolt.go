package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/quotawatch/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketState = "state"
	keyCurrent  = "current"
)

// Store implements storage.Store using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParent(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketState)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketState, err)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the current state record.
func (s *Store) Load(ctx context.Context) (*storage.Record, error) {
	var record storage.Record
	if err := getBucketValue(s.db, bucketState, keyCurrent, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Save replaces the current state record.
func (s *Store) Save(ctx context.Context, record storage.Record) error {
	return putBucketValue(s.db, bucketState, keyCurrent, record)
}

func getBucketValue(db *bbolt.DB, bucket, key string, out any) error {
	return db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal value: %w", err)
		}
		return nil
	})
}

func putBucketValue(db *bbolt.DB, bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		return b.Put([]byte(key), data)
	})
}
