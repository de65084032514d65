package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const blobBucket = "overlay"

// BoltStorage persists blobs in a single BoltDB bucket so progress survives restarts.
type BoltStorage struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a BoltDB-backed store at the provided path.
func OpenBolt(path string) (*BoltStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(blobBucket)); err != nil {
			return fmt.Errorf("create %s bucket: %w", blobBucket, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Close closes the underlying BoltDB database.
func (s *BoltStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the blob stored under key.
func (s *BoltStorage) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blobBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", blobBucket)
		}
		value := bucket.Get([]byte(key))
		if value == nil {
			return ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction.
		out = clone(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value under key.
func (s *BoltStorage) Set(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blobBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", blobBucket)
		}
		return bucket.Put([]byte(key), clone(value))
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BoltStorage) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blobBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", blobBucket)
		}
		return bucket.Delete([]byte(key))
	})
}
