package storage

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no value is stored under the requested key.
	ErrNotFound = errors.New("key not found")
	// ErrInvalidKey indicates an empty key was provided.
	ErrInvalidKey = errors.New("key must not be empty")
)

// Storage is an opaque key-value blob store.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// MemoryStorage keeps blobs in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStorage initialises an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blobs: make(map[string][]byte),
	}
}

// Get returns a copy of the blob stored under key.
func (s *MemoryStorage) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

// Set stores a copy of value under key.
func (s *MemoryStorage) Set(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	s.blobs[key] = clone(value)
	s.mu.Unlock()

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStorage) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()

	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

func clone(src []byte) []byte {
	if src == nil {
		return []byte{}
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}
