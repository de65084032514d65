package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	if err := store.Set("donation-progress", []byte(`{"currentAmount":5}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get("donation-progress")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"currentAmount":5}` {
		t.Fatalf("unexpected value %s", got)
	}

	// ensure mutation safety
	got[0] = 'X'
	again, err := store.Get("donation-progress")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(again, got) {
		t.Fatalf("expected stored blob to be unaffected, got %s", again)
	}
}

func TestStorageMissingAndDelete(t *testing.T) {
	t.Parallel()

	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "overlay.db"))
	if err != nil {
		t.Fatalf("OpenBolt returned error: %v", err)
	}
	t.Cleanup(func() { _ = bolt.Close() })

	stores := map[string]Storage{
		"memory": NewMemoryStorage(),
		"bolt":   bolt,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := store.Set("k", []byte("v")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := store.Delete("k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := store.Get("k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := store.Delete("k"); err != nil {
				t.Fatalf("deleting a missing key should succeed, got %v", err)
			}
			if err := store.Set(" ", []byte("v")); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestBoltStoragePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.db")

	store, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt returned error: %v", err)
	}
	if err := store.Set("donation-progress", []byte("payload")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get("donation-progress")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestOpenBoltRequiresPath(t *testing.T) {
	if _, err := OpenBolt("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	store := NewMemoryStorage()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(2)

		go func(offset int) {
			defer wg.Done()
			if err := store.Set("k", []byte(fmt.Sprintf("v%d", offset))); err != nil {
				t.Errorf("Set failed: %v", err)
			}
		}(i)

		go func() {
			defer wg.Done()
			if _, err := store.Get("k"); err != nil && !errors.Is(err, ErrNotFound) {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}

	wg.Wait()

	// final read should succeed
	if _, err := store.Get("k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
