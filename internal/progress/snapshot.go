package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/storage"
)

// SnapshotKey is the storage key holding the persisted progress.
const SnapshotKey = "donation-progress"

// Snapshot is the persisted form of the progress state.
type Snapshot struct {
	CurrentAmount float64             `json:"currentAmount"`
	Donations     []donation.Donation `json:"donations"`
	InitialAmount float64             `json:"initialAmount"`
	LastUpdated   time.Time           `json:"lastUpdated"`
}

// ReadSnapshot loads the persisted snapshot. It returns ErrNoSnapshot when
// nothing is stored and ErrInvalidSnapshot when the blob does not decode.
func ReadSnapshot(store storage.Storage) (Snapshot, error) {
	raw, err := store.Get(SnapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var decoded *snapshotWire
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if decoded == nil {
		return Snapshot{}, fmt.Errorf("%w: null payload", ErrInvalidSnapshot)
	}

	snap := Snapshot{
		CurrentAmount: decoded.CurrentAmount,
		Donations:     decoded.Donations,
		InitialAmount: decoded.InitialAmount,
	}
	// lastUpdated is informational only; an unreadable value does not invalidate the snapshot.
	if updated, err := time.Parse(time.RFC3339Nano, decoded.LastUpdated); err == nil {
		snap.LastUpdated = updated
	}
	return snap, nil
}

type snapshotWire struct {
	CurrentAmount float64             `json:"currentAmount"`
	Donations     []donation.Donation `json:"donations"`
	InitialAmount float64             `json:"initialAmount"`
	LastUpdated   string              `json:"lastUpdated"`
}

// WriteSnapshot persists the snapshot.
func WriteSnapshot(store storage.Storage, snap Snapshot) error {
	if snap.Donations == nil {
		snap.Donations = []donation.Donation{}
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := store.Set(SnapshotKey, payload); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ClearSnapshot removes any persisted snapshot.
func ClearSnapshot(store storage.Storage) error {
	if err := store.Delete(SnapshotKey); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
