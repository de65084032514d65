package progress

import "errors"

var (
	// ErrInvalidSnapshot is returned when a persisted snapshot cannot be decoded.
	ErrInvalidSnapshot = errors.New("persisted progress snapshot is invalid")
	// ErrNoSnapshot is returned when nothing has been persisted yet.
	ErrNoSnapshot = errors.New("no persisted progress snapshot")
)
