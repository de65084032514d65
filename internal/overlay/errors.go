package overlay

import "errors"

var (
	// ErrClosed is returned once the runtime has been closed.
	ErrClosed = errors.New("overlay runtime closed")
	// ErrNotLoaded is returned before the first configuration has been loaded.
	ErrNotLoaded = errors.New("overlay not loaded")
)
