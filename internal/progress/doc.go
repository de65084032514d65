// Package progress holds the donation progress state, the pure transitions
// applied to it, and the reconciler that decides on startup whether to resume
// persisted progress or start fresh.
package progress
