// Package storage provides the opaque key-value blob store used to persist
// overlay progress between sessions: an in-memory implementation for tests and
// ephemeral runs, and a BoltDB implementation for durable deployments.
package storage
