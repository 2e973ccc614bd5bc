// Package store provides data persistence interfaces and implementations.
package store

import "context"

// Repository persists JSON-encoded collection snapshots keyed by logical
// namespace and owner identifier. The persisted copy is a best-effort warm
// start only and is never treated as a correctness source.
type Repository interface {
	// ReadList returns the persisted JSON payload for a collection, or nil
	// when none is stored.
	ReadList(ctx context.Context, namespace, ownerID string) ([]byte, error)

	// WriteList replaces the persisted JSON payload for a collection.
	WriteList(ctx context.Context, namespace, ownerID string, payload []byte) error

	// DeleteList removes the persisted payload for a collection.
	DeleteList(ctx context.Context, namespace, ownerID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Collection namespaces persisted by the engine.
const (
	NamespaceInterviews = "interviews"
	NamespaceJobs       = "jobs"
)
