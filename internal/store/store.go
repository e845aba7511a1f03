// Package store provides a uniform keyed store with swappable memory, file,
// and redis backends. Deletes of unknown keys are silent no-ops; lookups of
// unknown keys report absence rather than erroring, so callers own their own
// not-found semantics.
package store

import "context"

// Store persists values of one entity type keyed by string id.
type Store[V any] interface {
	// Get returns the value for id and whether it exists.
	Get(ctx context.Context, id string) (V, bool, error)

	// Upsert inserts or overwrites the value for id.
	Upsert(ctx context.Context, id string, value V) error

	// Delete removes id. Unknown ids are a no-op.
	Delete(ctx context.Context, id string) error

	// List returns values matching the filter in insertion order. A nil
	// filter matches everything.
	List(ctx context.Context, filter func(V) bool) ([]V, error)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
