package repo

import (
	"context"
	"fmt"
)

// EnsureIndexes idempotently creates this collection's RediSearch index if
// it doesn't already exist, per spec §4.E's "ensure_indexes()". Safe to call
// on every process startup. An existing index is left as it is, even when the
// descriptor's index fields have changed since it was created.
func (r *Repository[T]) EnsureIndexes(ctx context.Context) error {
	if r.search == nil {
		return ErrSearchUnavailable
	}
	schema := r.search.SchemaFor(r.descriptor)
	if err := r.search.EnsureIndex(ctx, schema); err != nil {
		return fmt.Errorf("repo: ensure_indexes %s: %w", r.descriptor.Collection, err)
	}
	return nil
}
