package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/snugom/snugom/internal/search"
)

// ErrNotFound is returned by GetOrError when the entity doesn't exist.
var ErrNotFound = errors.New("repo: entity not found")

// ErrSearchUnavailable is returned by operations that need a search.Manager
// (Count, UpdateMany/DeleteMany by query, EnsureIndexes) when the
// Repository was constructed without one.
var ErrSearchUnavailable = errors.New("repo: search manager not configured")

// Get reads id directly (no script involved), decoding the stored document
// into T. The bool result reports whether the entity existed.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	raw, err := r.store.Get(ctx, r.entityKey(id)).Result()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("repo: get %s: %w", id, err)
	}
	out, err := decodeJSONEntity[T](raw)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// GetOrError is Get, returning ErrNotFound instead of a false bool.
func (r *Repository[T]) GetOrError(ctx context.Context, id string) (T, error) {
	out, ok, err := r.Get(ctx, id)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, nil
}

// Exists reports whether id currently exists, without decoding its body.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.store.Get(ctx, r.entityKey(id)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repo: exists %s: %w", id, err)
	}
	return true, nil
}

// Count returns the number of entities in the collection, via the search
// index's reported total for a match-everything query. Requires EnsureIndexes
// to have been called at least once.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	if r.search == nil {
		return 0, ErrSearchUnavailable
	}
	res, err := r.search.Search(ctx, r.search.SchemaFor(r.descriptor), search.Query{PageSize: 1})
	if err != nil {
		return 0, fmt.Errorf("repo: count: %w", err)
	}
	return res.Total, nil
}

func decodeJSONEntity[T any](raw string) (T, error) {
	var doc map[string]any
	var out T
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return out, fmt.Errorf("repo: decode stored entity: %w", err)
	}
	return decodeDoc[T](doc)
}
