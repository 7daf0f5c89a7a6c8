package repo

import (
	"context"
	"fmt"

	"github.com/snugom/snugom/internal/script"
	"github.com/snugom/snugom/internal/search"
)

// Delete removes id and cascades per its descriptor's relations, returning
// the number of additional entities removed as a result (not counting id
// itself).
func (r *Repository[T]) Delete(ctx context.Context, id string) (int, error) {
	return r.deleteWithVersion(ctx, id, nil)
}

// DeleteWithVersion is Delete with an optimistic-concurrency check.
func (r *Repository[T]) DeleteWithVersion(ctx context.Context, id string, expectedVersion int64) (int, error) {
	return r.deleteWithVersion(ctx, id, &expectedVersion)
}

func (r *Repository[T]) deleteWithVersion(ctx context.Context, id string, expectedVersion *int64) (int, error) {
	cmd := &script.DeleteCommand{
		Prefix:          r.kctx.Prefix,
		Descriptor:      r.wire,
		ID:              id,
		ExpectedVersion: expectedVersion,
		Registry:        r.registrySnapshot(),
	}
	resp, err := r.store.Invoke(ctx, cmd)
	if err != nil {
		return 0, err
	}
	cascaded, _ := resp["cascaded"].(int)
	if cascaded == 0 {
		if f, ok := resp["cascaded"].(float64); ok {
			cascaded = int(f)
		}
	}
	return cascaded, nil
}

// DeleteManyByIDs deletes every id concurrently, bounded by
// Repository.Concurrency.
func (r *Repository[T]) DeleteManyByIDs(ctx context.Context, ids []string) []ItemError {
	errs := runBounded(len(ids), r.concurrency(), func(i int) error {
		_, err := r.Delete(ctx, ids[i])
		return err
	})
	return collectItemErrors(ids, errs)
}

// DeleteMany runs q against the search index, then deletes every matching
// ID via DeleteManyByIDs.
func (r *Repository[T]) DeleteMany(ctx context.Context, q search.Query) (int, []ItemError, error) {
	if r.search == nil {
		return 0, nil, ErrSearchUnavailable
	}
	ids, err := r.searchIDs(ctx, q)
	if err != nil {
		return 0, nil, fmt.Errorf("repo: delete_many: %w", err)
	}
	itemErrs := r.DeleteManyByIDs(ctx, ids)
	return len(ids) - len(itemErrs), itemErrs, nil
}
