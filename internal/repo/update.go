package repo

import (
	"context"
	"fmt"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/relation"
	"github.com/snugom/snugom/internal/script"
	"github.com/snugom/snugom/internal/search"
	"github.com/snugom/snugom/internal/validate"
)

// UpdateOptions customizes Update beyond the field mask itself.
type UpdateOptions struct {
	ExpectedVersion *int64
	Relations       *relation.Batch
}

// Update applies fieldMask to id as a Patch command, returning the merged
// entity.
func (r *Repository[T]) Update(ctx context.Context, id string, fieldMask map[string]any) (T, error) {
	return r.UpdateWithOptions(ctx, id, fieldMask, UpdateOptions{})
}

// UpdateWithOptions is Update generalized to accept an optimistic-version
// check or an atomic relation batch.
func (r *Repository[T]) UpdateWithOptions(ctx context.Context, id string, fieldMask map[string]any, opts UpdateOptions) (T, error) {
	var zero T
	mask := make(map[string]any, len(fieldMask))
	for k, v := range fieldMask {
		mask[k] = v
	}
	applyUpdateDefaults(r.descriptor, mask, r.clock.Now())

	present := make(map[string]bool, len(mask))
	for k := range mask {
		present[k] = true
	}
	if verr := validate.Evaluate(r.descriptor, mask, present, true); verr != nil {
		return zero, fmt.Errorf("repo: update %s: %w", id, verr)
	}

	cmd := &script.PatchCommand{
		Prefix:          r.kctx.Prefix,
		Descriptor:      r.wire,
		ID:              id,
		FieldMask:       mask,
		ExpectedVersion: opts.ExpectedVersion,
		NowMillis:       idgen.EpochMillis(r.clock.Now()),
		Registry:        r.registrySnapshot(),
	}
	if opts.Relations != nil && !opts.Relations.Empty() {
		cmd.Relations = opts.Relations.Directives()
	}

	resp, err := r.store.Invoke(ctx, cmd)
	if err != nil {
		return zero, err
	}
	doc, _ := resp["document"].(map[string]any)
	return decodeDoc[T](doc)
}

// UpdateManyByIDs applies fieldMask to every id concurrently, bounded by
// Repository.Concurrency, since cross-command atomicity across separate ids
// isn't guaranteed regardless of whether they run sequentially or not.
func (r *Repository[T]) UpdateManyByIDs(ctx context.Context, ids []string, fieldMask map[string]any) []ItemError {
	errs := runBounded(len(ids), r.concurrency(), func(i int) error {
		_, err := r.Update(ctx, ids[i], fieldMask)
		return err
	})
	return collectItemErrors(ids, errs)
}

// UpdateMany runs q against the search index, then applies fieldMask to
// every matching ID via UpdateManyByIDs.
func (r *Repository[T]) UpdateMany(ctx context.Context, q search.Query, fieldMask map[string]any) (int, []ItemError, error) {
	if r.search == nil {
		return 0, nil, ErrSearchUnavailable
	}
	ids, err := r.searchIDs(ctx, q)
	if err != nil {
		return 0, nil, fmt.Errorf("repo: update_many: %w", err)
	}
	itemErrs := r.UpdateManyByIDs(ctx, ids, fieldMask)
	return len(ids) - len(itemErrs), itemErrs, nil
}

func (r *Repository[T]) searchIDs(ctx context.Context, q search.Query) ([]string, error) {
	res, err := r.search.Search(ctx, r.search.SchemaFor(r.descriptor), q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}
