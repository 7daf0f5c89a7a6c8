package repo

import (
	"context"
	"fmt"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/relation"
	"github.com/snugom/snugom/internal/script"
	"github.com/snugom/snugom/internal/validate"
)

// UpsertOptions customizes Upsert beyond the field mask and fallback create
// body.
type UpsertOptions struct {
	ExpectedVersion *int64
	Relations       *relation.Batch
}

// Upsert patches id with fieldMask if it exists, or creates it from
// createEntity otherwise — the branching "upsert_branch" script spec §4.E
// calls "upsert (branching)".
func (r *Repository[T]) Upsert(ctx context.Context, id string, fieldMask map[string]any, createEntity T) (T, error) {
	return r.UpsertWithOptions(ctx, id, fieldMask, createEntity, UpsertOptions{})
}

// UpsertWithOptions is Upsert generalized to accept an optimistic-version
// check or an atomic relation batch, applied on whichever branch the script
// takes.
func (r *Repository[T]) UpsertWithOptions(ctx context.Context, id string, fieldMask map[string]any, createEntity T, opts UpsertOptions) (T, error) {
	var zero T

	mask := make(map[string]any, len(fieldMask))
	for k, v := range fieldMask {
		mask[k] = v
	}
	now := r.clock.Now()
	applyUpdateDefaults(r.descriptor, mask, now)
	present := make(map[string]bool, len(mask))
	for k := range mask {
		present[k] = true
	}
	if verr := validate.Evaluate(r.descriptor, mask, present, true); verr != nil {
		return zero, fmt.Errorf("repo: upsert %s: %w", id, verr)
	}

	createDoc, err := encodeDoc(createEntity)
	if err != nil {
		return zero, err
	}
	applyCreateDefaults(r.descriptor, createDoc, now)
	if verr := validate.Evaluate(r.descriptor, createDoc, nil, false); verr != nil {
		return zero, fmt.Errorf("repo: upsert %s (create branch): %w", id, verr)
	}

	newID, err := idgen.NewEntityID()
	if err != nil {
		return zero, err
	}

	cmd := &script.UpsertBranchCommand{
		Prefix:          r.kctx.Prefix,
		Descriptor:      r.wire,
		ID:              id,
		NewID:           newID,
		FieldMask:       mask,
		CreateDocument:  createDoc,
		ExpectedVersion: opts.ExpectedVersion,
		NowMillis:       idgen.EpochMillis(now),
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

// GetOrCreate returns the entity at id if it exists, or creates it from
// createEntity and returns the new entity otherwise. createEntity's own ID,
// if any, is ignored: the entity is created under id, or under a freshly
// minted ID when id is empty.
func (r *Repository[T]) GetOrCreate(ctx context.Context, id string, createEntity T) (T, error) {
	var zero T

	doc, err := encodeDoc(createEntity)
	if err != nil {
		return zero, err
	}
	now := r.clock.Now()
	applyCreateDefaults(r.descriptor, doc, now)
	if verr := validate.Evaluate(r.descriptor, doc, nil, false); verr != nil {
		return zero, fmt.Errorf("repo: get_or_create %s: %w", id, verr)
	}

	newID, err := idgen.NewEntityID()
	if err != nil {
		return zero, err
	}

	cmd := &script.GetOrCreateCommand{
		Prefix:     r.kctx.Prefix,
		Descriptor: r.wire,
		ID:         id,
		NewID:      newID,
		Document:   doc,
		NowMillis:  idgen.EpochMillis(now),
	}

	resp, err := r.store.Invoke(ctx, cmd)
	if err != nil {
		return zero, err
	}
	out, _ := resp["document"].(map[string]any)
	return decodeDoc[T](out)
}
