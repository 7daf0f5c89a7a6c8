package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/relation"
	"github.com/snugom/snugom/internal/script"
	"github.com/snugom/snugom/internal/validate"
)

// CreateResult is the outcome of a single create: the minted or supplied ID
// and the entity's post-write version (nil if the collection has no version
// field).
type CreateResult struct {
	ID      string
	Version *int64
}

// CreateOptions customizes Create/CreateAndGet beyond the entity body
// itself.
type CreateOptions struct {
	// ID overrides the minted entity ID. Leave empty to mint one.
	ID string
	// IdempotencyKey, if set, makes a repeated Create with the same key
	// return the original entity (replayed=true) rather than creating a
	// second one.
	IdempotencyKey string
	// IdempotencyTTLSeconds overrides Repository.IdempotencyTTL for this
	// call. Zero means "use Repository.IdempotencyTTL".
	IdempotencyTTLSeconds int64
	// Relations is applied atomically alongside the create.
	Relations *relation.Batch
}

// Create builds and runs an Upsert command from entity, returning the
// minted ID and version.
func (r *Repository[T]) Create(ctx context.Context, entity T) (CreateResult, error) {
	res, _, err := r.create(ctx, entity, CreateOptions{})
	return res, err
}

// CreateAndGet is Create, decoding the script's full response document back
// into T instead of just reporting the ID/version.
func (r *Repository[T]) CreateAndGet(ctx context.Context, entity T) (T, error) {
	_, out, err := r.create(ctx, entity, CreateOptions{})
	return out, err
}

// CreateWithOptions is Create/CreateAndGet generalized to accept an
// idempotency key, explicit ID, or an atomic relation batch.
func (r *Repository[T]) CreateWithOptions(ctx context.Context, entity T, opts CreateOptions) (T, error) {
	_, out, err := r.create(ctx, entity, opts)
	return out, err
}

func (r *Repository[T]) create(ctx context.Context, entity T, opts CreateOptions) (CreateResult, T, error) {
	var zero T
	doc, err := encodeDoc(entity)
	if err != nil {
		return CreateResult{}, zero, err
	}

	now := r.clock.Now()
	applyCreateDefaults(r.descriptor, doc, now)
	if verr := validate.Evaluate(r.descriptor, doc, nil, false); verr != nil {
		return CreateResult{}, zero, fmt.Errorf("repo: create %s: %w", r.descriptor.Collection, verr)
	}

	newID := opts.ID
	if newID == "" {
		newID, err = idgen.NewEntityID()
		if err != nil {
			return CreateResult{}, zero, err
		}
	}

	ttlSeconds := opts.IdempotencyTTLSeconds
	if ttlSeconds == 0 && r.IdempotencyTTL > 0 {
		ttlSeconds = int64(r.IdempotencyTTL / time.Second)
	}

	cmd := &script.UpsertCommand{
		Prefix:          r.kctx.Prefix,
		Descriptor:      r.wire,
		NewID:           newID,
		Document:        doc,
		IdempotencyKey:  opts.IdempotencyKey,
		IdempotencyTTLS: ttlSeconds,
		NowMillis:       idgen.EpochMillis(now),
		Registry:        r.registrySnapshot(),
	}
	if opts.Relations != nil && !opts.Relations.Empty() {
		cmd.Relations = opts.Relations.Directives()
	}

	resp, err := r.store.Invoke(ctx, cmd)
	if err != nil {
		return CreateResult{}, zero, err
	}

	id, _ := resp["id"].(string)
	result := CreateResult{ID: id, Version: versionPtr(resp["version"])}

	doc, _ = resp["document"].(map[string]any)
	out, err := decodeDoc[T](doc)
	if err != nil {
		return result, zero, err
	}
	return result, out, nil
}

// CreateMany runs one UpsertCommand per entity inside a single
// MutationPlan, executed in order (spec: "a single command is atomic;
// cross-command atomicity is not guaranteed"). A failing command stops the
// plan; results for commands applied before it are still returned.
func (r *Repository[T]) CreateMany(ctx context.Context, entities []T) ([]CreateResult, error) {
	now := r.clock.Now()
	plan := script.MutationPlan{Commands: make([]script.MutationCommand, 0, len(entities))}

	for _, entity := range entities {
		doc, err := encodeDoc(entity)
		if err != nil {
			return nil, err
		}
		applyCreateDefaults(r.descriptor, doc, now)
		if verr := validate.Evaluate(r.descriptor, doc, nil, false); verr != nil {
			return nil, fmt.Errorf("repo: create_many %s: %w", r.descriptor.Collection, verr)
		}
		newID, err := idgen.NewEntityID()
		if err != nil {
			return nil, err
		}
		plan.Commands = append(plan.Commands, &script.UpsertCommand{
			Prefix:     r.kctx.Prefix,
			Descriptor: r.wire,
			NewID:      newID,
			Document:   doc,
			NowMillis:  idgen.EpochMillis(now),
			Registry:   r.registrySnapshot(),
		})
	}

	responses, err := r.store.Execute(ctx, plan)
	results := make([]CreateResult, len(responses))
	for i, resp := range responses {
		id, _ := resp["id"].(string)
		results[i] = CreateResult{ID: id, Version: versionPtr(resp["version"])}
	}
	return results, err
}
