package repo

import (
	"context"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/relation"
	"github.com/snugom/snugom/internal/script"
)

// MutateRelations applies batch to id's relations atomically, without
// touching any other field, per spec §4.E's "mutate_relations(plan) — raw
// relation batch". It returns the number of entities the mutation cascaded
// into: those removed by delete directives, plus whatever those deletions
// cascade into. Connect and disconnect directives remove nothing.
func (r *Repository[T]) MutateRelations(ctx context.Context, id string, batch *relation.Batch) (int, error) {
	if batch == nil || batch.Empty() {
		return 0, nil
	}

	cmd := &script.RelationMutationCommand{
		Prefix:     r.kctx.Prefix,
		Descriptor: r.wire,
		ID:         id,
		Relations:  batch.Directives(),
		NowMillis:  idgen.EpochMillis(r.clock.Now()),
		Registry:   r.registrySnapshot(),
	}

	resp, err := r.store.Invoke(ctx, cmd)
	if err != nil {
		return 0, err
	}
	cascaded, ok := resp["cascaded"].(int)
	if !ok {
		if f, ok := resp["cascaded"].(float64); ok {
			cascaded = int(f)
		}
	}
	return cascaded, nil
}
