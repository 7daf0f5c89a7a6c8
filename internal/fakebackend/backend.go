package fakebackend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/script"
)

// Backend is an in-process implementation of the six atomic scripts plus
// the narrow Get/Set surface internal/migration needs, backed by an
// in-memory store instead of a live Redis connection. It satisfies the same
// Invoke/Execute shape as *script.Engine, so repository tests can swap it in
// without a redis server.
type Backend struct {
	store *store
	clock idgen.Clock
}

// New returns a Backend using clock for the current time (idgen.SystemClock
// if nil).
func New(clock idgen.Clock) *Backend {
	if clock == nil {
		clock = idgen.SystemClock{}
	}
	b := &Backend{clock: clock}
	b.store = newStore(func() time.Time { return clock.Now() })
	return b
}

// Invoke dispatches cmd to its in-memory equivalent of the matching Lua
// script, returning the same response shape script.Engine.Invoke would
// decode from EVALSHA.
func (b *Backend) Invoke(ctx context.Context, cmd script.MutationCommand) (map[string]any, error) {
	switch c := cmd.(type) {
	case *script.UpsertCommand:
		return b.upsert(c)
	case *script.PatchCommand:
		return b.patch(c)
	case *script.DeleteCommand:
		return b.delete(c)
	case *script.RelationMutationCommand:
		return b.mutateRelations(c)
	case *script.UpsertBranchCommand:
		return b.upsertBranch(c)
	case *script.GetOrCreateCommand:
		return b.getOrCreate(c)
	default:
		return nil, &script.InvalidRequestError{Message: fmt.Sprintf("unknown command type %T", cmd)}
	}
}

// Execute runs every command in plan in order, stopping at the first error,
// mirroring script.Engine.Execute.
func (b *Backend) Execute(ctx context.Context, plan script.MutationPlan) ([]map[string]any, error) {
	responses := make([]map[string]any, 0, len(plan.Commands))
	for _, cmd := range plan.Commands {
		resp, err := b.Invoke(ctx, cmd)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// Get implements the narrow cmdable interface internal/migration.RedisStore
// needs for its non-transactional fallback path.
func (b *Backend) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := b.store.get(key)
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

// Set implements the narrow cmdable interface internal/migration.RedisStore
// needs for its non-transactional fallback path.
func (b *Backend) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprintf("%v", v)
	}
	if expiration > 0 {
		b.store.setEX(key, s, int64(expiration/time.Second))
	} else {
		b.store.set(key, s)
	}
	cmd.SetVal("OK")
	return cmd
}

func (b *Backend) upsert(cmd *script.UpsertCommand) (map[string]any, error) {
	d := cmd.Descriptor
	kctx := keys.New(cmd.Prefix, d.Service)

	if cmd.IdempotencyKey != "" {
		idk := kctx.Idempotency(d.Collection, cmd.IdempotencyKey)
		if existingID, ok := b.store.get(idk); ok {
			if edoc, ok, err := getEntity(b.store, kctx.Entity(d.Collection, existingID)); err != nil {
				return nil, err
			} else if ok {
				return okResp(map[string]any{
					"id": existingID, "version": versionOf(d, edoc), "document": edoc, "replayed": true,
				}), nil
			}
		}
	}

	id := cmd.ID
	if id == "" {
		id = cmd.NewID
	}
	ekey := kctx.Entity(d.Collection, id)
	existing, hasExisting, err := getEntity(b.store, ekey)
	if err != nil {
		return nil, err
	}

	if cmd.ExpectedVersion != nil {
		if !hasExisting {
			return nil, &script.VersionConflictError{Expected: cmd.ExpectedVersion}
		}
		if verr := checkVersion(d, existing, *cmd.ExpectedVersion); verr != nil {
			return nil, verr
		}
	}

	doc := cmd.Document
	if doc == nil {
		doc = map[string]any{}
	}
	doc[d.IDField] = id

	if uerr := checkUniqueFields(b.store, kctx, d.Collection, d, doc, id); uerr != nil {
		return nil, uerr
	}
	enforceDatetimeMirrors(d, doc)
	bumpVersion(d, doc, existing, hasExisting)
	doc["__schema_version"] = d.SchemaVersion

	var oldDoc map[string]any
	if hasExisting {
		oldDoc = existing
	}
	writeUniqueFields(b.store, kctx, d.Collection, d, doc, oldDoc, id)
	if err := setEntity(b.store, ekey, doc); err != nil {
		return nil, err
	}

	cascaded := 0
	if len(cmd.Relations) > 0 {
		err, c := applyRelationBatch(b.store, cmd.Prefix, cmd.Registry, d.Service, d, d.Collection, id, cmd.Relations, cmd.Visited, 0)
		if err != nil {
			return nil, err
		}
		cascaded = c
	}

	if cmd.IdempotencyKey != "" {
		idk := kctx.Idempotency(d.Collection, cmd.IdempotencyKey)
		if cmd.IdempotencyTTLS > 0 {
			b.store.setEX(idk, id, cmd.IdempotencyTTLS)
		} else {
			b.store.set(idk, id)
		}
	}

	return okResp(map[string]any{
		"id": id, "version": versionOf(d, doc), "cascaded": cascaded, "document": doc,
	}), nil
}

func (b *Backend) patch(cmd *script.PatchCommand) (map[string]any, error) {
	d := cmd.Descriptor
	kctx := keys.New(cmd.Prefix, d.Service)
	ekey := kctx.Entity(d.Collection, cmd.ID)

	existing, ok, err := getEntity(b.store, ekey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &script.NotFoundError{EntityID: cmd.ID}
	}

	if cmd.ExpectedVersion != nil {
		if verr := checkVersion(d, existing, *cmd.ExpectedVersion); verr != nil {
			return nil, verr
		}
	}

	doc := existing
	for field, value := range cmd.FieldMask {
		doc[field] = value
	}
	doc[d.IDField] = cmd.ID

	for _, f := range d.RequiredFields {
		if v, present := doc[f]; !present || v == nil || v == "" {
			return nil, &script.InvalidRequestError{Message: "field " + f + " must not be empty after patch"}
		}
	}

	if uerr := checkUniqueFields(b.store, kctx, d.Collection, d, doc, cmd.ID); uerr != nil {
		return nil, uerr
	}
	enforceDatetimeMirrors(d, doc)
	bumpVersion(d, doc, existing, true)

	writeUniqueFields(b.store, kctx, d.Collection, d, doc, existing, cmd.ID)
	if err := setEntity(b.store, ekey, doc); err != nil {
		return nil, err
	}

	cascaded := 0
	if len(cmd.Relations) > 0 {
		err, c := applyRelationBatch(b.store, cmd.Prefix, cmd.Registry, d.Service, d, d.Collection, cmd.ID, cmd.Relations, cmd.Visited, 0)
		if err != nil {
			return nil, err
		}
		cascaded = c
	}

	return okResp(map[string]any{
		"id": cmd.ID, "version": versionOf(d, doc), "cascaded": cascaded, "document": doc,
	}), nil
}

func (b *Backend) delete(cmd *script.DeleteCommand) (map[string]any, error) {
	d := cmd.Descriptor
	kctx := keys.New(cmd.Prefix, d.Service)
	ekey := kctx.Entity(d.Collection, cmd.ID)

	existing, ok, err := getEntity(b.store, ekey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &script.NotFoundError{EntityID: cmd.ID}
	}

	if cmd.ExpectedVersion != nil {
		if verr := checkVersion(d, existing, *cmd.ExpectedVersion); verr != nil {
			return nil, verr
		}
	}

	cerr, deleted, _ := cascadeDeleteEntity(b.store, cmd.Prefix, cmd.Registry, d.Service, d.Collection, cmd.ID, cmd.Visited, cmd.Depth)
	if cerr != nil {
		return nil, cerr
	}
	return okResp(map[string]any{"id": cmd.ID, "cascaded": deleted - 1}), nil
}

func (b *Backend) mutateRelations(cmd *script.RelationMutationCommand) (map[string]any, error) {
	d := cmd.Descriptor
	kctx := keys.New(cmd.Prefix, d.Service)
	ekey := kctx.Entity(d.Collection, cmd.ID)
	if !b.store.exists(ekey) {
		return nil, &script.NotFoundError{EntityID: cmd.ID}
	}
	err, cascaded := applyRelationBatch(b.store, cmd.Prefix, cmd.Registry, d.Service, d, d.Collection, cmd.ID, cmd.Relations, cmd.Visited, 0)
	if err != nil {
		return nil, err
	}
	return okResp(map[string]any{"id": cmd.ID, "cascaded": cascaded}), nil
}

func (b *Backend) upsertBranch(cmd *script.UpsertBranchCommand) (map[string]any, error) {
	d := cmd.Descriptor
	kctx := keys.New(cmd.Prefix, d.Service)

	id := cmd.ID
	if id == "" {
		id = cmd.NewID
	}
	ekey := kctx.Entity(d.Collection, id)
	existing, hasExisting, err := getEntity(b.store, ekey)
	if err != nil {
		return nil, err
	}

	if hasExisting {
		if cmd.ExpectedVersion != nil {
			if verr := checkVersion(d, existing, *cmd.ExpectedVersion); verr != nil {
				return nil, verr
			}
		}
		doc := existing
		for field, value := range cmd.FieldMask {
			doc[field] = value
		}
		doc[d.IDField] = id

		for _, f := range d.RequiredFields {
			if v, present := doc[f]; !present || v == nil || v == "" {
				return nil, &script.InvalidRequestError{Message: "field " + f + " must not be empty after patch"}
			}
		}

		if uerr := checkUniqueFields(b.store, kctx, d.Collection, d, doc, id); uerr != nil {
			return nil, uerr
		}
		enforceDatetimeMirrors(d, doc)
		bumpVersion(d, doc, existing, true)

		writeUniqueFields(b.store, kctx, d.Collection, d, doc, existing, id)
		if err := setEntity(b.store, ekey, doc); err != nil {
			return nil, err
		}

		cascaded := 0
		if len(cmd.Relations) > 0 {
			err, c := applyRelationBatch(b.store, cmd.Prefix, cmd.Registry, d.Service, d, d.Collection, id, cmd.Relations, nil, 0)
			if err != nil {
				return nil, err
			}
			cascaded = c
		}
		return okResp(map[string]any{
			"outcome": "updated", "id": id, "version": versionOf(d, doc), "cascaded": cascaded, "document": doc,
		}), nil
	}

	doc := cmd.CreateDocument
	if doc == nil {
		doc = map[string]any{}
	}
	doc[d.IDField] = id

	if uerr := checkUniqueFields(b.store, kctx, d.Collection, d, doc, id); uerr != nil {
		return nil, uerr
	}
	enforceDatetimeMirrors(d, doc)
	bumpVersion(d, doc, nil, false)
	doc["__schema_version"] = d.SchemaVersion

	writeUniqueFields(b.store, kctx, d.Collection, d, doc, nil, id)
	if err := setEntity(b.store, ekey, doc); err != nil {
		return nil, err
	}

	cascaded := 0
	if len(cmd.Relations) > 0 {
		err, c := applyRelationBatch(b.store, cmd.Prefix, cmd.Registry, d.Service, d, d.Collection, id, cmd.Relations, nil, 0)
		if err != nil {
			return nil, err
		}
		cascaded = c
	}
	return okResp(map[string]any{
		"outcome": "created", "id": id, "version": versionOf(d, doc), "cascaded": cascaded, "document": doc,
	}), nil
}

func (b *Backend) getOrCreate(cmd *script.GetOrCreateCommand) (map[string]any, error) {
	d := cmd.Descriptor
	kctx := keys.New(cmd.Prefix, d.Service)

	id := cmd.ID
	if cmd.IdempotencyKey != "" {
		if matched, ok := b.store.get(kctx.Idempotency(d.Collection, cmd.IdempotencyKey)); ok {
			id = matched
		}
	}
	if id == "" {
		id = cmd.NewID
	}

	ekey := kctx.Entity(d.Collection, id)
	if doc, ok, err := getEntity(b.store, ekey); err != nil {
		return nil, err
	} else if ok {
		return okResp(map[string]any{"id": id, "version": versionOf(d, doc), "document": doc, "created": false}), nil
	}

	doc := cmd.Document
	if doc == nil {
		doc = map[string]any{}
	}
	doc[d.IDField] = id

	if uerr := checkUniqueFields(b.store, kctx, d.Collection, d, doc, id); uerr != nil {
		return nil, uerr
	}
	enforceDatetimeMirrors(d, doc)
	bumpVersion(d, doc, nil, false)
	doc["__schema_version"] = d.SchemaVersion

	writeUniqueFields(b.store, kctx, d.Collection, d, doc, nil, id)
	if err := setEntity(b.store, ekey, doc); err != nil {
		return nil, err
	}

	if cmd.IdempotencyKey != "" {
		b.store.set(kctx.Idempotency(d.Collection, cmd.IdempotencyKey), id)
	}

	return okResp(map[string]any{"id": id, "version": versionOf(d, doc), "document": doc, "created": true}), nil
}

func okResp(m map[string]any) map[string]any { return m }

func versionOf(d script.DescriptorWire, doc map[string]any) any {
	if d.VersionField == "" {
		return nil
	}
	return doc[d.VersionField]
}

func checkVersion(d script.DescriptorWire, existing map[string]any, expected int64) error {
	actual, _ := existing[d.VersionField].(float64)
	hasActual := existing[d.VersionField] != nil
	if !hasActual || int64(actual) != expected {
		var actualPtr *int64
		if hasActual {
			a := int64(actual)
			actualPtr = &a
		}
		return &script.VersionConflictError{Expected: &expected, Actual: actualPtr}
	}
	return nil
}

// bumpVersion mirrors each script's `doc[version_field] = (existing or 0) +
// 1` / `= 1` on create, writing nothing when the descriptor has no version
// field.
func bumpVersion(d script.DescriptorWire, doc, existing map[string]any, hadExisting bool) {
	if d.VersionField == "" {
		return
	}
	if !hadExisting {
		doc[d.VersionField] = float64(1)
		return
	}
	cur, _ := existing[d.VersionField].(float64)
	doc[d.VersionField] = cur + 1
}
