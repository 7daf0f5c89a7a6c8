// Package repo is the client-side orchestration layer: it turns typed Go
// values into the wire commands internal/script dispatches, decodes script
// responses back into those types, and runs the handful of direct (no-
// script) reads and batch operations the repository surface exposes.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/relation"
	"github.com/snugom/snugom/internal/script"
	"github.com/snugom/snugom/internal/search"
)

// Store is the backend surface a Repository needs: atomic-script dispatch
// plus a direct (non-script) GET for the read-only operations spec §4.E
// calls out as bypassing scripts entirely. *fakebackend.Backend and
// *ScriptedStore (below) both satisfy it.
type Store interface {
	Invoke(ctx context.Context, cmd script.MutationCommand) (map[string]any, error)
	Execute(ctx context.Context, plan script.MutationPlan) ([]map[string]any, error)
	Get(ctx context.Context, key string) *redis.StringCmd
}

// ScriptedStore adapts a live *redis.Client plus its *script.Engine into a
// Store: Invoke/Execute dispatch through the engine's EVALSHA path, Get
// reads the entity key directly, the way spec §4.E distinguishes mutation
// commands (always scripted) from reads (never scripted).
type ScriptedStore struct {
	*script.Engine
	Redis *redis.Client
}

// NewScriptedStore wraps rdb for both script dispatch and direct reads.
func NewScriptedStore(rdb *redis.Client) *ScriptedStore {
	return &ScriptedStore{Engine: script.NewEngine(rdb), Redis: rdb}
}

// Get implements Store by reading the entity key directly, bypassing the
// script engine entirely.
func (s *ScriptedStore) Get(ctx context.Context, key string) *redis.StringCmd {
	return s.Redis.Get(ctx, key)
}

// Repository is a stateless, generic accessor for one collection: every
// method builds a command (or a direct key), dispatches it, and decodes the
// result into T. T's JSON tags are expected to match the field names on the
// bound EntityDescriptor.
type Repository[T any] struct {
	store      Store
	descriptor *keys.EntityDescriptor
	wire       script.DescriptorWire
	kctx       keys.Context
	registry   *keys.Registry
	search     *search.Manager
	clock      idgen.Clock

	// Concurrency bounds the number of in-flight script calls a batch-by-
	// IDs operation issues at once. Zero uses DefaultConcurrency.
	Concurrency int

	// IdempotencyTTL is applied to Create calls made with an idempotency
	// key when the caller doesn't specify one explicitly. Zero means no
	// expiry (the idempotency record is kept forever).
	IdempotencyTTL time.Duration
}

// DefaultConcurrency bounds UpdateManyByIDs/DeleteManyByIDs fan-out when
// Repository.Concurrency is unset.
const DefaultConcurrency = 8

// New returns a Repository for d, bound to store for I/O and registry for
// cascade-capable commands. searchMgr may be nil; operations that need it
// (Count, UpdateMany/DeleteMany by query, EnsureIndexes) return an error if
// called without one.
func New[T any](store Store, d *keys.EntityDescriptor, prefix string, registry *keys.Registry, searchMgr *search.Manager, clock idgen.Clock) *Repository[T] {
	if clock == nil {
		clock = idgen.SystemClock{}
	}
	return &Repository[T]{
		store:      store,
		descriptor: d,
		wire:       relation.ToDescriptorWire(d),
		kctx:       keys.New(prefix, d.Service),
		registry:   registry,
		search:     searchMgr,
		clock:      clock,
	}
}

func (r *Repository[T]) concurrency() int {
	if r.Concurrency > 0 {
		return r.Concurrency
	}
	return DefaultConcurrency
}

func (r *Repository[T]) registrySnapshot() map[string]script.DescriptorWire {
	if r.registry == nil {
		return nil
	}
	return relation.RegistrySnapshot(r.registry)
}

func (r *Repository[T]) entityKey(id string) string {
	return r.kctx.Entity(r.descriptor.Collection, id)
}

// encodeDoc marshals entity through JSON into a plain map, the shape every
// mutation command carries its document as.
func encodeDoc[T any](entity T) (map[string]any, error) {
	b, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("repo: encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("repo: encode document: %w", err)
	}
	return doc, nil
}

// decodeDoc re-marshals a script response's decoded document map back into
// T.
func decodeDoc[T any](doc map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("repo: decode document: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("repo: decode document: %w", err)
	}
	return out, nil
}

func versionPtr(v any) *int64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

// ItemError is one failure from a batch-by-IDs operation, keyed by the
// index of the id in the caller's input slice.
type ItemError struct {
	Index int
	ID    string
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("id %q (index %d): %v", e.ID, e.Index, e.Err)
}
