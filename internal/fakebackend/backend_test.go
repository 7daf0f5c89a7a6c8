package fakebackend

import (
	"context"
	"testing"
	"time"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/script"
)

func authorDescriptor() script.DescriptorWire {
	return script.DescriptorWire{
		Service:        "blog",
		Collection:     "authors",
		SchemaVersion:  1,
		IDField:        "id",
		VersionField:   "version",
		UniqueFields:   []script.UniqueFieldWire{{Field: "email", CaseInsensitive: true}},
		RequiredFields: []string{"name", "email"},
		Relations: []script.RelationWire{
			{Alias: "posts", Kind: "has_many", TargetService: "blog", TargetCollection: "posts", Cascade: "delete"},
		},
	}
}

func postDescriptor() script.DescriptorWire {
	return script.DescriptorWire{
		Service:       "blog",
		Collection:    "posts",
		SchemaVersion: 1,
		IDField:       "id",
		VersionField:  "version",
		Relations: []script.RelationWire{
			{Alias: "author", Kind: "belongs_to", TargetService: "blog", TargetCollection: "authors", ForeignKey: "author_id", Cascade: "delete"},
		},
	}
}

func registryWith(descs ...script.DescriptorWire) map[string]script.DescriptorWire {
	reg := make(map[string]script.DescriptorWire, len(descs))
	for _, d := range descs {
		reg[script.RegistryKey(d.Service, d.Collection)] = d
	}
	return reg
}

func TestUpsertCreatesAndVersions(t *testing.T) {
	b := New(idgen.FixedClock{At: time.Unix(0, 0)})
	resp, err := b.Invoke(context.Background(), &script.UpsertCommand{
		Prefix:     "snugom",
		Descriptor: authorDescriptor(),
		NewID:      "a1",
		Document:   map[string]any{"name": "Ada", "email": "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["id"] != "a1" {
		t.Fatalf("unexpected id: %v", resp["id"])
	}
	if resp["version"] != float64(1) {
		t.Fatalf("expected version 1, got %v", resp["version"])
	}
}

func TestUpsertEnforcesUniqueConstraint(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	d := authorDescriptor()
	if _, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: d, NewID: "a1", Document: map[string]any{"name": "Ada", "email": "ada@example.com"}}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	_, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: d, NewID: "a2", Document: map[string]any{"name": "Ada2", "email": "ADA@example.com"}})
	if err == nil {
		t.Fatal("expected unique constraint violation")
	}
	if _, ok := err.(*script.UniqueConstraintViolationError); !ok {
		t.Fatalf("expected UniqueConstraintViolationError, got %T: %v", err, err)
	}
}

func TestUpsertVersionConflict(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	d := authorDescriptor()
	if _, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: d, NewID: "a1", Document: map[string]any{"name": "Ada", "email": "ada@example.com"}}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	wrong := int64(99)
	_, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: d, ID: "a1", ExpectedVersion: &wrong, Document: map[string]any{"name": "Ada Lovelace", "email": "ada@example.com"}})
	if _, ok := err.(*script.VersionConflictError); !ok {
		t.Fatalf("expected VersionConflictError, got %T: %v", err, err)
	}
}

func TestPatchMergesFieldsAndBumpsVersion(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	d := authorDescriptor()
	if _, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: d, NewID: "a1", Document: map[string]any{"name": "Ada", "email": "ada@example.com"}}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	resp, err := b.Invoke(ctx, &script.PatchCommand{Prefix: "snugom", Descriptor: d, ID: "a1", FieldMask: map[string]any{"name": "Ada Lovelace"}})
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	doc := resp["document"].(map[string]any)
	if doc["name"] != "Ada Lovelace" {
		t.Fatalf("expected merged name, got %v", doc["name"])
	}
	if resp["version"] != float64(2) {
		t.Fatalf("expected version 2, got %v", resp["version"])
	}
}

func TestPatchRejectsEmptyRequiredField(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	d := authorDescriptor()
	if _, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: d, NewID: "a1", Document: map[string]any{"name": "Ada", "email": "ada@example.com"}}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := b.Invoke(ctx, &script.PatchCommand{Prefix: "snugom", Descriptor: d, ID: "a1", FieldMask: map[string]any{"name": ""}})
	if _, ok := err.(*script.InvalidRequestError); !ok {
		t.Fatalf("expected InvalidRequestError, got %T: %v", err, err)
	}
}

func TestPatchNotFound(t *testing.T) {
	b := New(nil)
	_, err := b.Invoke(context.Background(), &script.PatchCommand{Prefix: "snugom", Descriptor: authorDescriptor(), ID: "missing", FieldMask: map[string]any{"name": "x"}})
	if _, ok := err.(*script.NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestDeleteCascadesHasMany(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	registry := registryWith(authorDescriptor(), postDescriptor())

	if _, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: authorDescriptor(), NewID: "a1", Document: map[string]any{"name": "Ada", "email": "ada@example.com"}, Registry: registry}); err != nil {
		t.Fatalf("create author: %v", err)
	}
	if _, err := b.Invoke(ctx, &script.UpsertCommand{
		Prefix: "snugom", Descriptor: postDescriptor(), NewID: "p1",
		Document:  map[string]any{"title": "Hello"},
		Relations: nil, Registry: registry,
	}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	// Connect the relation explicitly (as the repository layer would via a
	// relation batch on the author's upsert/patch).
	if _, err := b.Invoke(ctx, &script.RelationMutationCommand{
		Prefix: "snugom", Descriptor: authorDescriptor(), ID: "a1",
		Relations: []script.RelationDirective{{Op: "connect", Alias: "posts", ID: "p1"}},
		Registry:  registry,
	}); err != nil {
		t.Fatalf("connect relation: %v", err)
	}

	resp, err := b.Invoke(ctx, &script.DeleteCommand{Prefix: "snugom", Descriptor: authorDescriptor(), ID: "a1", Registry: registry})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if resp["cascaded"] != 1 {
		t.Fatalf("expected 1 cascaded delete, got %v", resp["cascaded"])
	}

	if _, err := b.Invoke(ctx, &script.PatchCommand{Prefix: "snugom", Descriptor: postDescriptor(), ID: "p1", FieldMask: map[string]any{"title": "x"}}); err == nil {
		t.Fatal("expected post to have been cascade-deleted")
	}
}

func TestDeleteDetectsCycle(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	selfRef := script.DescriptorWire{
		Service: "blog", Collection: "nodes", SchemaVersion: 1, IDField: "id",
		Relations: []script.RelationWire{
			{Alias: "children", Kind: "many_to_many", TargetService: "blog", TargetCollection: "nodes", Cascade: "delete"},
		},
	}
	registry := registryWith(selfRef)
	for _, id := range []string{"n1", "n2"} {
		if _, err := b.Invoke(ctx, &script.UpsertCommand{Prefix: "snugom", Descriptor: selfRef, NewID: id, Document: map[string]any{}, Registry: registry}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := b.Invoke(ctx, &script.RelationMutationCommand{Prefix: "snugom", Descriptor: selfRef, ID: "n1", Relations: []script.RelationDirective{{Op: "connect", Alias: "children", ID: "n2"}}, Registry: registry}); err != nil {
		t.Fatalf("connect n1->n2: %v", err)
	}
	if _, err := b.Invoke(ctx, &script.RelationMutationCommand{Prefix: "snugom", Descriptor: selfRef, ID: "n2", Relations: []script.RelationDirective{{Op: "connect", Alias: "children", ID: "n1"}}, Registry: registry}); err != nil {
		t.Fatalf("connect n2->n1: %v", err)
	}

	_, err := b.Invoke(ctx, &script.DeleteCommand{Prefix: "snugom", Descriptor: selfRef, ID: "n1", Registry: registry})
	if _, ok := err.(*script.OtherError); !ok {
		t.Fatalf("expected cycle OtherError, got %T: %v", err, err)
	}
}

func TestUpsertBranchCreatesThenUpdates(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	d := authorDescriptor()

	resp, err := b.Invoke(ctx, &script.UpsertBranchCommand{
		Prefix: "snugom", Descriptor: d, NewID: "a1",
		FieldMask:      map[string]any{"name": "ignored"},
		CreateDocument: map[string]any{"name": "Ada", "email": "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["outcome"] != "created" {
		t.Fatalf("expected created outcome, got %v", resp["outcome"])
	}

	resp2, err := b.Invoke(ctx, &script.UpsertBranchCommand{
		Prefix: "snugom", Descriptor: d, ID: "a1",
		FieldMask:      map[string]any{"name": "Ada Lovelace"},
		CreateDocument: map[string]any{"name": "unused", "email": "unused@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2["outcome"] != "updated" {
		t.Fatalf("expected updated outcome, got %v", resp2["outcome"])
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	d := authorDescriptor()
	cmd := &script.GetOrCreateCommand{Prefix: "snugom", Descriptor: d, NewID: "a1", IdempotencyKey: "req-1", Document: map[string]any{"name": "Ada", "email": "ada@example.com"}}

	first, err := b.Invoke(ctx, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first["created"] != true {
		t.Fatalf("expected created true, got %v", first["created"])
	}

	second, err := b.Invoke(ctx, &script.GetOrCreateCommand{Prefix: "snugom", Descriptor: d, NewID: "a2", IdempotencyKey: "req-1", Document: map[string]any{"name": "Ignored", "email": "ignored@example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second["created"] != false || second["id"] != "a1" {
		t.Fatalf("expected replay of a1, got %v", second)
	}
}

func TestGetSetImplementCmdable(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	if err := b.Set(ctx, "k1", "v1", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := b.Get(ctx, "k1").Result()
	if err != nil || v != "v1" {
		t.Fatalf("get: v=%q err=%v", v, err)
	}
	if err := b.Get(ctx, "missing").Err(); err == nil {
		t.Fatal("expected redis.Nil for missing key")
	}
}

func TestSetWithExpirationHonoredByClock(t *testing.T) {
	at := time.Unix(1000, 0)
	clock := idgen.FixedClock{At: at}
	b := New(clock)
	ctx := context.Background()
	if err := b.Set(ctx, "k1", "v1", time.Second).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := b.Get(ctx, "k1").Result(); err != nil || v != "v1" {
		t.Fatalf("expected value still present immediately, got v=%q err=%v", v, err)
	}
}
