package repo

import (
	"context"
	"testing"
	"time"

	"github.com/snugom/snugom/internal/fakebackend"
	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/relation"
)

type author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Version   int64  `json:"version,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func authorEntityDescriptor() *keys.EntityDescriptor {
	return &keys.EntityDescriptor{
		Service:    "blog",
		Collection: "authors",
		IDField:    "id",
		Fields: []Field{
			{Name: "id", IsID: true},
			{Name: "name"},
			{Name: "email", Unique: keys.UniqueCaseInsensitive},
			{Name: "version", VersionField: true},
			{Name: "created_at", Type: keys.FieldDatetime, AutoCreated: true},
			{Name: "updated_at", Type: keys.FieldDatetime, AutoUpdated: true},
		},
		Relations: []keys.Relation{
			{Alias: "posts", Kind: keys.HasMany, TargetService: "blog", TargetCollection: "posts", Cascade: keys.CascadeDelete},
		},
	}
}

// Field is a local alias so the fixture above reads naturally; keys.Field
// already has this exact shape.
type Field = keys.Field

func postEntityDescriptor() *keys.EntityDescriptor {
	return &keys.EntityDescriptor{
		Service:    "blog",
		Collection: "posts",
		IDField:    "id",
		Fields: []Field{
			{Name: "id", IsID: true},
			{Name: "title"},
			{Name: "author_id"},
			{Name: "version", VersionField: true},
		},
		Relations: []keys.Relation{
			{Alias: "author", Kind: keys.BelongsTo, TargetService: "blog", TargetCollection: "authors", ForeignKey: "author_id", Cascade: keys.CascadeDelete},
		},
	}
}

type post struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	AuthorID string `json:"author_id"`
	Version  int64  `json:"version,omitempty"`
}

func newTestRepos(t *testing.T) (*Repository[author], *Repository[post], *fakebackend.Backend) {
	t.Helper()
	registry := keys.NewRegistry()
	authorDesc := authorEntityDescriptor()
	postDesc := postEntityDescriptor()
	registry.Register(authorDesc)
	registry.Register(postDesc)

	clock := idgen.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	backend := fakebackend.New(clock)

	authors := New[author](backend, authorDesc, "snugom", registry, nil, clock)
	posts := New[post](backend, postDesc, "snugom", registry, nil, clock)
	return authors, posts, backend
}

func TestCreateAndGet(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	res, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ID == "" {
		t.Fatal("expected a minted ID")
	}
	if res.Version == nil || *res.Version != 1 {
		t.Fatalf("expected version 1, got %v", res.Version)
	}

	got, ok, err := authors.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected entity to exist")
	}
	if got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Fatalf("unexpected entity: %+v", got)
	}
	if got.CreatedAt == "" || got.UpdatedAt == "" {
		t.Fatalf("expected auto timestamps, got %+v", got)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	_, ok, err := authors.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected entity to be absent")
	}
}

func TestGetOrErrorNotFound(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	_, err := authors.GetOrError(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected ErrNotFound")
	}
}

func TestCreateWithRelations(t *testing.T) {
	authors, posts, _ := newTestRepos(t)
	ctx := context.Background()

	ares, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}

	pres, err := posts.CreateWithOptions(ctx, post{Title: "Hello", AuthorID: ares.ID}, CreateOptions{
		Relations: (&relation.Batch{}).Connect("author", ares.ID),
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if pres.Title != "Hello" {
		t.Fatalf("unexpected post: %+v", pres)
	}
}

func TestUpdateBumpsVersionAndTimestamp(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	res, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := authors.Update(ctx, res.ID, map[string]any{"name": "Ada L."})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Ada L." {
		t.Fatalf("expected updated name, got %q", updated.Name)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
}

func TestUpdateWithStaleVersionFails(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	res, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stale := int64(99)
	_, err = authors.UpdateWithOptions(ctx, res.ID, map[string]any{"name": "X"}, UpdateOptions{ExpectedVersion: &stale})
	if err == nil {
		t.Fatal("expected a version conflict error")
	}
}

func TestDeleteCascadesHasMany(t *testing.T) {
	authors, posts, _ := newTestRepos(t)
	ctx := context.Background()

	ares, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	_, err = posts.CreateWithOptions(ctx, post{Title: "Hello", AuthorID: ares.ID}, CreateOptions{
		Relations: (&relation.Batch{}).Connect("author", ares.ID),
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	cascaded, err := authors.Delete(ctx, ares.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cascaded != 1 {
		t.Fatalf("expected 1 cascaded deletion, got %d", cascaded)
	}

	_, ok, err := authors.Get(ctx, ares.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected author to be gone")
	}
}

func TestUpdateManyByIDs(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		res, err := authors.Create(ctx, author{Name: "name", Email: string(rune('a'+i)) + "@example.com"})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		ids = append(ids, res.ID)
	}

	itemErrs := authors.UpdateManyByIDs(ctx, ids, map[string]any{"name": "batched"})
	if len(itemErrs) != 0 {
		t.Fatalf("unexpected item errors: %v", itemErrs)
	}
	for _, id := range ids {
		got, ok, err := authors.Get(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Get %s: ok=%v err=%v", id, ok, err)
		}
		if got.Name != "batched" {
			t.Fatalf("expected batched name, got %q", got.Name)
		}
	}
}

func TestDeleteManyByIDs(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := authors.Create(ctx, author{Name: "name", Email: string(rune('a'+i)) + "@example.com"})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		ids = append(ids, res.ID)
	}

	itemErrs := authors.DeleteManyByIDs(ctx, ids)
	if len(itemErrs) != 0 {
		t.Fatalf("unexpected item errors: %v", itemErrs)
	}
	for _, id := range ids {
		_, ok, err := authors.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if ok {
			t.Fatalf("expected %s to be deleted", id)
		}
	}
}

func TestUpsertCreatesWhenMissing(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	got, err := authors.Upsert(ctx, "missing-id", map[string]any{"name": "patched"}, author{Name: "Created", Email: "created@example.com"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.Name != "Created" {
		t.Fatalf("expected create branch, got %+v", got)
	}
}

func TestUpsertPatchesWhenPresent(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	res, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := authors.Upsert(ctx, res.ID, map[string]any{"name": "Ada patched"}, author{Name: "ignored", Email: "ignored@example.com"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.Name != "Ada patched" {
		t.Fatalf("expected patch branch, got %+v", got)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	first, err := authors.GetOrCreate(ctx, "fixed-id", author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := authors.GetOrCreate(ctx, "fixed-id", author{Name: "Someone Else", Email: "else@example.com"})
	if err != nil {
		t.Fatalf("GetOrCreate second: %v", err)
	}
	if second.Name != first.Name {
		t.Fatalf("expected replay of first entity, got %+v", second)
	}
}

func TestMutateRelationsCascades(t *testing.T) {
	authors, posts, _ := newTestRepos(t)
	ctx := context.Background()

	ares, err := authors.Create(ctx, author{Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	pres, err := posts.Create(ctx, post{Title: "Hello", AuthorID: ares.ID})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	_, err = authors.MutateRelations(ctx, ares.ID, (&relation.Batch{}).Connect("posts", pres.ID))
	if err != nil {
		t.Fatalf("MutateRelations: %v", err)
	}

	cascaded, err := authors.Delete(ctx, ares.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cascaded != 1 {
		t.Fatalf("expected the connected post to cascade-delete, got %d", cascaded)
	}
}

func TestCreateManyRunsAllCommands(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	ctx := context.Background()

	results, err := authors.CreateMany(ctx, []author{
		{Name: "Ada", Email: "ada@example.com"},
		{Name: "Grace", Email: "grace@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if res.ID == "" {
			t.Fatal("expected a minted ID for each entity")
		}
	}
}

func TestCountWithoutSearchManagerErrors(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	if _, err := authors.Count(context.Background()); err != ErrSearchUnavailable {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestEnsureIndexesWithoutSearchManagerErrors(t *testing.T) {
	authors, _, _ := newTestRepos(t)
	if err := authors.EnsureIndexes(context.Background()); err != ErrSearchUnavailable {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}
