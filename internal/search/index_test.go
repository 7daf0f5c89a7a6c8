package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/snugom/snugom/internal/keys"
)

type fakeDoer struct {
	calls   [][]any
	results []any
	errs    []error
	idx     int
}

func (f *fakeDoer) Do(ctx context.Context, args ...any) *redis.Cmd {
	f.calls = append(f.calls, args)
	cmd := redis.NewCmd(ctx)
	var val any
	var err error
	if f.idx < len(f.results) {
		val = f.results[f.idx]
	}
	if f.idx < len(f.errs) {
		err = f.errs[f.idx]
	}
	f.idx++
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

func TestEnsureIndexCreatesIndex(t *testing.T) {
	d := &fakeDoer{results: []any{"OK"}}
	m := NewManager(d, keys.New("snugom", "blog"))
	schema := m.SchemaFor(&keys.EntityDescriptor{
		Collection: "posts",
		IndexSpec:  []keys.IndexSpec{{Field: "status", Type: keys.IndexTag}},
	})
	if err := m.EnsureIndex(context.Background(), schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.calls) != 1 || d.calls[0][0] != "FT.CREATE" {
		t.Fatalf("expected one FT.CREATE call, got %+v", d.calls)
	}
}

func TestEnsureIndexTreatsAlreadyExistsAsSuccess(t *testing.T) {
	d := &fakeDoer{errs: []error{errors.New("Index already exists")}}
	m := NewManager(d, keys.New("snugom", "blog"))
	schema := m.SchemaFor(&keys.EntityDescriptor{Collection: "posts"})
	if err := m.EnsureIndex(context.Background(), schema); err != nil {
		t.Fatalf("expected nil error for already-exists, got %v", err)
	}
}

func TestEnsureIndexPropagatesOtherErrors(t *testing.T) {
	d := &fakeDoer{errs: []error{errors.New("connection refused")}}
	m := NewManager(d, keys.New("snugom", "blog"))
	schema := m.SchemaFor(&keys.EntityDescriptor{Collection: "posts"})
	if err := m.EnsureIndex(context.Background(), schema); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestSearchDecodesJSONHits(t *testing.T) {
	reply := []any{
		int64(2),
		"snugom:blog:posts:abc",
		[]any{"$", `{"title":"hello","status":"live"}`},
		"snugom:blog:posts:def",
		[]any{"$", `{"title":"world","status":"live"}`},
	}
	d := &fakeDoer{results: []any{reply}}
	m := NewManager(d, keys.New("snugom", "blog"))

	schema := m.SchemaFor(&keys.EntityDescriptor{Collection: "posts"})
	res, err := m.Search(context.Background(), schema, Query{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 2 || len(res.Hits) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Hits[0].ID != "abc" || res.Hits[0].Document["title"] != "hello" {
		t.Fatalf("unexpected first hit: %+v", res.Hits[0])
	}
}

func TestSearchEmptyReply(t *testing.T) {
	d := &fakeDoer{results: []any{[]any{}}}
	m := NewManager(d, keys.New("snugom", "blog"))
	schema := m.SchemaFor(&keys.EntityDescriptor{Collection: "posts"})
	res, err := m.Search(context.Background(), schema, Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 0 || len(res.Hits) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSearchRendersNumericEqAsRangeNotTag(t *testing.T) {
	reply := []any{int64(0)}
	d := &fakeDoer{results: []any{reply}}
	m := NewManager(d, keys.New("snugom", "blog"))
	schema := m.SchemaFor(&keys.EntityDescriptor{
		Collection: "posts",
		IndexSpec:  []keys.IndexSpec{{Field: "view_count", Type: keys.IndexNumeric}},
	})

	_, err := m.Search(context.Background(), schema, Query{Filters: []Filter{{Field: "view_count", Op: OpEq, Values: []string{"42"}}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.calls) != 1 {
		t.Fatalf("expected one FT.SEARCH call, got %+v", d.calls)
	}
	call := d.calls[0]
	var expr string
	for _, a := range call {
		if s, ok := a.(string); ok && strings.Contains(s, "@view_count") {
			expr = s
			break
		}
	}
	if expr != "@view_count:[42 42]" {
		t.Fatalf("expected NUMERIC eq to render as a range clause, got %q (call: %+v)", expr, call)
	}
}

func TestDropIndexIgnoresUnknownIndex(t *testing.T) {
	d := &fakeDoer{errs: []error{errors.New("Unknown index name")}}
	m := NewManager(d, keys.New("snugom", "blog"))
	if err := m.DropIndex(context.Background(), "snugom:idx:posts"); err != nil {
		t.Fatalf("expected nil error for unknown index, got %v", err)
	}
}
