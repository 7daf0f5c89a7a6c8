package search

import (
	"strconv"
	"strings"
	"testing"
)

func schemaFixture() IndexSchema {
	return IndexSchema{
		Name:      "snugom:idx:posts",
		KeyPrefix: "snugom:blog:posts:",
		Fields: []FieldSchema{
			{Name: "status", Type: "TAG"},
			{Name: "views", Type: "NUMERIC", Sortable: true},
			{Name: "title", Type: "TEXT"},
		},
	}
}

func TestCreateArgsIncludesSchemaAndSortable(t *testing.T) {
	args := schemaFixture().CreateArgs()
	joined := ""
	for _, a := range args {
		joined += " " + toStr(a)
	}
	for _, want := range []string{"ON", "JSON", "PREFIX", "SCHEMA", "$.status", "AS", "status", "TAG", "$.views", "NUMERIC", "SORTABLE"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected CreateArgs to contain %q, got %q", want, joined)
		}
	}
}

func TestTranslateEqOnTag(t *testing.T) {
	tr := NewTranslator(schemaFixture())
	q := Query{Filters: []Filter{{Field: "status", Op: OpEq, Values: []string{"live"}}}}
	q.Normalize()
	args, err := tr.Translate(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expr, _ := args[0].(string)
	if expr != "@status:{live}" {
		t.Fatalf("unexpected expr: %q", expr)
	}
}

func TestTranslateRangeOnNumeric(t *testing.T) {
	tr := NewTranslator(schemaFixture())
	q := Query{Filters: []Filter{{Field: "views", Op: OpRange, Values: []string{"10", "100"}}}}
	q.Normalize()
	args, err := tr.Translate(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expr, _ := args[0].(string)
	if expr != "@views:[10 100]" {
		t.Fatalf("unexpected expr: %q", expr)
	}
}

func TestTranslateRangeOpenBounds(t *testing.T) {
	tr := NewTranslator(schemaFixture())
	q := Query{Filters: []Filter{{Field: "views", Op: OpRange, Values: []string{"", "100"}}}}
	q.Normalize()
	args, err := tr.Translate(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expr, _ := args[0].(string)
	if expr != "@views:[-inf 100]" {
		t.Fatalf("unexpected expr: %q", expr)
	}
}

func TestTranslateCombinesTextAndFilters(t *testing.T) {
	tr := NewTranslator(schemaFixture())
	q := Query{Text: "hello world", Filters: []Filter{{Field: "status", Op: OpEq, Values: []string{"live"}}}}
	q.Normalize()
	args, err := tr.Translate(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expr, _ := args[0].(string)
	if expr != "hello world @status:{live}" {
		t.Fatalf("unexpected combined expr: %q", expr)
	}
}

func TestTranslatePaginationAndSort(t *testing.T) {
	tr := NewTranslator(schemaFixture())
	q := Query{Page: 2, PageSize: 10, SortBy: "views", SortOrder: SortDesc}
	q.Normalize()
	args, err := tr.Translate(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args[1] != "LIMIT" || args[2] != 10 || args[3] != 10 {
		t.Fatalf("unexpected pagination args: %+v", args)
	}
	if args[4] != "SORTBY" || args[5] != "views" || args[6] != "DESC" {
		t.Fatalf("unexpected sort args: %+v", args)
	}
}

func TestTranslateBoolRejectsNonBoolValue(t *testing.T) {
	tr := NewTranslator(schemaFixture())
	q := Query{Filters: []Filter{{Field: "status", Op: OpBool, Values: []string{"maybe"}}}}
	q.Normalize()
	if _, err := tr.Translate(q); err == nil {
		t.Fatal("expected error for non-boolean value")
	}
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := v.(int); ok {
		return strconv.Itoa(n)
	}
	return ""
}
