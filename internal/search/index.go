package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/snugom/snugom/internal/keys"
)

// Doer is the subset of redis.Cmdable snugom needs to drive RediSearch.
// FT.CREATE/FT.SEARCH/FT.DROPINDEX have no typed bindings anywhere in
// go-redis, so they are issued through its documented generic-command
// escape hatch (Do) rather than a dedicated RediSearch client. Both
// *redis.Client and *redis.ClusterClient satisfy this directly.
type Doer interface {
	Do(ctx context.Context, args ...any) *redis.Cmd
}

// Manager owns index lifecycle (create/verify/drop) and query execution for
// one backend connection, across every registered collection.
type Manager struct {
	rdb Doer
	ctx keys.Context
}

// NewManager binds a Manager to a backend connection and key namespace.
func NewManager(rdb Doer, kctx keys.Context) *Manager {
	return &Manager{rdb: rdb, ctx: kctx}
}

// IndexNameFor returns the RediSearch index name snugom uses for one
// collection within this Manager's namespace.
func (m *Manager) IndexNameFor(collection string) string {
	return m.ctx.SearchIndex(collection)
}

// SchemaFor builds the FT.CREATE schema for one entity descriptor's
// index_spec, adding any text_search_fields not already covered.
func (m *Manager) SchemaFor(d *keys.EntityDescriptor) IndexSchema {
	indexTypes := make(map[string]string, len(d.IndexSpec))
	sortable := make(map[string]bool, len(d.IndexSpec))
	for _, spec := range d.IndexSpec {
		indexTypes[spec.Field] = indexTypeName(int(spec.Type))
		sortable[spec.Field] = spec.Sortable
	}
	keyPrefix := m.ctx.Entity(d.Collection, "")
	return BuildIndexSchema(m.IndexNameFor(d.Collection), keyPrefix, indexTypes, sortable, d.TextSearchFields)
}

// EnsureIndex creates the FT index for schema if absent. RediSearch has no
// "CREATE OR REPLACE"; an existing index with the same name is left in
// place, matching the descriptor-driven idempotent-setup style the rest of
// the runtime uses (entity_upsert, migration.Store.RecordApplied, etc).
func (m *Manager) EnsureIndex(ctx context.Context, schema IndexSchema) error {
	args := append([]any{"FT.CREATE"}, schema.CreateArgs()...)
	_, err := m.rdb.Do(ctx, args...).Result()
	if err == nil {
		return nil
	}
	if isIndexExistsErr(err) {
		return nil
	}
	return fmt.Errorf("search: create index %q: %w", schema.Name, err)
}

func isIndexExistsErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Index already exists")
}

// DropIndex removes the named index, keeping the indexed documents
// untouched (DD flag omitted deliberately: deleting entity documents is the
// repository layer's job, not the search manager's).
func (m *Manager) DropIndex(ctx context.Context, indexName string) error {
	_, err := m.rdb.Do(ctx, "FT.DROPINDEX", indexName).Result()
	if err != nil && !strings.Contains(err.Error(), "Unknown index name") {
		return fmt.Errorf("search: drop index %q: %w", indexName, err)
	}
	return nil
}

// Hit is one row of a search result: the entity id and its document as
// returned by RediSearch's JSON result payload.
type Hit struct {
	ID       string
	Document map[string]any
}

// Result is a page of search hits plus the total match count before
// pagination, mirroring the spec's paginated search response shape.
type Result struct {
	Total int64
	Hits  []Hit
}

// Search runs the translated query against schema's index and decodes
// RediSearch's JSON-content reply into a Result page. schema must carry the
// collection's real field types (from SchemaFor) so the translator can tell
// a NUMERIC field from a TAG/TEXT one when rendering an eq clause.
//
// FT.SEARCH's RESP2 reply for a JSON index is a flat array:
// [total, key1, ["$", doc1json], key2, ["$", doc2json], ...]. go-redis's
// generic Do returns that as []any with each element itself []any/string,
// so decoding happens here rather than via a typed client method.
func (m *Manager) Search(ctx context.Context, schema IndexSchema, q Query) (Result, error) {
	q.Normalize()
	translator := NewTranslator(schema)
	args, err := translator.Translate(q)
	if err != nil {
		return Result{}, err
	}

	full := append([]any{"FT.SEARCH", schema.Name}, args...)
	raw, err := m.rdb.Do(ctx, full...).Result()
	if err != nil {
		return Result{}, fmt.Errorf("search: query index %q: %w", schema.Name, err)
	}

	return decodeSearchReply(raw, schema.KeyPrefix)
}

func decodeSearchReply(raw any, keyPrefix string) (Result, error) {
	rows, ok := raw.([]any)
	if !ok || len(rows) == 0 {
		return Result{}, nil
	}

	total, err := toInt64(rows[0])
	if err != nil {
		return Result{}, fmt.Errorf("search: unexpected total in reply: %w", err)
	}

	res := Result{Total: total}
	for i := 1; i < len(rows); i += 2 {
		id, _ := rows[i].(string)
		id = strings.TrimPrefix(id, keyPrefix)

		var doc map[string]any
		if i+1 < len(rows) {
			if fields, ok := rows[i+1].([]any); ok {
				doc = decodeJSONFieldPairs(fields)
			}
		}
		res.Hits = append(res.Hits, Hit{ID: id, Document: doc})
	}
	return res, nil
}

// decodeJSONFieldPairs handles the ["$", "<json>"] pair RediSearch returns
// per hit for a JSON index with no explicit RETURN clause.
func decodeJSONFieldPairs(fields []any) map[string]any {
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].(string)
		if name != "$" {
			continue
		}
		raw, _ := fields[i+1].(string)
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err == nil {
			return doc
		}
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		var out int64
		_, err := fmt.Sscanf(n, "%d", &out)
		return out, err
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
