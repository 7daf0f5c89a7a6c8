package search

import (
	"fmt"
	"strings"
)

// FieldSchema describes one indexed field, derived from an entity
// descriptor's index_spec plus its text_search_fields.
type FieldSchema struct {
	Name     string
	Type     string // TAG | TEXT | NUMERIC | GEO
	Sortable bool
}

// IndexSchema is everything needed to issue FT.CREATE for one collection.
type IndexSchema struct {
	Name       string // search index name, keys.Context.SearchIndex(collection)
	KeyPrefix  string // entity key prefix to index, e.g. "{prefix}:{service}:{collection}:"
	Fields     []FieldSchema
}

var indexTypeNames = map[int]string{
	0: "TAG",
	1: "TEXT",
	2: "NUMERIC",
	3: "GEO",
}

// BuildIndexSchema converts the raw index_spec field types plus the
// text_search_fields into the FT.CREATE schema shape. indexTypes maps
// field name -> RediSearch type name (TAG/TEXT/NUMERIC/GEO); sortable marks
// which of those fields carry SORTABLE.
func BuildIndexSchema(indexName, keyPrefix string, indexTypes map[string]string, sortable map[string]bool, textSearchFields []string) IndexSchema {
	schema := IndexSchema{Name: indexName, KeyPrefix: keyPrefix}
	seen := map[string]bool{}
	for name, typ := range indexTypes {
		schema.Fields = append(schema.Fields, FieldSchema{Name: name, Type: typ, Sortable: sortable[name]})
		seen[name] = true
	}
	for _, name := range textSearchFields {
		if !seen[name] {
			schema.Fields = append(schema.Fields, FieldSchema{Name: name, Type: "TEXT"})
			seen[name] = true
		}
	}
	return schema
}

// CreateArgs builds the FT.CREATE argument list (minus the "FT.CREATE"
// command name itself) for rdb.Do.
func (s IndexSchema) CreateArgs() []any {
	args := []any{s.Name, "ON", "JSON", "PREFIX", 1, s.KeyPrefix, "SCHEMA"}
	for _, f := range s.Fields {
		path := fmt.Sprintf("$.%s", f.Name)
		args = append(args, path, "AS", f.Name, f.Type)
		if f.Sortable && (f.Type == "NUMERIC" || f.Type == "TAG" || f.Type == "TEXT") {
			args = append(args, "SORTABLE")
		}
	}
	return args
}

// Translator turns a parsed Query into an FT.SEARCH argument list for a
// specific collection's index.
type Translator struct {
	Schema IndexSchema
}

// NewTranslator binds a translator to one collection's index schema.
func NewTranslator(schema IndexSchema) *Translator { return &Translator{Schema: schema} }

func escapeTag(v string) string {
	r := strings.NewReplacer(
		",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>", "{", "\\{", "}", "\\}",
		"[", "\\[", "]", "\\]", "\"", "\\\"", "'", "\\'", ":", "\\:", ";", "\\;",
		"!", "\\!", "@", "\\@", "#", "\\#", "$", "\\$", "%", "\\%", "^", "\\^",
		"&", "\\&", "*", "\\*", "(", "\\(", ")", "\\)", "-", "\\-", "+", "\\+",
		"=", "\\=", "~", "\\~", "|", "\\|", " ", "\\ ",
	)
	return r.Replace(v)
}

func (t *Translator) fieldType(field string) string {
	for _, f := range t.Schema.Fields {
		if f.Name == field {
			return f.Type
		}
	}
	return "TEXT"
}

// clause renders one filter into a RediSearch query clause, per the field
// type it was indexed as and the operator requested.
func (t *Translator) clause(f Filter) (string, error) {
	typ := t.fieldType(f.Field)
	switch f.Op {
	case OpEq:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("eq filter on %q needs a value", f.Field)
		}
		if typ == "NUMERIC" {
			return fmt.Sprintf("@%s:[%s %s]", f.Field, f.Values[0], f.Values[0]), nil
		}
		return fmt.Sprintf("@%s:{%s}", f.Field, escapeTag(f.Values[0])), nil
	case OpRange:
		if len(f.Values) != 2 {
			return "", fmt.Errorf("range filter on %q needs two bounds", f.Field)
		}
		lo, hi := f.Values[0], f.Values[1]
		if lo == "" {
			lo = "-inf"
		}
		if hi == "" {
			hi = "+inf"
		}
		return fmt.Sprintf("@%s:[%s %s]", f.Field, lo, hi), nil
	case OpPrefix:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("prefix filter on %q needs a value", f.Field)
		}
		return fmt.Sprintf("@%s:%s*", f.Field, escapeTag(f.Values[0])), nil
	case OpContains:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("contains filter on %q needs a value", f.Field)
		}
		return fmt.Sprintf("@%s:*%s*", f.Field, escapeTag(f.Values[0])), nil
	case OpExact:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("exact filter on %q needs a value", f.Field)
		}
		return fmt.Sprintf("@%s:\"%s\"", f.Field, f.Values[0]), nil
	case OpFuzzy:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("fuzzy filter on %q needs a value", f.Field)
		}
		return fmt.Sprintf("@%s:%%%s%%", f.Field, escapeTag(f.Values[0])), nil
	case OpBool:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("bool filter on %q needs a value", f.Field)
		}
		v := strings.ToLower(f.Values[0])
		if v != "true" && v != "false" {
			return "", fmt.Errorf("bool filter on %q needs true/false, got %q", f.Field, f.Values[0])
		}
		return fmt.Sprintf("@%s:{%s}", f.Field, v), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", f.Op)
	}
}

// Translate builds the FT.SEARCH argument list (minus "FT.SEARCH" and the
// index name) for rdb.Do, given a normalized query.
func (t *Translator) Translate(q Query) ([]any, error) {
	var clauses []string
	if strings.TrimSpace(q.Text) != "" {
		clauses = append(clauses, q.Text)
	}
	for _, f := range q.Filters {
		c, err := t.clause(f)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}

	expr := "*"
	if len(clauses) > 0 {
		expr = strings.Join(clauses, " ")
	}

	offset := (q.Page - 1) * q.PageSize
	args := []any{expr, "LIMIT", offset, q.PageSize}

	if q.SortBy != "" {
		dir := "ASC"
		if q.SortOrder == SortDesc {
			dir = "DESC"
		}
		args = append(args, "SORTBY", q.SortBy, dir)
	}
	return args, nil
}

// indexTypeName converts the script-wire IndexType integer (mirrored from
// keys.IndexType) into its RediSearch schema type name.
func indexTypeName(t int) string {
	if name, ok := indexTypeNames[t]; ok {
		return name
	}
	return "TEXT"
}
