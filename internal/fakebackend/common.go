package fakebackend

import (
	"sort"
	"strconv"
	"strings"

	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/script"
)

const maxCascadeDepth = 8

func normalizeValue(v any, caseInsensitive bool) string {
	s := scalarToString(v)
	if caseInsensitive {
		s = strings.ToLower(s)
	}
	return s
}

// scalarToString mirrors Lua's tostring() for the JSON scalar types a
// unique field can hold.
func scalarToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return ""
	}
}

func visitedHas(visited []script.VisitedEntry, collection, id string) bool {
	for _, v := range visited {
		if v.Collection == collection && v.ID == id {
			return true
		}
	}
	return false
}

func visitedAdd(visited []script.VisitedEntry, collection, id string) []script.VisitedEntry {
	out := make([]script.VisitedEntry, len(visited), len(visited)+1)
	copy(out, visited)
	return append(out, script.VisitedEntry{Collection: collection, ID: id})
}

// checkUniqueFields returns a non-nil *UniqueConstraintViolationError if doc
// collides with another entity (not selfID) on a unique or compound-unique
// index, mirroring common.lua's check_unique_fields.
func checkUniqueFields(s *store, kctx keys.Context, collection string, d script.DescriptorWire, doc map[string]any, selfID string) *script.UniqueConstraintViolationError {
	for _, uf := range d.UniqueFields {
		v, present := doc[uf.Field]
		if !present || v == nil {
			continue
		}
		norm := normalizeValue(v, uf.CaseInsensitive)
		k := kctx.Unique(collection, uf.Field)
		if holder, ok := s.hget(k, norm); ok && holder != selfID {
			return &script.UniqueConstraintViolationError{
				Fields:           []string{uf.Field},
				Values:           []string{scalarToString(v)},
				ExistingEntityID: holder,
			}
		}
	}

	for _, group := range d.UniqueCompound {
		norm, values, complete := compoundKey(doc, group, false)
		if !complete {
			continue
		}
		k := kctx.CompoundUnique(collection, group)
		if holder, ok := s.hget(k, norm); ok && holder != selfID {
			return &script.UniqueConstraintViolationError{
				Fields:           group,
				Values:           values,
				ExistingEntityID: holder,
			}
		}
	}
	return nil
}

// compoundKey builds the \x1f-joined normalized key for a compound-unique
// group, reporting whether every field in group is present in doc.
func compoundKey(doc map[string]any, group []string, caseInsensitive bool) (norm string, values []string, complete bool) {
	parts := make([]string, 0, len(group))
	values = make([]string, 0, len(group))
	for _, f := range group {
		v, present := doc[f]
		if !present || v == nil {
			return "", nil, false
		}
		parts = append(parts, normalizeValue(v, caseInsensitive))
		values = append(values, scalarToString(v))
	}
	return strings.Join(parts, "\x1f"), values, true
}

// writeUniqueFields refreshes unique-index entries for doc, clearing any
// stale entry oldDoc held under a different normalized value. Mirrors
// common.lua's write_unique_fields.
func writeUniqueFields(s *store, kctx keys.Context, collection string, d script.DescriptorWire, doc, oldDoc map[string]any, selfID string) {
	for _, uf := range d.UniqueFields {
		k := kctx.Unique(collection, uf.Field)
		if oldDoc != nil {
			if ov, present := oldDoc[uf.Field]; present && ov != nil {
				oldNorm := normalizeValue(ov, uf.CaseInsensitive)
				nv, nPresent := doc[uf.Field]
				if !nPresent || nv == nil || normalizeValue(nv, uf.CaseInsensitive) != oldNorm {
					s.hdel(k, oldNorm)
				}
			}
		}
		if v, present := doc[uf.Field]; present && v != nil {
			s.hset(k, normalizeValue(v, uf.CaseInsensitive), selfID)
		}
	}

	for _, group := range d.UniqueCompound {
		k := kctx.CompoundUnique(collection, group)
		if oldDoc != nil {
			if oldNorm, _, complete := compoundKey(oldDoc, group, false); complete {
				s.hdel(k, oldNorm)
			}
		}
		if norm, _, complete := compoundKey(doc, group, false); complete {
			s.hset(k, norm, selfID)
		}
	}
}

// deleteUniqueFields removes every unique/compound-unique entry selfID
// owns on doc. Mirrors common.lua's delete_unique_fields.
func deleteUniqueFields(s *store, kctx keys.Context, collection string, d script.DescriptorWire, doc map[string]any) {
	for _, uf := range d.UniqueFields {
		if v, present := doc[uf.Field]; present && v != nil {
			s.hdel(kctx.Unique(collection, uf.Field), normalizeValue(v, uf.CaseInsensitive))
		}
	}
	for _, group := range d.UniqueCompound {
		if norm, _, complete := compoundKey(doc, group, false); complete {
			s.hdel(kctx.CompoundUnique(collection, group), norm)
		}
	}
}

// enforceDatetimeMirrors enforces invariant 6: a datetime field and its
// epoch-ms mirror are present or absent together. Mirrors common.lua's
// enforce_datetime_mirrors.
func enforceDatetimeMirrors(d script.DescriptorWire, doc map[string]any) {
	for _, df := range d.DatetimeFields {
		if doc[df.Field] == nil {
			delete(doc, df.Mirror)
		}
	}
}

func sortedRegistryKeys(registry map[string]script.DescriptorWire) []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
