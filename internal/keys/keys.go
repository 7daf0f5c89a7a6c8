// Package keys builds the stable Redis key names used across the runtime
// storage engine and holds the process-wide registry of entity descriptors.
package keys

import "strings"

// Context carries the namespacing prefix and service name shared by every
// key built for a given client. It is immutable once constructed.
type Context struct {
	Prefix  string
	Service string
}

// New returns a key Context for the given prefix and service.
func New(prefix, service string) Context {
	return Context{Prefix: prefix, Service: service}
}

// Entity returns the key for an entity document: prefix:service:collection:id.
func (c Context) Entity(collection, id string) string {
	return c.Prefix + ":" + c.Service + ":" + collection + ":" + id
}

// Relation returns the forward edge set key for a belongs_to/has_many/
// many_to_many relation alias rooted at leftID.
func (c Context) Relation(alias, leftID string) string {
	return c.Prefix + ":" + c.Service + ":rel:" + alias + ":" + leftID
}

// ReverseRelation returns the symmetric reverse edge set key.
func (c Context) ReverseRelation(alias, rightID string) string {
	return c.Prefix + ":" + c.Service + ":rel:" + alias + "_reverse:" + rightID
}

// BelongsToParentLookup returns the parent-lookup set key used by cascade
// traversal to find the children of parentID for a belongs_to alias.
func (c Context) BelongsToParentLookup(childCollection, alias, parentID string) string {
	return c.Prefix + ":" + c.Service + ":" + childCollection + ":rev_rel:" + alias + ":" + parentID
}

// Unique returns the key for a single-field uniqueness index.
func (c Context) Unique(collection, field string) string {
	return c.Prefix + ":" + c.Service + ":" + collection + ":unique:" + field
}

// CompoundUnique returns the key for a multi-field uniqueness index. Field
// names are joined with underscores in declaration order, matching
// unique_compound[] on the descriptor.
func (c Context) CompoundUnique(collection string, fields []string) string {
	return c.Prefix + ":" + c.Service + ":" + collection + ":unique_compound:" + strings.Join(fields, "_")
}

// Idempotency returns the key that maps an idempotency key to the entity id
// it produced.
func (c Context) Idempotency(collection, idempotencyKey string) string {
	return c.Prefix + ":" + c.Service + ":" + collection + ":idempotency:" + idempotencyKey
}

// Migrations is the single well-known key holding the applied-migration log.
// It is service/prefix independent by design so that migration bookkeeping
// survives a prefix rename.
const Migrations = "_snugom:migrations"

// SearchIndex returns the name of the backend full-text/secondary index for
// a collection. Collections that share an index (the common case) pass the
// same name; per-collection variants are supported by passing a distinct
// suffix.
func (c Context) SearchIndex(suffix string) string {
	if suffix == "" {
		return c.Prefix + ":idx"
	}
	return c.Prefix + ":idx:" + suffix
}
