package fakebackend

import (
	"encoding/json"
	"fmt"

	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/script"
)

func getEntity(s *store, key string) (map[string]any, bool, error) {
	raw, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("fakebackend: decode entity at %s: %w", key, err)
	}
	return doc, true, nil
}

func setEntity(s *store, key string, doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("fakebackend: encode entity for %s: %w", key, err)
	}
	s.set(key, string(b))
	return nil
}

// cascadeDeleteEntity removes (service, collection, id) and walks its
// cascade-eligible relations, mirroring common.lua's cascade_delete_entity:
// this collection's own has_many/many_to_many edges, plus every other
// registered collection's belongs_to relations that target it. Returns the
// number of entities deleted (itself included) and the updated visited set.
func cascadeDeleteEntity(s *store, prefix string, registry map[string]script.DescriptorWire, service, collection, id string, visited []script.VisitedEntry, depth int) (error, int, []script.VisitedEntry) {
	if depth > maxCascadeDepth {
		return &script.OtherError{Message: "cascade depth exceeded"}, 0, visited
	}
	if visitedHas(visited, collection, id) {
		return &script.OtherError{Message: "cycle detected"}, 0, visited
	}
	visited = visitedAdd(visited, collection, id)

	kctx := keys.New(prefix, service)
	ekey := kctx.Entity(collection, id)
	doc, ok, err := getEntity(s, ekey)
	if err != nil {
		return err, 0, visited
	}
	if !ok {
		return nil, 0, visited
	}

	descriptor, hasDescriptor := registry[script.RegistryKey(service, collection)]
	deleted := 0

	if hasDescriptor {
		for _, rel := range descriptor.Relations {
			if rel.Kind != "has_many" && rel.Kind != "many_to_many" {
				continue
			}
			fwdKey := kctx.Relation(rel.Alias, id)
			members := s.smembers(fwdKey)
			for _, member := range members {
				s.srem(kctx.ReverseRelation(rel.Alias, member), id)
				if rel.Cascade == "delete" {
					subErr, subDeleted, v2 := cascadeDeleteEntity(s, prefix, registry, rel.TargetService, rel.TargetCollection, member, visited, depth+1)
					visited = v2
					if subErr != nil {
						return subErr, deleted, visited
					}
					deleted += subDeleted
				}
			}
			s.del(fwdKey)
		}

		for _, key := range sortedRegistryKeys(registry) {
			desc := registry[key]
			for _, rel := range desc.Relations {
				if rel.Kind != "belongs_to" || rel.TargetService != service || rel.TargetCollection != collection {
					continue
				}
				lookupKey := kctx.BelongsToParentLookup(desc.Collection, rel.Alias, id)
				children := s.smembers(lookupKey)
				for _, childID := range children {
					if rel.Cascade == "delete" {
						subErr, subDeleted, v2 := cascadeDeleteEntity(s, prefix, registry, desc.Service, desc.Collection, childID, visited, depth+1)
						visited = v2
						if subErr != nil {
							return subErr, deleted, visited
						}
						deleted += subDeleted
					} else if rel.Cascade == "detach" {
						childCtx := keys.New(prefix, desc.Service)
						s.srem(childCtx.Relation(rel.Alias, childID), id)
						if rel.ForeignKey != "" {
							childKey := childCtx.Entity(desc.Collection, childID)
							if cdoc, ok, err := getEntity(s, childKey); err == nil && ok {
								delete(cdoc, rel.ForeignKey)
								_ = setEntity(s, childKey, cdoc)
							}
						}
					}
				}
				s.del(lookupKey)
				s.del(kctx.ReverseRelation(rel.Alias, id))
			}
		}
	}

	deleteUniqueFields(s, kctx, collection, descriptor, doc)
	s.del(ekey)
	deleted++
	return nil, deleted, visited
}

// syncBelongsToForeignKey writes (or clears) leftID's own foreign-key field
// for a belongs_to relation, mirroring common.lua's
// sync_belongs_to_foreign_key. value == nil clears the field.
func syncBelongsToForeignKey(s *store, prefix, service, leftCollection, leftID, field string, value any) {
	if field == "" {
		return
	}
	kctx := keys.New(prefix, service)
	ekey := kctx.Entity(leftCollection, leftID)
	doc, ok, err := getEntity(s, ekey)
	if err != nil || !ok {
		return
	}
	if value == nil {
		delete(doc, field)
	} else {
		doc[field] = value
	}
	_ = setEntity(s, ekey, doc)
}

// applyOneRelationDirective applies one connect/disconnect/delete directive
// rooted at leftID, mirroring common.lua's apply_one_relation_directive.
func applyOneRelationDirective(s *store, prefix string, registry map[string]script.DescriptorWire, service string, descriptor script.DescriptorWire, leftCollection, leftID string, directive script.RelationDirective, visited []script.VisitedEntry, depth int) (error, int, []script.VisitedEntry) {
	var rel *script.RelationWire
	for i := range descriptor.Relations {
		if descriptor.Relations[i].Alias == directive.Alias {
			rel = &descriptor.Relations[i]
			break
		}
	}
	if rel == nil {
		return &script.InvalidRequestError{Message: "unknown relation alias " + directive.Alias}, 0, visited
	}

	kctx := keys.New(prefix, service)
	fwdKey := kctx.Relation(rel.Alias, leftID)
	revKey := kctx.ReverseRelation(rel.Alias, directive.ID)

	switch directive.Op {
	case "connect":
		s.sadd(fwdKey, directive.ID)
		s.sadd(revKey, leftID)
		if rel.Kind == "belongs_to" {
			s.sadd(kctx.BelongsToParentLookup(leftCollection, rel.Alias, directive.ID), leftID)
			syncBelongsToForeignKey(s, prefix, service, leftCollection, leftID, rel.ForeignKey, directive.ID)
		}
		return nil, 0, visited
	case "disconnect":
		s.srem(fwdKey, directive.ID)
		s.srem(revKey, leftID)
		if rel.Kind == "belongs_to" {
			s.srem(kctx.BelongsToParentLookup(leftCollection, rel.Alias, directive.ID), leftID)
			syncBelongsToForeignKey(s, prefix, service, leftCollection, leftID, rel.ForeignKey, nil)
		}
		return nil, 0, visited
	case "delete":
		s.srem(fwdKey, directive.ID)
		s.srem(revKey, leftID)
		if rel.Kind == "belongs_to" {
			s.srem(kctx.BelongsToParentLookup(leftCollection, rel.Alias, directive.ID), leftID)
			syncBelongsToForeignKey(s, prefix, service, leftCollection, leftID, rel.ForeignKey, nil)
		}
		err, deleted, v2 := cascadeDeleteEntity(s, prefix, registry, rel.TargetService, rel.TargetCollection, directive.ID, visited, depth+1)
		if err != nil {
			return err, 0, v2
		}
		return nil, deleted, v2
	}
	return &script.InvalidRequestError{Message: "unknown relation op " + directive.Op}, 0, visited
}

// applyRelationBatch runs every directive in order against leftID, mirroring
// common.lua's apply_relation_batch.
func applyRelationBatch(s *store, prefix string, registry map[string]script.DescriptorWire, service string, descriptor script.DescriptorWire, leftCollection, leftID string, directives []script.RelationDirective, visited []script.VisitedEntry, depth int) (error, int) {
	total := 0
	for _, directive := range directives {
		err, cascaded, v2 := applyOneRelationDirective(s, prefix, registry, service, descriptor, leftCollection, leftID, directive, visited, depth)
		visited = v2
		if err != nil {
			return err, total
		}
		total += cascaded
	}
	return nil, total
}
