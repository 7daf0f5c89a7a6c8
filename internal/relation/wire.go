// Package relation turns a keys.EntityDescriptor into the wire shapes the
// atomic scripts consume, and gives the repository layer a small fluent
// builder for relation-mutation batches.
package relation

import (
	"github.com/snugom/snugom/internal/keys"
	"github.com/snugom/snugom/internal/script"
)

var kindNames = map[keys.RelationKind]string{
	keys.BelongsTo:   "belongs_to",
	keys.HasMany:     "has_many",
	keys.ManyToMany:  "many_to_many",
}

var cascadeNames = map[keys.CascadePolicy]string{
	keys.CascadeNone:   "none",
	keys.CascadeDetach: "detach",
	keys.CascadeDelete: "delete",
}

// ToDescriptorWire projects the fields a script needs out of a full
// descriptor: id/version field names, unique and compound-unique
// specifications, datetime mirror pairs, and outgoing relations.
func ToDescriptorWire(d *keys.EntityDescriptor) script.DescriptorWire {
	w := script.DescriptorWire{
		Service:       d.Service,
		Collection:    d.Collection,
		SchemaVersion: d.SchemaVersion,
		IDField:       d.IDField,
		VersionField:  d.VersionFieldName(),
	}

	for _, f := range d.Fields {
		if !f.Optional && !f.IsID {
			w.RequiredFields = append(w.RequiredFields, f.Name)
		}
		if f.Unique == keys.UniqueCaseSensitive {
			w.UniqueFields = append(w.UniqueFields, script.UniqueFieldWire{Field: f.Name})
		} else if f.Unique == keys.UniqueCaseInsensitive {
			w.UniqueFields = append(w.UniqueFields, script.UniqueFieldWire{Field: f.Name, CaseInsensitive: true})
		}
		if f.Type == keys.FieldDatetime && f.DatetimeMirrorName != "" {
			w.DatetimeFields = append(w.DatetimeFields, script.DatetimeWire{Field: f.Name, Mirror: f.DatetimeMirrorName})
		}
		if f.AutoCreated {
			w.AutoCreated = append(w.AutoCreated, f.Name)
		}
		if f.AutoUpdated {
			w.AutoUpdated = append(w.AutoUpdated, f.Name)
		}
	}

	w.UniqueCompound = d.UniqueCompound

	for _, r := range d.Relations {
		targetService := r.TargetService
		if targetService == "" {
			targetService = d.Service
		}
		w.Relations = append(w.Relations, script.RelationWire{
			Alias:            r.Alias,
			Kind:             kindNames[r.Kind],
			TargetService:    targetService,
			TargetCollection: r.TargetCollection,
			ForeignKey:       r.ForeignKey,
			Cascade:          cascadeNames[r.Cascade],
		})
	}

	return w
}

// RegistrySnapshot builds the full (service|collection) -> DescriptorWire
// map that cascade-capable commands embed, from the live keys.Registry.
func RegistrySnapshot(reg *keys.Registry) map[string]script.DescriptorWire {
	src := reg.Snapshot()
	out := make(map[string]script.DescriptorWire, len(src))
	for k, d := range src {
		out[k] = ToDescriptorWire(d)
	}
	return out
}
