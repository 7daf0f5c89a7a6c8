package keys

import (
	"fmt"
	"regexp"
	"sync"
)

// FieldType enumerates the declared type of a descriptor field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumeric
	FieldBoolean
	FieldDatetime
	FieldSetOfString
	FieldOther
)

// UniqueMode describes how a field-level unique constraint normalizes its
// values before indexing.
type UniqueMode int

const (
	UniqueNone UniqueMode = iota
	UniqueCaseSensitive
	UniqueCaseInsensitive
)

// RelationKind enumerates the three supported relation shapes.
type RelationKind int

const (
	BelongsTo RelationKind = iota
	HasMany
	ManyToMany
)

// CascadePolicy controls what a delete does to the counterpart entity.
type CascadePolicy int

const (
	CascadeNone CascadePolicy = iota
	CascadeDetach
	CascadeDelete
)

// IndexType enumerates the backend secondary-index field types.
type IndexType int

const (
	IndexTag IndexType = iota
	IndexText
	IndexNumeric
	IndexGeo
)

// ValidationRule is one compiled validation rule attached to a field.
// Only Kind-specific members are populated; the rest are zero.
type ValidationRule struct {
	Kind string // "length", "range", "regex", "enum", "email", "url", "uuid", "required_if", "forbidden_if", "unique", "custom", "each"

	Min, Max         *float64
	Pattern          string
	CompiledPattern  *regexp.Regexp
	Allowed          []string
	CaseInsensitive  bool
	Expr             string // restricted boolean expression for required_if/forbidden_if
	CustomPath       string
	Each             *ValidationRule // element rule, for Kind == "each"
}

// Field describes one attribute of a stored entity.
type Field struct {
	Name               string
	Type               FieldType
	Optional           bool
	IsID               bool
	AutoCreated        bool
	AutoUpdated        bool
	VersionField       bool
	DatetimeMirrorName string
	Validations        []ValidationRule
	Unique             UniqueMode
}

// IndexSpec declares how one field participates in the secondary index.
type IndexSpec struct {
	Field     string
	Type      IndexType
	Sortable  bool
}

// Relation declares one outgoing relation from the owning collection.
type Relation struct {
	Alias            string
	Kind             RelationKind
	TargetService    string
	TargetCollection string
	ForeignKey       string // belongs_to only
	Junction         string // many_to_many, reserved
	Cascade          CascadePolicy
}

// EntityDescriptor is the compile-time metadata the runtime consumes for one
// entity type. It is produced by whatever binds this spec to a host
// language; the core only ever reads it.
type EntityDescriptor struct {
	Service           string
	Collection        string
	SchemaVersion     int
	IDField           string
	Fields            []Field
	UniqueCompound    [][]string
	Relations         []Relation
	IndexSpec         []IndexSpec
	TextSearchFields  []string
}

// FieldByName returns the field descriptor for name, or false if absent.
func (d *EntityDescriptor) FieldByName(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// VersionFieldName returns the name of the declared version field, or "" if the
// descriptor has none.
func (d *EntityDescriptor) VersionFieldName() string {
	for _, f := range d.Fields {
		if f.VersionField {
			return f.Name
		}
	}
	return ""
}

// descriptorKey identifies a descriptor by its (service, collection) pair.
type descriptorKey struct {
	service    string
	collection string
}

// Registry is a store of entity descriptors keyed by (service, collection);
// registering the same pair again replaces the earlier descriptor. It is
// safe for concurrent use; registration is expected to happen during process
// initialization only.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[descriptorKey]*EntityDescriptor
}

// NewRegistry constructs an empty registry. Most programs use the shared
// package-level registry via Register/Lookup rather than constructing their
// own, but tests may want isolation.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[descriptorKey]*EntityDescriptor)}
}

// Register adds or replaces the descriptor for its (service, collection).
func (r *Registry) Register(d *EntityDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[descriptorKey{d.Service, d.Collection}] = d
}

// Lookup returns the descriptor registered for (service, collection).
func (r *Registry) Lookup(service, collection string) (*EntityDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[descriptorKey{service, collection}]
	return d, ok
}

// IncomingRelation describes a relation declared on some other collection
// that points at the collection passed to FindIncomingRelations.
type IncomingRelation struct {
	SourceService    string
	SourceCollection string
	Alias            string
	Cascade          CascadePolicy
	Kind             RelationKind
	ForeignKey       string
}

// FindIncomingRelations scans every registered descriptor for relations that
// target (targetService, targetCollection), of every relation kind. The
// cascade walk inside the scripts does not call it: it scans the registry
// snapshot embedded in each command (see Snapshot).
func (r *Registry) FindIncomingRelations(targetService, targetCollection string) []IncomingRelation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var incoming []IncomingRelation
	for key, d := range r.descriptors {
		for _, rel := range d.Relations {
			relService := rel.TargetService
			if relService == "" {
				relService = d.Service
			}
			if relService == targetService && rel.TargetCollection == targetCollection {
				incoming = append(incoming, IncomingRelation{
					SourceService:    key.service,
					SourceCollection: key.collection,
					Alias:            rel.Alias,
					Cascade:          rel.Cascade,
					Kind:             rel.Kind,
					ForeignKey:       rel.ForeignKey,
				})
			}
		}
	}
	return incoming
}

// Snapshot returns every registered descriptor keyed by "service|collection",
// the same convention script.RegistryKey uses. Cascade-capable mutation
// commands embed this snapshot so the atomic script can walk relations
// across collections without calling back out to Go mid-script.
func (r *Registry) Snapshot() map[string]*EntityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*EntityDescriptor, len(r.descriptors))
	for key, d := range r.descriptors {
		out[key.service+"|"+key.collection] = d
	}
	return out
}

// shared is the default process-wide registry used by Register/Lookup.
var shared = NewRegistry()

// Register adds d to the shared process-wide registry.
func Register(d *EntityDescriptor) { shared.Register(d) }

// Lookup returns the descriptor registered for (service, collection) in the
// shared process-wide registry.
func Lookup(service, collection string) (*EntityDescriptor, bool) { return shared.Lookup(service, collection) }

// FindIncomingRelations scans the shared process-wide registry.
func FindIncomingRelations(targetService, targetCollection string) []IncomingRelation {
	return shared.FindIncomingRelations(targetService, targetCollection)
}

// Snapshot returns every descriptor in the shared process-wide registry.
func Snapshot() map[string]*EntityDescriptor { return shared.Snapshot() }

// CompileValidations resolves each field's regex patterns once, at
// registration time, so later validation calls never pay parse cost. It
// returns an error describing the first invalid pattern encountered.
func CompileValidations(d *EntityDescriptor) error {
	for fi := range d.Fields {
		if err := compileFieldRules(d.Fields[fi].Validations); err != nil {
			return fmt.Errorf("field %q: %w", d.Fields[fi].Name, err)
		}
	}
	return nil
}

func compileFieldRules(rules []ValidationRule) error {
	for i := range rules {
		if rules[i].Kind == "regex" && rules[i].Pattern != "" {
			re, err := regexp.Compile(rules[i].Pattern)
			if err != nil {
				return fmt.Errorf("invalid regex %q: %w", rules[i].Pattern, err)
			}
			rules[i].CompiledPattern = re
		}
		if rules[i].Kind == "each" && rules[i].Each != nil {
			if err := compileFieldRules([]ValidationRule{*rules[i].Each}); err != nil {
				return err
			}
		}
	}
	return nil
}
