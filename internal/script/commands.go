package script

// DescriptorWire is the subset of an entity descriptor a script needs to
// enforce invariants without a per-collection script: which fields are
// unique (and how), which datetime fields need an epoch-ms mirror kept in
// lockstep, and which relations emanate from this collection so a relation
// batch or cascade can be applied generically.
type DescriptorWire struct {
	Service        string            `json:"service"`
	Collection     string            `json:"collection"`
	SchemaVersion  int               `json:"schema_version"`
	IDField        string            `json:"id_field"`
	VersionField   string            `json:"version_field,omitempty"`
	UniqueFields   []UniqueFieldWire `json:"unique_fields,omitempty"`
	UniqueCompound [][]string        `json:"unique_compound,omitempty"`
	DatetimeFields []DatetimeWire    `json:"datetime_fields,omitempty"`
	AutoCreated    []string          `json:"auto_created_fields,omitempty"`
	AutoUpdated    []string          `json:"auto_updated_fields,omitempty"`
	Relations      []RelationWire    `json:"relations,omitempty"`
	// RequiredFields lists every non-optional field name, so entity_patch.lua
	// can reject a merge that leaves a mandatory field empty without needing
	// the full validation rule set (§4.C local rules run client-side).
	RequiredFields []string `json:"required_fields,omitempty"`
}

// UniqueFieldWire names one singly-unique field and its normalization mode.
type UniqueFieldWire struct {
	Field           string `json:"field"`
	CaseInsensitive bool   `json:"case_insensitive"`
}

// DatetimeWire pairs a datetime field with its epoch-ms mirror field name.
type DatetimeWire struct {
	Field  string `json:"field"`
	Mirror string `json:"mirror"`
}

// RelationWire describes one outgoing relation declared on this collection.
type RelationWire struct {
	Alias            string `json:"alias"`
	Kind             string `json:"kind"` // belongs_to | has_many | many_to_many
	TargetService    string `json:"target_service"`
	TargetCollection string `json:"target_collection"`
	ForeignKey       string `json:"foreign_key,omitempty"`
	Cascade          string `json:"cascade"` // delete | detach | none
}

// RelationDirective is one entry of a relation-mutation batch.
type RelationDirective struct {
	Op    string `json:"op"` // connect | disconnect | delete
	Alias string `json:"alias"`
	ID    string `json:"id"`
}

// VisitedEntry is one (collection, id) pair already visited during a cascade
// walk. A command may carry an initial list; the walk threads it through its
// recursive calls inside a single script invocation.
type VisitedEntry struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// UpsertCommand is the payload for the "upsert" (create/replace full
// entity) script.
type UpsertCommand struct {
	Op              string              `json:"op"`
	Prefix          string              `json:"prefix"`
	Descriptor      DescriptorWire      `json:"descriptor"`
	ID              string              `json:"id,omitempty"`
	NewID           string              `json:"new_id"`
	Document        map[string]any      `json:"document"`
	ExpectedVersion *int64              `json:"expected_version,omitempty"`
	Relations       []RelationDirective `json:"relation_batch,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key,omitempty"`
	IdempotencyTTLS int64               `json:"idempotency_ttl_seconds,omitempty"`
	NowMillis       int64               `json:"now_ms"`
	Visited         []VisitedEntry      `json:"visited,omitempty"`
	Registry        map[string]DescriptorWire `json:"registry,omitempty"`
}

// PatchCommand is the payload for the "patch" (partial update) script.
type PatchCommand struct {
	Op              string              `json:"op"`
	Prefix          string              `json:"prefix"`
	Descriptor      DescriptorWire      `json:"descriptor"`
	ID              string              `json:"id"`
	FieldMask       map[string]any      `json:"field_mask"`
	ExpectedVersion *int64              `json:"expected_version,omitempty"`
	Relations       []RelationDirective `json:"relation_batch,omitempty"`
	NowMillis       int64               `json:"now_ms"`
	Visited         []VisitedEntry      `json:"visited,omitempty"`
	Registry        map[string]DescriptorWire `json:"registry,omitempty"`
}

// DeleteCommand is the payload for the "delete" script.
type DeleteCommand struct {
	Op              string                    `json:"op"`
	Prefix          string                    `json:"prefix"`
	Descriptor      DescriptorWire            `json:"descriptor"`
	ID              string                    `json:"id"`
	ExpectedVersion *int64                    `json:"expected_version,omitempty"`
	Visited         []VisitedEntry            `json:"visited,omitempty"`
	Depth           int                       `json:"depth"`
	// Registry is a snapshot of every registered descriptor, keyed by
	// RegistryKey(service, collection). The cascade walk needs it to find
	// both this collection's own outgoing has_many/many_to_many edges and
	// every other collection's belongs_to relations that target it —
	// deriving "incoming" edges by scanning the registry rather than
	// carrying a separately precomputed list.
	Registry map[string]DescriptorWire `json:"registry"`
}

// RegistryKey is the map key used for DeleteCommand.Registry and the
// analogous fields on the other cascade-capable commands.
func RegistryKey(service, collection string) string {
	return service + "|" + collection
}

// RelationMutationCommand is the payload for the "mutate_relations" script.
type RelationMutationCommand struct {
	Op         string              `json:"op"`
	Prefix     string              `json:"prefix"`
	Descriptor DescriptorWire      `json:"descriptor"`
	ID         string              `json:"id"`
	Relations  []RelationDirective `json:"relation_batch"`
	NowMillis  int64               `json:"now_ms"`
	Visited    []VisitedEntry      `json:"visited,omitempty"`
	Registry   map[string]DescriptorWire `json:"registry,omitempty"`
}

// UpsertBranchCommand is the payload for the "upsert_branch" script: try a
// patch, and if the entity does not exist, create it from CreateDocument.
type UpsertBranchCommand struct {
	Op              string              `json:"op"`
	Prefix          string              `json:"prefix"`
	Descriptor      DescriptorWire      `json:"descriptor"`
	ID              string              `json:"id"`
	NewID           string              `json:"new_id"`
	FieldMask       map[string]any      `json:"field_mask"`
	CreateDocument  map[string]any      `json:"create_document"`
	ExpectedVersion *int64              `json:"expected_version,omitempty"`
	Relations       []RelationDirective `json:"relation_batch,omitempty"`
	NowMillis       int64               `json:"now_ms"`
	Registry        map[string]DescriptorWire `json:"registry,omitempty"`
}

// GetOrCreateCommand is the payload for the "get_or_create" script.
type GetOrCreateCommand struct {
	Op             string         `json:"op"`
	Prefix         string         `json:"prefix"`
	Descriptor     DescriptorWire `json:"descriptor"`
	ID             string         `json:"id,omitempty"`
	NewID          string         `json:"new_id"`
	Document       map[string]any `json:"document"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	NowMillis      int64          `json:"now_ms"`
}

// MutationCommand is implemented by every *Command type above; scriptName
// reports the script it dispatches to.
type MutationCommand interface {
	scriptName() string
}

func (c *UpsertCommand) scriptName() string           { return "entity_upsert" }
func (c *PatchCommand) scriptName() string            { return "entity_patch" }
func (c *DeleteCommand) scriptName() string            { return "entity_delete" }
func (c *RelationMutationCommand) scriptName() string  { return "relation_mutation" }
func (c *UpsertBranchCommand) scriptName() string      { return "entity_upsert_branch" }
func (c *GetOrCreateCommand) scriptName() string       { return "entity_get_or_create" }

// MutationPlan is an ordered list of commands executed one at a time,
// atomically per command but not across the whole plan (spec: "a single
// command is atomic; cross-command atomicity is not guaranteed").
type MutationPlan struct {
	Commands []MutationCommand
}
