package relation

import "github.com/snugom/snugom/internal/script"

// Batch is a fluent builder for a relation-mutation directive list, handed
// to a repository's MutateRelations or embedded in an upsert/patch command.
type Batch struct {
	directives []script.RelationDirective
}

// NewBatch returns an empty relation-mutation batch.
func NewBatch() *Batch { return &Batch{} }

// Connect adds a connect directive for alias -> id.
func (b *Batch) Connect(alias, id string) *Batch {
	b.directives = append(b.directives, script.RelationDirective{Op: "connect", Alias: alias, ID: id})
	return b
}

// Disconnect adds a disconnect directive for alias -> id.
func (b *Batch) Disconnect(alias, id string) *Batch {
	b.directives = append(b.directives, script.RelationDirective{Op: "disconnect", Alias: alias, ID: id})
	return b
}

// Delete adds a directive that disconnects alias -> id and then deletes the
// counterpart entity, recursively cascading from it.
func (b *Batch) Delete(alias, id string) *Batch {
	b.directives = append(b.directives, script.RelationDirective{Op: "delete", Alias: alias, ID: id})
	return b
}

// Directives returns the accumulated directive list.
func (b *Batch) Directives() []script.RelationDirective { return b.directives }

// Empty reports whether the batch has no directives.
func (b *Batch) Empty() bool { return len(b.directives) == 0 }
