// Package delta models a requested write as a sparse set of before/after
// value changes across entities, and provides the pure analysis passes over
// it: mirror expansion of reference changes, partition classification, and
// temporary-identifier planning.
package delta

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/strata-db/strata/schema"
)

// TempID is a caller-supplied placeholder standing in for an identity that
// has not yet been assigned a store-resident id.
type TempID string

// NewTempID returns a fresh unique placeholder.
func NewTempID() TempID { return TempID("tmp-" + uuid.NewString()) }

// ID is an entity identity: an (entity-type identity key, id) pair. Value is
// either a TempID or a resolved id (uuid.UUID or int64).
type ID struct {
	Identity string
	Value    any
}

// Temp returns an identity carrying a fresh temporary identifier.
func Temp(identity string) ID {
	return ID{Identity: identity, Value: NewTempID()}
}

// Ref returns an identity with the given id value.
func Ref(identity string, v any) ID {
	return ID{Identity: identity, Value: v}
}

// TempID returns the temporary identifier and true if the identity is
// unresolved.
func (id ID) TempID() (TempID, bool) {
	t, ok := id.Value.(TempID)
	return t, ok
}

func (id ID) String() string {
	return fmt.Sprintf("[%s %v]", id.Identity, id.Value)
}

// sortKey orders identities deterministically.
func (id ID) sortKey() string {
	return id.Identity + "\x00" + fmt.Sprintf("%v", id.Value)
}

// Change is a tagged change record on one attribute of one entity. The
// concrete variants are Scalar, RefOne and RefMany.
type Change interface {
	change()
}

// Scalar is a before/after change of a non-reference value. Either side may
// be nil, meaning absent.
type Scalar struct {
	Before, After any
}

// RefOne is a before/after change of a to-one reference.
type RefOne struct {
	Before, After *ID
}

// RefMany is a change of a to-many reference, already reduced to the set
// difference between the before and after collections. Members present in
// both are untouched.
type RefMany struct {
	Added, Removed []ID
}

func (Scalar) change()  {}
func (RefOne) change()  {}
func (RefMany) change() {}

// ManyDiff reduces a to-many before/after pair to its set difference.
func ManyDiff(before, after []ID) RefMany {
	in := func(vs []ID, v ID) bool {
		for _, x := range vs {
			if x == v {
				return true
			}
		}
		return false
	}
	var c RefMany
	for _, v := range after {
		if !in(before, v) {
			c.Added = append(c.Added, v)
		}
	}
	for _, v := range before {
		if !in(after, v) {
			c.Removed = append(c.Removed, v)
		}
	}
	return c
}

// Entity is the change set for one entity: either a deletion marker or a
// mapping of attribute keys to change records.
type Entity struct {
	Deleted bool
	Changes map[string]Change
}

// Delta maps entity identities to their change sets. A Delta is built by the
// caller, consumed by exactly one write operation, and never persisted.
type Delta map[ID]*Entity

// New returns an empty delta.
func New() Delta { return make(Delta) }

// Set records a change for one attribute of one entity.
func (d Delta) Set(id ID, attr string, c Change) Delta {
	e, ok := d[id]
	if !ok {
		e = &Entity{Changes: make(map[string]Change)}
		d[id] = e
	}
	e.Changes[attr] = c
	return d
}

// Delete marks the entity for deletion.
func (d Delta) Delete(id ID) Delta {
	e, ok := d[id]
	if !ok {
		e = &Entity{Changes: make(map[string]Change)}
		d[id] = e
	}
	e.Deleted = true
	return d
}

// IDs returns the delta's entity identities in deterministic order.
func (d Delta) IDs() []ID {
	ids := make([]ID, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].sortKey() < ids[j].sortKey() })
	return ids
}

// attrKeys returns the entity's changed attribute keys in sorted order.
func (e *Entity) attrKeys() []string {
	keys := make([]string, 0, len(e.Changes))
	for k := range e.Changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// noop reports whether the change carries no effective difference.
func noop(c Change) bool {
	switch c := c.(type) {
	case Scalar:
		return reflect.DeepEqual(c.Before, c.After)
	case RefOne:
		return eqRef(c.Before, c.After)
	case RefMany:
		return len(c.Added) == 0 && len(c.Removed) == 0
	}
	return false
}

func eqRef(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Partitions returns the sorted set of partitions the delta touches: the
// partition of every entity's identity plus the partition of every changed
// attribute.
func Partitions(s *schema.Schema, d Delta) ([]string, error) {
	set := make(map[string]struct{})
	for id, e := range d {
		ia, ok := s.Identity(id.Identity)
		if !ok {
			return nil, fmt.Errorf("delta: unknown identity %q", id.Identity)
		}
		set[ia.Partition] = struct{}{}
		for k := range e.Changes {
			a, ok := s.Attr(k)
			if !ok {
				return nil, fmt.Errorf("delta: unknown attribute %q", k)
			}
			set[a.Partition] = struct{}{}
		}
	}
	parts := make([]string, 0, len(set))
	for p := range set {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return parts, nil
}
