package delta

import (
	"fmt"

	"github.com/strata-db/strata/schema"
)

// Expand propagates reference changes to the entity owning the foreign key
// and returns the expanded delta. The input delta is not mutated.
//
// For every change on a ref attribute declaring a mirror key, the mirrored
// change is written on the referenced entity: a linked target receives the
// source identity on its mirror attribute, an unlinked target has it cleared
// or, for delete-orphan references, is marked deleted. Re-linking an
// unchanged to-one reference still propagates the link to the mirror side.
// Attributes without a mirror key own their foreign-key column and need no
// propagation.
//
// Entities and attributes are processed in deterministic sorted order, so a
// target receiving conflicting mirror updates resolves the same way on every
// run (last write in that order wins).
func Expand(s *schema.Schema, d Delta) (Delta, error) {
	out := New()
	for id, e := range d {
		ne := &Entity{Deleted: e.Deleted, Changes: make(map[string]Change, len(e.Changes))}
		for k, c := range e.Changes {
			ne.Changes[k] = c
		}
		out[id] = ne
	}
	for _, src := range out.IDs() {
		e := out[src]
		for _, key := range e.attrKeys() {
			a, ok := s.Attr(key)
			if !ok {
				return nil, fmt.Errorf("delta: unknown attribute %q", key)
			}
			if !a.IsRef() || !a.Mirrored() {
				continue
			}
			switch c := e.Changes[key].(type) {
			case RefOne:
				expandOne(out, a, src, c)
			case RefMany:
				expandMany(out, a, src, c)
			case Scalar:
				return nil, fmt.Errorf("delta: scalar change on mirrored ref attribute %q", key)
			}
		}
	}
	return out, nil
}

func expandOne(out Delta, a *schema.Attr, src ID, c RefOne) {
	// The after side is propagated even when unchanged, so an idempotent
	// re-link still lands the foreign key on the mirror entity.
	if c.After != nil {
		out.Set(*c.After, a.MirrorKey, RefOne{After: &src})
	}
	if c.Before != nil && !eqRef(c.Before, c.After) {
		unlink(out, a, src, *c.Before)
	}
}

func expandMany(out Delta, a *schema.Attr, src ID, c RefMany) {
	for _, t := range c.Added {
		out.Set(t, a.MirrorKey, RefOne{After: &src})
	}
	for _, t := range c.Removed {
		unlink(out, a, src, t)
	}
}

func unlink(out Delta, a *schema.Attr, src, old ID) {
	if a.DeleteOrphan {
		out.Delete(old)
		return
	}
	out.Set(old, a.MirrorKey, RefOne{Before: &src})
}
