// Package write implements the delta write path: temporary-identifier
// allocation, SQL plan generation, and the transactional executor with
// bounded retry on serialization conflicts.
package write

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/dialect/sql"
	"github.com/strata-db/strata/schema"
)

// ResolvedIDs maps every temporary identifier of one write operation to its
// resolved id. It is built once per operation and immutable afterwards.
type ResolvedIDs map[delta.TempID]any

// Stmt is one planned statement with its bind parameters.
type Stmt struct {
	Query string
	Args  []any
}

// Plan is the ordered statement set for one partition. All Updates (which
// include deletes) execute before all Inserts within the transaction:
// updates may clear foreign keys referencing rows about to be deleted, and
// constraint checking is deferred to commit.
type Plan struct {
	Updates []Stmt
	Inserts []Stmt
}

// Empty reports whether the plan contains no statements.
func (p *Plan) Empty() bool { return len(p.Updates) == 0 && len(p.Inserts) == 0 }

// BuildPlan translates the expanded, identifier-resolved delta into the SQL
// plan for one partition. It is a pure function; every temporary identifier
// the delta mentions must already have an entry in ids.
func BuildPlan(s *schema.Schema, partition string, ids ResolvedIDs, d delta.Delta) (*Plan, error) {
	plan := &Plan{}
	for _, id := range d.IDs() {
		e := d[id]
		ia, ok := s.Identity(id.Identity)
		if !ok {
			return nil, fmt.Errorf("write: unknown identity %q", id.Identity)
		}
		if ia.Partition != partition {
			continue
		}
		rv, temp, err := resolveID(s, ids, id)
		if err != nil {
			return nil, err
		}
		switch {
		case temp:
			if e.Deleted {
				continue // created and deleted within one delta: nothing to do
			}
			st, err := insertStmt(s, partition, ids, id, e, ia, rv)
			if err != nil {
				return nil, err
			}
			plan.Inserts = append(plan.Inserts, st)
		case e.Deleted:
			q, args := sql.Delete(ia.StorageName).Where(sql.EQ(ia.IDColumn, rv)).Query()
			plan.Updates = append(plan.Updates, Stmt{Query: q, Args: args})
		default:
			st, ok, err := updateStmt(s, partition, ids, id, e, ia, rv)
			if err != nil {
				return nil, err
			}
			if ok {
				plan.Updates = append(plan.Updates, st)
			}
		}
	}
	return plan, nil
}

func insertStmt(s *schema.Schema, partition string, ids ResolvedIDs, id delta.ID, e *delta.Entity, ia *schema.Attr, rv any) (Stmt, error) {
	ins := sql.Insert(ia.StorageName).Set(ia.IDColumn, rv)
	if err := eachColumn(s, partition, id, e, func(a *schema.Attr, c delta.Change) error {
		v, ok, err := columnValue(s, ids, a, c, false)
		if err != nil {
			return err
		}
		if ok && v != nil {
			ins.Set(a.StorageName, v)
		}
		return nil
	}); err != nil {
		return Stmt{}, err
	}
	q, args := ins.Query()
	return Stmt{Query: q, Args: args}, nil
}

func updateStmt(s *schema.Schema, partition string, ids ResolvedIDs, id delta.ID, e *delta.Entity, ia *schema.Attr, rv any) (Stmt, bool, error) {
	upd := sql.Update(ia.StorageName)
	if err := eachColumn(s, partition, id, e, func(a *schema.Attr, c delta.Change) error {
		v, ok, err := columnValue(s, ids, a, c, true)
		if err != nil {
			return err
		}
		if ok {
			upd.Set(a.StorageName, v)
		}
		return nil
	}); err != nil {
		return Stmt{}, false, err
	}
	if upd.Empty() {
		return Stmt{}, false, nil
	}
	q, args := upd.Where(sql.EQ(ia.IDColumn, rv)).Query()
	return Stmt{Query: q, Args: args}, true, nil
}

// eachColumn visits the changed attributes that materialize as columns on
// the entity's own table within the target partition, in sorted key order.
// To-many references are never columns here, and a to-one reference with a
// declared mirror stores its foreign key on the target side.
func eachColumn(s *schema.Schema, partition string, id delta.ID, e *delta.Entity, fn func(*schema.Attr, delta.Change) error) error {
	for _, key := range sortedKeys(e.Changes) {
		a, ok := s.Attr(key)
		if !ok {
			return fmt.Errorf("write: unknown attribute %q", key)
		}
		if a.Identity || a.Partition != partition || !a.OwnedBy(id.Identity) {
			continue
		}
		if a.IsRef() && (a.Cardinality == schema.Many || a.Mirrored()) {
			continue
		}
		if err := fn(a, e.Changes[key]); err != nil {
			return err
		}
	}
	return nil
}

// columnValue computes the encoded column value for a change. The second
// return is false when the change must not touch the column: absent after on
// insert, or an unchanged before/after pair (the no-op invariant). A nil
// value with ok=true means SET NULL.
func columnValue(s *schema.Schema, ids ResolvedIDs, a *schema.Attr, c delta.Change, forUpdate bool) (any, bool, error) {
	codec, _ := s.Codec(a.Key)
	switch c := c.(type) {
	case delta.Scalar:
		if forUpdate && reflect.DeepEqual(c.Before, c.After) {
			return nil, false, nil
		}
		if c.After == nil {
			if forUpdate && c.Before != nil {
				return nil, true, nil
			}
			return nil, false, nil
		}
		v, err := codec.Encode(c.After)
		if err != nil {
			return nil, false, fmt.Errorf("write: encoding %q: %w", a.Key, err)
		}
		return v, true, nil
	case delta.RefOne:
		if forUpdate && refEqual(ids, c.Before, c.After) {
			return nil, false, nil
		}
		if c.After == nil {
			if forUpdate && c.Before != nil {
				return nil, true, nil
			}
			return nil, false, nil
		}
		rv, _, err := resolveID(s, ids, *c.After)
		if err != nil {
			return nil, false, err
		}
		return rv, true, nil
	case delta.RefMany:
		return nil, false, fmt.Errorf("write: to-many change on column attribute %q", a.Key)
	}
	return nil, false, fmt.Errorf("write: unsupported change %T on %q", c, a.Key)
}

// refEqual reports whether both sides of a to-one change denote the same
// identity after temporary-identifier resolution.
func refEqual(ids ResolvedIDs, a, b *delta.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	av, bv := a.Value, b.Value
	if t, ok := a.TempID(); ok {
		av = ids[t]
	}
	if t, ok := b.TempID(); ok {
		bv = ids[t]
	}
	return a.Identity == b.Identity && reflect.DeepEqual(av, bv)
}

// resolveID maps an identity to its encoded storage id, resolving temporary
// identifiers through ids first. The second return reports whether the
// identity was temporary.
func resolveID(s *schema.Schema, ids ResolvedIDs, id delta.ID) (any, bool, error) {
	v := id.Value
	temp := false
	if t, ok := id.TempID(); ok {
		rv, ok := ids[t]
		if !ok {
			return nil, false, fmt.Errorf("write: unresolved temporary identifier %q", t)
		}
		v, temp = rv, true
	}
	enc, err := s.EncodeID(id.Identity, v)
	if err != nil {
		return nil, false, fmt.Errorf("write: encoding id of %s: %w", id, err)
	}
	return enc, temp, nil
}

func sortedKeys(m map[string]delta.Change) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
