package delta

import (
	"fmt"
	"sort"

	"github.com/strata-db/strata/schema"
)

// SeqAlloc is one pending sequence allocation: the temporary identifiers of
// one sequence-backed identity, in deterministic order.
type SeqAlloc struct {
	Partition string
	Sequence  string
	IDs       []TempID
}

// IDPlan partitions the delta's temporary identifiers into those needing a
// store-allocated sequence value and those generated locally. Building the
// plan performs no I/O.
type IDPlan struct {
	Sequences []SeqAlloc
	Local     []TempID
}

// Empty reports whether no temporary identifiers are pending.
func (p IDPlan) Empty() bool { return len(p.Sequences) == 0 && len(p.Local) == 0 }

// PlanIDs scans every identity appearing in the delta, as an entity key or
// inside a reference change, and plans the resolution of its temporary
// identifier. A temporary identifier used under two different identities is
// rejected.
func PlanIDs(s *schema.Schema, d Delta) (IDPlan, error) {
	owners := make(map[TempID]string)
	note := func(id ID) error {
		t, ok := id.TempID()
		if !ok {
			return nil
		}
		if prev, ok := owners[t]; ok && prev != id.Identity {
			return fmt.Errorf("delta: temporary identifier %q used as both %q and %q", t, prev, id.Identity)
		}
		owners[t] = id.Identity
		return nil
	}
	for id, e := range d {
		if err := note(id); err != nil {
			return IDPlan{}, err
		}
		for _, c := range e.Changes {
			switch c := c.(type) {
			case RefOne:
				for _, r := range []*ID{c.Before, c.After} {
					if r != nil {
						if err := note(*r); err != nil {
							return IDPlan{}, err
						}
					}
				}
			case RefMany:
				for _, r := range c.Added {
					if err := note(r); err != nil {
						return IDPlan{}, err
					}
				}
				for _, r := range c.Removed {
					if err := note(r); err != nil {
						return IDPlan{}, err
					}
				}
			}
		}
	}
	var (
		plan IDPlan
		seqs = make(map[string]*SeqAlloc)
	)
	temps := make([]TempID, 0, len(owners))
	for t := range owners {
		temps = append(temps, t)
	}
	sort.Slice(temps, func(i, j int) bool { return temps[i] < temps[j] })
	for _, t := range temps {
		identity := owners[t]
		ia, ok := s.Identity(identity)
		if !ok {
			return IDPlan{}, fmt.Errorf("delta: unknown identity %q", identity)
		}
		if !s.RequiresSequence(identity) {
			plan.Local = append(plan.Local, t)
			continue
		}
		sa, ok := seqs[ia.Sequence]
		if !ok {
			sa = &SeqAlloc{Partition: ia.Partition, Sequence: ia.Sequence}
			seqs[ia.Sequence] = sa
		}
		sa.IDs = append(sa.IDs, t)
	}
	names := make([]string, 0, len(seqs))
	for n := range seqs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		plan.Sequences = append(plan.Sequences, *seqs[n])
	}
	return plan, nil
}
