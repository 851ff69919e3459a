package delta

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanIDsEmpty(t *testing.T) {
	s := testSchema(t)
	d := New()
	d.Set(account(uuid.New()), "account/name", Scalar{After: "Alice"})
	plan, err := PlanIDs(s, d)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestPlanIDsSplitsLocalAndSequence(t *testing.T) {
	s := testSchema(t)
	a, g1, g2 := Temp("account/id"), Temp("group/id"), Temp("group/id")
	d := New()
	d.Set(a, "account/name", Scalar{After: "Alice"})
	d.Set(g1, "group/name", Scalar{After: "admins"})
	d.Set(g2, "group/name", Scalar{After: "users"})

	plan, err := PlanIDs(s, d)
	require.NoError(t, err)
	at, _ := a.TempID()
	assert.Equal(t, []TempID{at}, plan.Local)
	require.Len(t, plan.Sequences, 1)
	sa := plan.Sequences[0]
	assert.Equal(t, "public", sa.Partition)
	assert.Equal(t, "groups_id_seq", sa.Sequence)
	assert.Len(t, sa.IDs, 2)
}

func TestPlanIDsScansReferences(t *testing.T) {
	s := testSchema(t)
	g := Temp("group/id")
	a := account(uuid.New())
	d := New()
	// The group temp only appears inside a reference change.
	d.Set(a, "account/group", RefOne{After: &g})

	plan, err := PlanIDs(s, d)
	require.NoError(t, err)
	require.Len(t, plan.Sequences, 1)
	gt, _ := g.TempID()
	assert.Equal(t, []TempID{gt}, plan.Sequences[0].IDs)
}

func TestPlanIDsRejectsConflictingOwners(t *testing.T) {
	s := testSchema(t)
	tmp := NewTempID()
	d := New()
	d.Set(ID{Identity: "account/id", Value: tmp}, "account/name", Scalar{After: "x"})
	g := ID{Identity: "group/id", Value: tmp}
	d.Set(account(uuid.New()), "account/group", RefOne{After: &g})

	_, err := PlanIDs(s, d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used as both")
}

func TestPlanIDsDeterministicOrder(t *testing.T) {
	s := testSchema(t)
	d := New()
	var want []TempID
	for range 5 {
		id := Temp("group/id")
		tmp, _ := id.TempID()
		want = append(want, tmp)
		d.Set(id, "group/name", Scalar{After: "g"})
	}
	plan1, err := PlanIDs(s, d)
	require.NoError(t, err)
	plan2, err := PlanIDs(s, d)
	require.NoError(t, err)
	assert.Equal(t, plan1.Sequences[0].IDs, plan2.Sequences[0].IDs)
	assert.ElementsMatch(t, want, plan1.Sequences[0].IDs)
}
