package write

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(nil, []schema.Attr{
		{Key: "account/id", Kind: schema.KindUUID, Identity: true},
		{Key: "account/name", Kind: schema.KindString},
		{Key: "account/balance", Kind: schema.KindDecimal},
		{Key: "account/group", Kind: schema.KindRef, Cardinality: schema.One, TargetIdentity: "group/id"},
		{Key: "account/profile", Kind: schema.KindRef, Cardinality: schema.One, TargetIdentity: "profile/id", MirrorKey: "profile/owner", DeleteOrphan: true},
		{Key: "group/id", Kind: schema.KindLong, Identity: true},
		{Key: "group/name", Kind: schema.KindString},
		{Key: "group/members", Kind: schema.KindRef, Cardinality: schema.Many, TargetIdentity: "account/id", MirrorKey: "account/group", OrderBy: "account/name"},
		{Key: "profile/id", Kind: schema.KindUUID, Identity: true},
		{Key: "profile/bio", Kind: schema.KindString},
		{Key: "profile/owner", Kind: schema.KindRef, Cardinality: schema.One, TargetIdentity: "account/id"},
	})
	require.NoError(t, err)
	return s
}

func TestBuildPlanInsert(t *testing.T) {
	s := testSchema(t)
	a := delta.Temp("account/id")
	g := delta.Ref("group/id", int64(7))
	d := delta.New()
	d.Set(a, "account/name", delta.Scalar{After: "Alice"})
	d.Set(a, "account/group", delta.RefOne{After: &g})

	tmp, _ := a.TempID()
	u := uuid.New()
	plan, err := BuildPlan(s, "public", ResolvedIDs{tmp: u}, d)
	require.NoError(t, err)
	require.Len(t, plan.Inserts, 1)
	assert.Empty(t, plan.Updates)
	st := plan.Inserts[0]
	assert.Equal(t, `INSERT INTO "accounts" ("id", "group", "name") VALUES ($1, $2, $3)`, st.Query)
	assert.Equal(t, []any{u.String(), int64(7), "Alice"}, st.Args)
}

func TestBuildPlanUpdate(t *testing.T) {
	s := testSchema(t)
	u := uuid.New()
	a := delta.Ref("account/id", u)
	d := delta.New()
	d.Set(a, "account/name", delta.Scalar{Before: "Alice", After: "Alicia"})

	plan, err := BuildPlan(s, "public", nil, d)
	require.NoError(t, err)
	require.Len(t, plan.Updates, 1)
	st := plan.Updates[0]
	assert.Equal(t, `UPDATE "accounts" SET "name" = $1 WHERE "id" = $2`, st.Query)
	assert.Equal(t, []any{"Alicia", u.String()}, st.Args)
}

func TestBuildPlanNoopSuppressed(t *testing.T) {
	s := testSchema(t)
	g := delta.Ref("group/id", int64(7))
	d := delta.New()
	d.Set(delta.Ref("account/id", uuid.New()), "account/name", delta.Scalar{Before: "Alice", After: "Alice"})
	d.Set(delta.Ref("account/id", uuid.New()), "account/group", delta.RefOne{Before: &g, After: &g})

	plan, err := BuildPlan(s, "public", nil, d)
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "unchanged values must not produce statements")
}

func TestBuildPlanRelinkTempEqualsResolved(t *testing.T) {
	s := testSchema(t)
	tg := delta.Temp("group/id")
	tmp, _ := tg.TempID()
	before := delta.Ref("group/id", int64(7))
	d := delta.New()
	d.Set(delta.Ref("account/id", uuid.New()), "account/group", delta.RefOne{Before: &before, After: &tg})

	// The temp resolves to the id already linked, so the column is untouched.
	plan, err := BuildPlan(s, "public", ResolvedIDs{tmp: int64(7)}, d)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestBuildPlanSetNull(t *testing.T) {
	s := testSchema(t)
	u := uuid.New()
	d := delta.New()
	d.Set(delta.Ref("account/id", u), "account/name", delta.Scalar{Before: "Alice"})

	plan, err := BuildPlan(s, "public", nil, d)
	require.NoError(t, err)
	require.Len(t, plan.Updates, 1)
	st := plan.Updates[0]
	assert.Equal(t, `UPDATE "accounts" SET "name" = $1 WHERE "id" = $2`, st.Query)
	assert.Equal(t, []any{nil, u.String()}, st.Args)
}

func TestBuildPlanDelete(t *testing.T) {
	s := testSchema(t)
	u := uuid.New()
	d := delta.New()
	d.Delete(delta.Ref("account/id", u))

	plan, err := BuildPlan(s, "public", nil, d)
	require.NoError(t, err)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, `DELETE FROM "accounts" WHERE "id" = $1`, plan.Updates[0].Query)
	assert.Equal(t, []any{u.String()}, plan.Updates[0].Args)
}

func TestBuildPlanCreateAndDeleteIsNothing(t *testing.T) {
	s := testSchema(t)
	a := delta.Temp("account/id")
	tmp, _ := a.TempID()
	d := delta.New()
	d.Set(a, "account/name", delta.Scalar{After: "ghost"})
	d.Delete(a)

	plan, err := BuildPlan(s, "public", ResolvedIDs{tmp: uuid.New()}, d)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestBuildPlanUpdatesBeforeInserts(t *testing.T) {
	s := testSchema(t)
	existing := delta.Ref("account/id", uuid.New())
	fresh := delta.Temp("account/id")
	tmp, _ := fresh.TempID()
	d := delta.New()
	d.Delete(existing)
	d.Set(fresh, "account/name", delta.Scalar{After: "new"})

	plan, err := BuildPlan(s, "public", ResolvedIDs{tmp: uuid.New()}, d)
	require.NoError(t, err)
	assert.Len(t, plan.Updates, 1)
	assert.Len(t, plan.Inserts, 1)
}

func TestBuildPlanMirroredRefIsNoColumn(t *testing.T) {
	s := testSchema(t)
	p := delta.Ref("profile/id", uuid.New())
	d := delta.New()
	d.Set(delta.Ref("account/id", uuid.New()), "account/profile", delta.RefOne{After: &p})

	plan, err := BuildPlan(s, "public", nil, d)
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "the foreign key lives on the mirror side")
}

func TestBuildPlanPartitionFilter(t *testing.T) {
	s, err := schema.New(nil, []schema.Attr{
		{Key: "account/id", Kind: schema.KindUUID, Identity: true, Partition: "core"},
		{Key: "account/name", Kind: schema.KindString, Partition: "core"},
		{Key: "account/secret", Kind: schema.KindPassword, Partition: "vault"},
	})
	require.NoError(t, err)

	u := uuid.New()
	d := delta.New()
	d.Set(delta.Ref("account/id", u), "account/name", delta.Scalar{After: "Alice"})
	d.Set(delta.Ref("account/id", u), "account/secret", delta.Scalar{After: "hunter2"})

	core, err := BuildPlan(s, "core", nil, d)
	require.NoError(t, err)
	require.Len(t, core.Updates, 1)
	assert.Contains(t, core.Updates[0].Query, `"name"`)
	assert.NotContains(t, core.Updates[0].Query, `"secret"`)

	vault, err := BuildPlan(s, "vault", nil, d)
	require.NoError(t, err)
	assert.True(t, vault.Empty(), "the entity row lives in core; vault sees no table for it")
}

func TestBuildPlanUnresolvedTemp(t *testing.T) {
	s := testSchema(t)
	a := delta.Temp("account/id")
	d := delta.New()
	d.Set(a, "account/name", delta.Scalar{After: "Alice"})

	_, err := BuildPlan(s, "public", ResolvedIDs{}, d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved temporary identifier")
}
