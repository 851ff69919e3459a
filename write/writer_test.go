package write

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/dialect"
	sqld "github.com/strata-db/strata/dialect/sql"
)

const nextvalQuery = "SELECT nextval($1::regclass) FROM generate_series(1, $2)"

func mockDriver(t *testing.T) (dialect.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqld.OpenDB(dialect.Postgres, db), mock
}

func TestWriteCreateWithSequence(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	g := delta.Temp("group/id")
	tmp, _ := g.TempID()
	d := delta.New()
	d.Set(g, "group/name", delta.Scalar{After: "admins"})

	mock.ExpectQuery(nextvalQuery).
		WithArgs("groups_id_seq", 1).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(41)))
	mock.ExpectBegin()
	mock.ExpectExec("SET CONSTRAINTS ALL DEFERRED").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "groups" ("id", "name") VALUES ($1, $2)`).
		WithArgs(int64(41), "admins").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewWriter(s, map[string]dialect.Driver{"public": drv})
	ids, err := w.Write(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(41), ids[tmp])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteCreateWithLocalID(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	a := delta.Temp("account/id")
	tmp, _ := a.TempID()
	d := delta.New()
	d.Set(a, "account/name", delta.Scalar{After: "Alice"})

	mock.ExpectBegin()
	mock.ExpectExec("SET CONSTRAINTS ALL DEFERRED").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "accounts" ("id", "name") VALUES ($1, $2)`).
		WithArgs(sqlmock.AnyArg(), "Alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewWriter(s, map[string]dialect.Driver{"public": drv})
	ids, err := w.Write(context.Background(), d)
	require.NoError(t, err)
	_, ok := ids[tmp].(uuid.UUID)
	assert.True(t, ok, "uuid identities are generated locally")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRetriesSerializationConflict(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	u := uuid.New()
	d := delta.New()
	d.Set(delta.Ref("account/id", u), "account/name", delta.Scalar{After: "Bob"})

	update := `UPDATE "accounts" SET "name" = $1 WHERE "id" = $2`
	mock.ExpectBegin()
	mock.ExpectExec("SET CONSTRAINTS ALL DEFERRED").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(update).
		WithArgs("Bob", u.String()).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("SET CONSTRAINTS ALL DEFERRED").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(update).
		WithArgs("Bob", u.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewWriter(s, map[string]dialect.Driver{"public": drv},
		WithBackoff(time.Millisecond, 2*time.Millisecond))
	_, err := w.Write(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteExhaustsAttempts(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	u := uuid.New()
	d := delta.New()
	d.Set(delta.Ref("account/id", u), "account/name", delta.Scalar{After: "Bob"})

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec("SET CONSTRAINTS ALL DEFERRED").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE "accounts" SET "name" = $1 WHERE "id" = $2`).
			WithArgs("Bob", u.String()).
			WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	w := NewWriter(s, map[string]dialect.Driver{"public": drv},
		WithMaxAttempts(2),
		WithBackoff(time.Millisecond, 2*time.Millisecond))
	_, err := w.Write(context.Background(), d)
	require.Error(t, err)
	assert.True(t, sqld.IsSerializationConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteFatalErrorNotRetried(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	u := uuid.New()
	d := delta.New()
	d.Set(delta.Ref("account/id", u), "account/name", delta.Scalar{After: "Bob"})

	mock.ExpectBegin()
	mock.ExpectExec("SET CONSTRAINTS ALL DEFERRED").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "accounts" SET "name" = $1 WHERE "id" = $2`).
		WithArgs("Bob", u.String()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	w := NewWriter(s, map[string]dialect.Driver{"public": drv})
	_, err := w.Write(context.Background(), d)
	require.Error(t, err)
	assert.True(t, sqld.IsConstraintViolation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMissingPool(t *testing.T) {
	s := testSchema(t)
	d := delta.New()
	d.Set(delta.Ref("account/id", uuid.New()), "account/name", delta.Scalar{After: "Bob"})

	w := NewWriter(s, map[string]dialect.Driver{})
	_, err := w.Write(context.Background(), d)
	var mp *MissingPoolError
	require.ErrorAs(t, err, &mp)
	assert.Equal(t, "public", mp.Partition)
}

func TestWriteEmptyDelta(t *testing.T) {
	s := testSchema(t)
	w := NewWriter(s, map[string]dialect.Driver{})
	ids, err := w.Write(context.Background(), delta.New())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAllocateCountMismatch(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	g1, g2 := delta.Temp("group/id"), delta.Temp("group/id")
	d := delta.New()
	d.Set(g1, "group/name", delta.Scalar{After: "a"})
	d.Set(g2, "group/name", delta.Scalar{After: "b"})

	idPlan, err := delta.PlanIDs(s, d)
	require.NoError(t, err)
	require.Len(t, idPlan.Sequences, 1)

	mock.ExpectQuery(nextvalQuery).
		WithArgs("groups_id_seq", 2).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(1)))

	_, err = allocate(context.Background(), map[string]dialect.Driver{"public": drv}, idPlan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 values, want 2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateZipsSequenceValues(t *testing.T) {
	s := testSchema(t)
	drv, mock := mockDriver(t)

	g1, g2 := delta.Temp("group/id"), delta.Temp("group/id")
	d := delta.New()
	d.Set(g1, "group/name", delta.Scalar{After: "a"})
	d.Set(g2, "group/name", delta.Scalar{After: "b"})

	idPlan, err := delta.PlanIDs(s, d)
	require.NoError(t, err)

	mock.ExpectQuery(nextvalQuery).
		WithArgs("groups_id_seq", 2).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(10)).AddRow(int64(11)))

	ids, err := allocate(context.Background(), map[string]dialect.Driver{"public": drv}, idPlan)
	require.NoError(t, err)
	seq := idPlan.Sequences[0]
	assert.Equal(t, int64(10), ids[seq.IDs[0]])
	assert.Equal(t, int64(11), ids[seq.IDs[1]])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackoffBounded(t *testing.T) {
	b := backoff{base: 10 * time.Millisecond, max: 100 * time.Millisecond}
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.delay(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, b.max)
	}
	// Growth: a later attempt's window never shrinks below the first delay's
	// lower bound.
	assert.GreaterOrEqual(t, b.delay(4), 40*time.Millisecond)
}

func TestRetryRespectsContext(t *testing.T) {
	s := testSchema(t)
	w := NewWriter(s, nil, WithBackoff(time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.retry(ctx, func(context.Context) outcome {
		return outcome{err: sqld.Classify(&pgconn.PgError{Code: "40001"})}
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
