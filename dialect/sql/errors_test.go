package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestClassifyCodes(t *testing.T) {
	tests := []struct {
		code string
		kind Kind
	}{
		{"08006", KindConnectionUnavailable},
		{"22001", KindStringTooLong},
		{"22021", KindInvalidEncoding},
		{"22P05", KindInvalidEncoding},
		{"22P02", KindInvalidValueRepresentation},
		{"23502", KindNotNullViolation},
		{"23505", KindUniquenessViolation},
		{"23503", KindForeignKeyViolation},
		{"23514", KindCheckViolation},
		{"40001", KindSerializationConflict},
		{"40P01", KindSerializationConflict},
		{"57014", KindStatementTimeout},
		{"99999", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := Classify(&pgconn.PgError{Code: tt.code})
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.kind, ce.Kind())
		})
	}
}

func TestClassifyPqError(t *testing.T) {
	err := Classify(&pq.Error{Code: "23505"})
	assert.True(t, IsKind(err, KindUniquenessViolation))
}

func TestClassifyWrapped(t *testing.T) {
	cause := &pgconn.PgError{Code: "40001"}
	err := Classify(fmt.Errorf("executing plan: %w", cause))
	assert.True(t, IsSerializationConflict(err))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr), "cause must stay reachable")
}

func TestClassifyIdempotent(t *testing.T) {
	err := Classify(&pgconn.PgError{Code: "23502"})
	assert.Same(t, err, Classify(err))
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	err := Classify(fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.True(t, IsStatementTimeout(err))
}

func TestClassifyConnectionRefused(t *testing.T) {
	err := Classify(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
	assert.True(t, IsKind(err, KindConnectionUnavailable))
}

func TestIsSerializationConflictUnclassified(t *testing.T) {
	assert.True(t, IsSerializationConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsSerializationConflict(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsSerializationConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsSerializationConflict(nil))
}

func TestIsConstraintViolation(t *testing.T) {
	for _, code := range []string{"23502", "23505", "23503", "23514"} {
		assert.True(t, IsConstraintViolation(Classify(&pgconn.PgError{Code: code})), code)
	}
	assert.False(t, IsConstraintViolation(Classify(&pgconn.PgError{Code: "40001"})))
	assert.False(t, IsConstraintViolation(errors.New("plain")))
}
