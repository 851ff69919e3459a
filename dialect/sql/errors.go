package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Kind is the semantic condition of a classified store error.
type Kind uint8

// The supported error kinds. Every store error is mapped onto exactly one
// kind before it is surfaced; errors that match no known SQLSTATE class are
// reported as KindUnknown with the cause preserved.
const (
	KindUnknown Kind = iota
	KindConnectionUnavailable
	KindStringTooLong
	KindInvalidEncoding
	KindInvalidValueRepresentation
	KindNotNullViolation
	KindUniquenessViolation
	KindForeignKeyViolation
	KindCheckViolation
	KindSerializationConflict
	KindStatementTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:                    "unknown",
	KindConnectionUnavailable:      "connection unavailable",
	KindStringTooLong:              "string too long",
	KindInvalidEncoding:            "invalid encoding",
	KindInvalidValueRepresentation: "invalid value representation",
	KindNotNullViolation:           "not-null violation",
	KindUniquenessViolation:        "uniqueness violation",
	KindForeignKeyViolation:        "foreign-key violation",
	KindCheckViolation:             "check violation",
	KindSerializationConflict:      "serialization conflict",
	KindStatementTimeout:           "statement timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Error is a store error annotated with its classified kind. The original
// driver error is preserved as the cause and reachable via errors.Unwrap.
type Error struct {
	kind  Kind
	cause error
}

// Kind returns the classified kind.
func (e *Error) Kind() Kind { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("strata: %s: %v", e.kind, e.cause)
}

// Unwrap returns the underlying driver error.
func (e *Error) Unwrap() error { return e.cause }

// PostgreSQL SQLSTATE codes recognized by Classify. The connection class
// (08xxx) is matched by prefix.
const (
	pgStringDataRightTruncation = "22001"
	pgCharacterNotInRepertoire  = "22021"
	pgUntranslatableCharacter   = "22P05"
	pgInvalidTextRepresentation = "22P02"
	pgNotNullViolation          = "23502"
	pgForeignKeyViolation       = "23503"
	pgUniqueViolation           = "23505"
	pgCheckViolation            = "23514"
	pgSerializationFailure      = "40001"
	pgDeadlockDetected          = "40P01"
	pgQueryCanceled             = "57014"
)

// sqlStateError is implemented by driver errors carrying a SQLSTATE code,
// e.g. *pgconn.PgError and recent pq versions.
type sqlStateError interface {
	SQLState() string
}

// Classify maps a store error onto its semantic kind, preserving err as the
// cause. A nil error classifies to nil; an already classified error is
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{kind: kindOf(err), cause: err}
}

func kindOf(err error) Kind {
	if code, ok := sqlState(err); ok {
		switch {
		case strings.HasPrefix(code, "08"):
			return KindConnectionUnavailable
		case code == pgStringDataRightTruncation:
			return KindStringTooLong
		case code == pgCharacterNotInRepertoire, code == pgUntranslatableCharacter:
			return KindInvalidEncoding
		case code == pgInvalidTextRepresentation:
			return KindInvalidValueRepresentation
		case code == pgNotNullViolation:
			return KindNotNullViolation
		case code == pgUniqueViolation:
			return KindUniquenessViolation
		case code == pgForeignKeyViolation:
			return KindForeignKeyViolation
		case code == pgCheckViolation:
			return KindCheckViolation
		case code == pgSerializationFailure, code == pgDeadlockDetected:
			return KindSerializationConflict
		case code == pgQueryCanceled:
			return KindStatementTimeout
		}
		return KindUnknown
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindStatementTimeout
	case isConnError(err):
		return KindConnectionUnavailable
	}
	return KindUnknown
}

// sqlState extracts a SQLSTATE code from the error chain. pgx and pq errors
// are matched explicitly, anything else through the SQLState interface.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if se, ok := e.(sqlStateError); ok {
			return se.SQLState(), true
		}
	}
	return "", false
}

func isConnError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsKind reports whether err is a classified store error of the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == k
}

// IsSerializationConflict reports whether err is a serialization conflict.
// This is the only condition the write path retries automatically.
func IsSerializationConflict(err error) bool {
	if IsKind(err, KindSerializationConflict) {
		return true
	}
	if code, ok := sqlState(err); ok {
		return code == pgSerializationFailure || code == pgDeadlockDetected
	}
	return false
}

// IsConstraintViolation reports whether err is any of the constraint
// violation kinds (not-null, uniqueness, foreign-key, check).
func IsConstraintViolation(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.kind {
	case KindNotNullViolation, KindUniquenessViolation, KindForeignKeyViolation, KindCheckViolation:
		return true
	}
	return false
}

// IsStatementTimeout reports whether err is a classified statement timeout.
func IsStatementTimeout(err error) bool { return IsKind(err, KindStatementTimeout) }
