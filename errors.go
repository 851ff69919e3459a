package strata

import (
	"github.com/strata-db/strata/dialect/sql"
	"github.com/strata-db/strata/write"
)

// ErrorKind classifies a store failure. See the dialect/sql package for the
// classification rules.
type ErrorKind = sql.Kind

// The error kinds surfaced by Write and Fetch.
const (
	KindUnknown                    = sql.KindUnknown
	KindConnectionUnavailable      = sql.KindConnectionUnavailable
	KindStringTooLong              = sql.KindStringTooLong
	KindInvalidEncoding            = sql.KindInvalidEncoding
	KindInvalidValueRepresentation = sql.KindInvalidValueRepresentation
	KindNotNullViolation           = sql.KindNotNullViolation
	KindUniquenessViolation        = sql.KindUniquenessViolation
	KindForeignKeyViolation        = sql.KindForeignKeyViolation
	KindCheckViolation             = sql.KindCheckViolation
	KindSerializationConflict      = sql.KindSerializationConflict
	KindStatementTimeout           = sql.KindStatementTimeout
)

// MissingPoolError is returned, before any I/O, when a delta or read touches
// a partition with no configured pool.
type MissingPoolError = write.MissingPoolError

// IsKind reports whether the error carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return sql.IsKind(err, kind) }

// IsSerializationConflict reports whether the error is a serialization
// conflict. Writes retry these internally; seeing one from Write means the
// attempt budget was exhausted.
func IsSerializationConflict(err error) bool { return sql.IsSerializationConflict(err) }

// IsConstraintViolation reports whether the error is a not-null, uniqueness,
// foreign-key or check violation.
func IsConstraintViolation(err error) bool { return sql.IsConstraintViolation(err) }

// IsStatementTimeout reports whether the error is a statement timeout.
func IsStatementTimeout(err error) bool { return sql.IsStatementTimeout(err) }
