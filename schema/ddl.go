package schema

import (
	"fmt"
	"sort"
	"strings"
)

// DDL returns idempotent PostgreSQL statements creating every table, column,
// sequence and index the schema requires. Foreign keys are created
// DEFERRABLE so the write path can defer constraint checking to commit time.
// Statements are ordered: sequences, tables, columns, constraints, indexes.
func DDL(s *Schema) []string {
	var stmts []string
	ids := s.Identities()
	for _, id := range ids {
		a, _ := s.Identity(id)
		if a.Sequence != "" {
			stmts = append(stmts, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", quote(a.Sequence)))
		}
	}
	for _, id := range ids {
		a, _ := s.Identity(id)
		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s %s PRIMARY KEY)",
			quote(a.StorageName), quote(a.IDColumn), columnType(s, a),
		))
	}
	for _, id := range ids {
		ia, _ := s.Identity(id)
		for _, a := range s.Owned(id) {
			if a.Kind == KindRef && (a.Cardinality == Many || a.Mirrored()) {
				continue
			}
			stmts = append(stmts, fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				quote(ia.StorageName), quote(a.StorageName), columnType(s, a),
			))
		}
	}
	stmts = append(stmts, constraints(s)...)
	stmts = append(stmts, indexes(s)...)
	return stmts
}

func constraints(s *Schema) []string {
	var stmts []string
	for _, id := range s.Identities() {
		ia, _ := s.Identity(id)
		for _, a := range s.Owned(id) {
			if a.Kind != KindRef || a.Cardinality == Many || a.Mirrored() {
				continue
			}
			target, _ := s.Identity(a.TargetIdentity)
			name := fmt.Sprintf("%s_%s_fkey", ia.StorageName, a.StorageName)
			// ADD CONSTRAINT has no IF NOT EXISTS; guard with a drop.
			stmts = append(stmts,
				fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", quote(ia.StorageName), quote(name)),
				fmt.Sprintf(
					"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) DEFERRABLE",
					quote(ia.StorageName), quote(name), quote(a.StorageName),
					quote(target.StorageName), quote(target.IDColumn),
				),
			)
		}
	}
	return stmts
}

func indexes(s *Schema) []string {
	seen := make(map[string]struct{})
	var stmts []string
	for _, id := range s.Identities() {
		ia, _ := s.Identity(id)
		for _, a := range s.Owned(id) {
			if a.Kind != KindRef || a.Cardinality == Many || a.Mirrored() {
				continue
			}
			name := fmt.Sprintf("%s_%s_idx", ia.StorageName, a.StorageName)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote(name), quote(ia.StorageName), quote(a.StorageName),
			))
		}
	}
	sort.Strings(stmts)
	return stmts
}

func columnType(s *Schema, a *Attr) string {
	switch a.Kind {
	case KindUUID:
		return "uuid"
	case KindInt:
		return "integer"
	case KindLong:
		return "bigint"
	case KindString, KindPassword, KindEnum, KindKeyword, KindSymbol:
		return "text"
	case KindBool:
		return "boolean"
	case KindDecimal:
		return "numeric"
	case KindInstant:
		return "timestamptz"
	case KindRef:
		if t, ok := s.Identity(a.TargetIdentity); ok {
			return columnType(s, t)
		}
	}
	return "text"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
