// Package read implements the batched graph read path. A Reader compiles,
// once per schema, a set of batched accessors: an id resolver per identity,
// a to-one resolver per mirrored reference, and a to-many resolver per
// collection reference. Every accessor issues exactly one query per
// invocation regardless of batch size; the id batch travels as a single
// array-typed bind parameter.
package read

import (
	"fmt"

	"github.com/lib/pq"

	"github.com/strata-db/strata/dialect"
	"github.com/strata-db/strata/dialect/sql"
	"github.com/strata-db/strata/schema"
)

// Shape describes the requested attributes. Reference attributes map to the
// nested shape requested of the referenced entity; a nil (or empty) nested
// shape requests just the referenced id(s).
type Shape map[string]Shape

// Redactor is applied to every entity result map before it reaches the
// caller. The read path calls it but implements no policy.
type Redactor func(identity string, row map[string]any) map[string]any

// Reader holds the compiled resolvers. It is immutable after NewReader and
// safe for unsynchronized concurrent use.
type Reader struct {
	schema *schema.Schema
	pools  map[string]dialect.Driver
	redact Redactor
	ids    map[string]*idResolver
	one    map[string]*oneResolver
	many   map[string]*manyResolver
}

// Option configures a Reader.
type Option func(*Reader)

// WithRedactor installs the redaction collaborator.
func WithRedactor(r Redactor) Option {
	return func(rd *Reader) {
		if r != nil {
			rd.redact = r
		}
	}
}

// NewReader compiles the resolvers for the schema. Queries and row shapes
// are built here, not per call.
func NewReader(s *schema.Schema, pools map[string]dialect.Driver, opts ...Option) (*Reader, error) {
	r := &Reader{
		schema: s,
		pools:  pools,
		redact: func(_ string, row map[string]any) map[string]any { return row },
		ids:    make(map[string]*idResolver),
		one:    make(map[string]*oneResolver),
		many:   make(map[string]*manyResolver),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, identity := range s.Identities() {
		ir, err := compileIDResolver(s, identity)
		if err != nil {
			return nil, err
		}
		r.ids[identity] = ir
	}
	for _, a := range s.Attrs() {
		if !a.IsRef() || !a.Mirrored() {
			continue
		}
		switch a.Cardinality {
		case schema.One:
			or, err := compileOneResolver(s, a, r.ids[a.TargetIdentity])
			if err != nil {
				return nil, err
			}
			r.one[a.Key] = or
		case schema.Many:
			mr, err := compileManyResolver(s, a, r.ids[a.TargetIdentity])
			if err != nil {
				return nil, err
			}
			r.many[a.Key] = mr
		}
	}
	return r, nil
}

// driver returns the pool for the given partition.
func (r *Reader) driver(partition string) (dialect.Driver, error) {
	drv, ok := r.pools[partition]
	if !ok {
		return nil, fmt.Errorf("read: no pool configured for partition %q", partition)
	}
	return drv, nil
}

// arrayType returns the SQL array type for an identity's id column.
func arrayType(kind schema.Kind) string {
	switch kind {
	case schema.KindUUID:
		return "uuid[]"
	case schema.KindInt:
		return "integer[]"
	default:
		return "bigint[]"
	}
}

// bindArray wraps the encoded id batch as a single array bind parameter.
func bindArray(kind schema.Kind, encoded []any) (any, error) {
	switch kind {
	case schema.KindUUID:
		vs := make([]string, len(encoded))
		for i, v := range encoded {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("read: encoded uuid id is %T, not string", v)
			}
			vs[i] = s
		}
		return pq.Array(vs), nil
	default:
		vs := make([]int64, len(encoded))
		for i, v := range encoded {
			n, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("read: encoded id is %T, not int64", v)
			}
			vs[i] = n
		}
		return pq.Array(vs), nil
	}
}

// idResolver resolves a batch of identity values to decoded rows with one
// query. Its statement text and column plan are fixed at compile time.
type idResolver struct {
	identity  string
	partition string
	idKind    schema.Kind
	query     string
	attrs     []*schema.Attr // aligned with the selected columns; [0] is the identity
	codecs    []schema.Codec
}

func compileIDResolver(s *schema.Schema, identity string) (*idResolver, error) {
	ia, _ := s.Identity(identity)
	r := &idResolver{
		identity:  identity,
		partition: ia.Partition,
		idKind:    ia.Kind,
	}
	cols := []string{ia.IDColumn}
	r.attrs = append(r.attrs, ia)
	for _, a := range s.Owned(identity) {
		// Collections and mirrored references have no column on this table.
		if a.IsRef() && (a.Cardinality == schema.Many || a.Mirrored()) {
			continue
		}
		if a.Partition != ia.Partition {
			continue
		}
		cols = append(cols, a.StorageName)
		r.attrs = append(r.attrs, a)
	}
	for _, a := range r.attrs {
		c, err := columnCodec(s, a)
		if err != nil {
			return nil, err
		}
		r.codecs = append(r.codecs, c)
	}
	r.query, _ = sql.Select(cols...).
		From(ia.StorageName).
		Where(sql.AnyTyped(ia.IDColumn, arrayType(ia.Kind), nil)).
		Query()
	return r, nil
}

// columnCodec returns the codec decoding a column of the attribute: ref
// columns decode through the target identity's codec.
func columnCodec(s *schema.Schema, a *schema.Attr) (schema.Codec, error) {
	key := a.Key
	if a.IsRef() && !a.Identity {
		key = a.TargetIdentity
	}
	c, ok := s.Codec(key)
	if !ok {
		return schema.Codec{}, fmt.Errorf("read: no codec for attribute %q", a.Key)
	}
	return c, nil
}

// oneResolver resolves a batch of source ids to target rows for a to-one
// reference whose foreign key lives on the target table.
type oneResolver struct {
	attr      *schema.Attr // source-side ref attr
	fk        *schema.Attr // mirror attr holding the foreign key
	srcKind   schema.Kind
	srcCodec  schema.Codec
	target    *idResolver
	partition string
	query     string
}

func compileOneResolver(s *schema.Schema, a *schema.Attr, target *idResolver) (*oneResolver, error) {
	fk, _ := s.Attr(a.MirrorKey)
	src, ok := s.Identity(fk.TargetIdentity)
	if !ok {
		return nil, fmt.Errorf("read: mirror %q has unknown target %q", fk.Key, fk.TargetIdentity)
	}
	srcCodec, _ := s.Codec(src.Key)
	ta, _ := s.Identity(a.TargetIdentity)
	cols := append([]string{fk.StorageName}, targetColumns(target)...)
	query, _ := sql.Select(cols...).
		From(ta.StorageName).
		Where(sql.AnyTyped(fk.StorageName, arrayType(src.Kind), nil)).
		Query()
	return &oneResolver{
		attr:      a,
		fk:        fk,
		srcKind:   src.Kind,
		srcCodec:  srcCodec,
		target:    target,
		partition: ta.Partition,
		query:     query,
	}, nil
}

// manyResolver resolves a batch of source ids to the ordered target id
// arrays of a to-many reference, with one aggregate query.
type manyResolver struct {
	attr      *schema.Attr
	fk        *schema.Attr
	srcKind   schema.Kind
	srcCodec  schema.Codec
	target    *idResolver
	partition string
	query     string
}

func compileManyResolver(s *schema.Schema, a *schema.Attr, target *idResolver) (*manyResolver, error) {
	fk, _ := s.Attr(a.MirrorKey)
	src, ok := s.Identity(fk.TargetIdentity)
	if !ok {
		return nil, fmt.Errorf("read: mirror %q has unknown target %q", fk.Key, fk.TargetIdentity)
	}
	srcCodec, _ := s.Codec(src.Key)
	ta, _ := s.Identity(a.TargetIdentity)
	// The ORDER BY lives inside the aggregate so array order matches the
	// configured collection order; ids are the fallback ordering.
	order := ta.IDColumn
	if a.OrderBy != "" {
		oa, _ := s.Attr(a.OrderBy)
		order = oa.StorageName
	}
	query, _ := sql.Select(fk.StorageName, sql.ArrayAgg(ta.IDColumn, order)).
		From(ta.StorageName).
		Where(sql.AnyTyped(fk.StorageName, arrayType(src.Kind), nil)).
		GroupBy(fk.StorageName).
		Query()
	return &manyResolver{
		attr:      a,
		fk:        fk,
		srcKind:   src.Kind,
		srcCodec:  srcCodec,
		target:    target,
		partition: ta.Partition,
		query:     query,
	}, nil
}

func targetColumns(target *idResolver) []string {
	cols := make([]string, len(target.attrs))
	for i, a := range target.attrs {
		if a.Identity {
			cols[i] = a.IDColumn
		} else {
			cols[i] = a.StorageName
		}
	}
	return cols
}
