package read

import (
	"context"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/strata-db/strata/dialect"
	"github.com/strata-db/strata/dialect/sql"
	"github.com/strata-db/strata/schema"
)

// Fetch resolves the requested shape for a batch of identity values. The
// returned list is positionally aligned to the input batch; an identity with
// no row resolves to a nil map. An absent to-one reference resolves to nil,
// an absent to-many reference to an empty collection.
func (r *Reader) Fetch(ctx context.Context, identity string, ids []any, shape Shape) ([]map[string]any, error) {
	idr, ok := r.ids[identity]
	if !ok {
		return nil, fmt.Errorf("read: unknown identity %q", identity)
	}
	if err := r.checkShape(identity, shape); err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, v := range ids {
		enc, err := idr.codecs[0].Encode(v)
		if err != nil {
			return nil, fmt.Errorf("read: encoding id %v: %w", v, err)
		}
		keys[i] = keyOf(enc)
	}
	rows, err := r.fetchRows(ctx, idr, ids)
	if err != nil {
		return nil, err
	}
	results, err := r.resolveShape(ctx, identity, rows, shape)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(ids))
	for i, k := range keys {
		out[i] = results[k] // nil when not found
	}
	return out, nil
}

// checkShape validates the requested attributes against the schema before
// any I/O.
func (r *Reader) checkShape(identity string, shape Shape) error {
	for key, sub := range shape {
		a, ok := r.schema.Attr(key)
		if !ok {
			return fmt.Errorf("read: unknown attribute %q", key)
		}
		if !a.OwnedBy(identity) {
			return fmt.Errorf("read: attribute %q is not stored against %q", key, identity)
		}
		if a.IsRef() {
			if err := r.checkShape(a.TargetIdentity, sub); err != nil {
				return err
			}
		} else if len(sub) > 0 {
			return fmt.Errorf("read: scalar attribute %q cannot have a nested shape", key)
		}
	}
	return nil
}

func keyOf(encoded any) string { return fmt.Sprintf("%v", encoded) }

// fetchRows runs the id resolver once for the batch and returns decoded rows
// keyed by encoded id.
func (r *Reader) fetchRows(ctx context.Context, idr *idResolver, ids []any) (map[string]map[string]any, error) {
	drv, err := r.driver(idr.partition)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	encoded := make([]any, 0, len(ids))
	for _, v := range ids {
		enc, err := idr.codecs[0].Encode(v)
		if err != nil {
			return nil, fmt.Errorf("read: encoding id %v: %w", v, err)
		}
		k := keyOf(enc)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		encoded = append(encoded, enc)
	}
	if len(encoded) == 0 {
		return map[string]map[string]any{}, nil
	}
	arr, err := bindArray(idr.idKind, encoded)
	if err != nil {
		return nil, err
	}
	rows := &sql.Rows{}
	if err := drv.Query(ctx, idr.query, []any{arr}, rows); err != nil {
		return nil, sql.Classify(err)
	}
	defer rows.Close()
	out := make(map[string]map[string]any, len(encoded))
	for rows.Next() {
		row, key, err := scanEntityRow(rows, idr)
		if err != nil {
			return nil, err
		}
		out[key] = row
	}
	if err := rows.Err(); err != nil {
		return nil, sql.Classify(err)
	}
	return out, nil
}

// scanEntityRow scans and decodes one row of an id or to-one resolver query.
// When fkFirst the first column is the grouping foreign key and is returned
// through the key instead of the identity column.
func scanEntityRow(rows *sql.Rows, idr *idResolver) (map[string]any, string, error) {
	dests := make([]any, len(idr.attrs))
	for i := range dests {
		var v any
		dests[i] = &v
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, "", sql.Classify(err)
	}
	row := make(map[string]any, len(idr.attrs))
	for i, a := range idr.attrs {
		raw := *dests[i].(*any)
		if raw == nil {
			row[a.Key] = nil
			continue
		}
		v, err := idr.codecs[i].Decode(raw)
		if err != nil {
			return nil, "", fmt.Errorf("read: decoding %q: %w", a.Key, err)
		}
		row[a.Key] = v
	}
	enc, err := idr.codecs[0].Encode(row[idr.attrs[0].Key])
	if err != nil {
		return nil, "", fmt.Errorf("read: re-encoding id: %w", err)
	}
	return row, keyOf(enc), nil
}

// resolve runs the to-one query for a batch of encoded source ids and
// returns decoded target rows grouped by source id. A source id with no
// matching row is simply absent from the map.
func (o *oneResolver) resolve(ctx context.Context, drv dialect.Driver, encoded []any) (map[string]map[string]any, error) {
	if len(encoded) == 0 {
		return map[string]map[string]any{}, nil
	}
	arr, err := bindArray(o.srcKind, encoded)
	if err != nil {
		return nil, err
	}
	rows := &sql.Rows{}
	if err := drv.Query(ctx, o.query, []any{arr}, rows); err != nil {
		return nil, sql.Classify(err)
	}
	defer rows.Close()
	out := make(map[string]map[string]any)
	for rows.Next() {
		dests := make([]any, len(o.target.attrs)+1)
		for i := range dests {
			var v any
			dests[i] = &v
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, sql.Classify(err)
		}
		fkRaw := *dests[0].(*any)
		if fkRaw == nil {
			continue
		}
		fk, err := o.srcCodec.Decode(fkRaw)
		if err != nil {
			return nil, fmt.Errorf("read: decoding foreign key of %q: %w", o.attr.Key, err)
		}
		fkEnc, err := o.srcCodec.Encode(fk)
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(o.target.attrs))
		for i, a := range o.target.attrs {
			raw := *dests[i+1].(*any)
			if raw == nil {
				row[a.Key] = nil
				continue
			}
			v, err := o.target.codecs[i].Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("read: decoding %q: %w", a.Key, err)
			}
			row[a.Key] = v
		}
		out[keyOf(fkEnc)] = row
	}
	if err := rows.Err(); err != nil {
		return nil, sql.Classify(err)
	}
	return out, nil
}

// resolve runs the aggregate query for a batch of encoded source ids and
// returns the ordered target ids grouped by source id.
func (m *manyResolver) resolve(ctx context.Context, drv dialect.Driver, encoded []any) (map[string][]any, error) {
	if len(encoded) == 0 {
		return map[string][]any{}, nil
	}
	arr, err := bindArray(m.srcKind, encoded)
	if err != nil {
		return nil, err
	}
	rows := &sql.Rows{}
	if err := drv.Query(ctx, m.query, []any{arr}, rows); err != nil {
		return nil, sql.Classify(err)
	}
	defer rows.Close()
	out := make(map[string][]any)
	idCodec := m.target.codecs[0]
	for rows.Next() {
		var fkRaw any
		var members []any
		if m.target.idKind == schema.KindUUID {
			var agg pq.StringArray
			if err := rows.Scan(&fkRaw, &agg); err != nil {
				return nil, sql.Classify(err)
			}
			for _, s := range agg {
				members = append(members, s)
			}
		} else {
			var agg pq.Int64Array
			if err := rows.Scan(&fkRaw, &agg); err != nil {
				return nil, sql.Classify(err)
			}
			for _, n := range agg {
				members = append(members, n)
			}
		}
		fk, err := m.srcCodec.Decode(fkRaw)
		if err != nil {
			return nil, fmt.Errorf("read: decoding foreign key of %q: %w", m.attr.Key, err)
		}
		fkEnc, err := m.srcCodec.Encode(fk)
		if err != nil {
			return nil, err
		}
		decoded := make([]any, len(members))
		for i, v := range members {
			d, err := idCodec.Decode(v)
			if err != nil {
				return nil, fmt.Errorf("read: decoding member of %q: %w", m.attr.Key, err)
			}
			decoded[i] = d
		}
		out[keyOf(fkEnc)] = decoded
	}
	if err := rows.Err(); err != nil {
		return nil, sql.Classify(err)
	}
	return out, nil
}

// resolveShape builds the per-entity result maps for one level of the shape.
// Reference attributes are resolved concurrently; their results are merged
// in sorted attribute order so the output is independent of completion
// order. Redaction is applied to every result map before it is returned.
func (r *Reader) resolveShape(ctx context.Context, identity string, rows map[string]map[string]any, shape Shape) (map[string]map[string]any, error) {
	results := make(map[string]map[string]any, len(rows))
	for k, row := range rows {
		results[k] = map[string]any{identity: row[identity]}
	}
	var scalars, refs []string
	for key := range shape {
		a, _ := r.schema.Attr(key)
		if a.IsRef() {
			refs = append(refs, key)
		} else {
			scalars = append(scalars, key)
		}
	}
	sort.Strings(scalars)
	sort.Strings(refs)
	for _, key := range scalars {
		for k, row := range rows {
			results[k][key] = row[key]
		}
	}
	refValues := make([]map[string]any, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range refs {
		g.Go(func() error {
			a, _ := r.schema.Attr(key)
			vals, err := r.resolveRef(gctx, identity, a, rows, shape[key])
			if err != nil {
				return err
			}
			refValues[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, key := range refs {
		for k := range results {
			results[k][key] = refValues[i][k]
		}
	}
	for k, res := range results {
		results[k] = r.redact(identity, res)
	}
	return results, nil
}

// resolveRef computes the value of one reference attribute for every source
// row, keyed like rows.
func (r *Reader) resolveRef(ctx context.Context, identity string, a *schema.Attr, rows map[string]map[string]any, sub Shape) (map[string]any, error) {
	switch {
	case a.Cardinality == schema.Many:
		return r.resolveMany(ctx, identity, a, rows, sub)
	case a.Mirrored():
		return r.resolveMirroredOne(ctx, identity, a, rows, sub)
	default:
		return r.resolveOwnedOne(ctx, a, rows, sub)
	}
}

// resolveOwnedOne handles a to-one reference whose foreign key is a column
// on the source table: the value is already in the source row, and nested
// resolution is a plain alias to the target's id resolver.
func (r *Reader) resolveOwnedOne(ctx context.Context, a *schema.Attr, rows map[string]map[string]any, sub Shape) (map[string]any, error) {
	out := make(map[string]any, len(rows))
	if len(sub) == 0 {
		for k, row := range rows {
			out[k] = row[a.Key]
		}
		return out, nil
	}
	tidr := r.ids[a.TargetIdentity]
	var targets []any
	for _, row := range rows {
		if v := row[a.Key]; v != nil {
			targets = append(targets, v)
		}
	}
	nested, err := r.fetchNested(ctx, tidr, a.TargetIdentity, targets, sub)
	if err != nil {
		return nil, err
	}
	for k, row := range rows {
		v := row[a.Key]
		if v == nil {
			out[k] = nil
			continue
		}
		enc, err := tidr.codecs[0].Encode(v)
		if err != nil {
			return nil, err
		}
		out[k] = orNil(nested[keyOf(enc)])
	}
	return out, nil
}

// resolveMirroredOne handles a to-one reference whose foreign key lives on
// the target table: one batched query over the target, grouped by the
// foreign-key value.
func (r *Reader) resolveMirroredOne(ctx context.Context, identity string, a *schema.Attr, rows map[string]map[string]any, sub Shape) (map[string]any, error) {
	o := r.one[a.Key]
	drv, err := r.driver(o.partition)
	if err != nil {
		return nil, err
	}
	encoded, err := sourceIDs(rows, identity, o.srcCodec)
	if err != nil {
		return nil, err
	}
	trows, err := o.resolve(ctx, drv, encoded)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rows))
	if len(sub) == 0 {
		for k := range rows {
			if trow, ok := trows[k]; ok {
				out[k] = trow[a.TargetIdentity]
			} else {
				out[k] = nil
			}
		}
		return out, nil
	}
	// The target rows are already fetched; resolve the nested shape over
	// them without a second id query.
	byTarget := make(map[string]map[string]any, len(trows))
	targetKey := make(map[string]string, len(trows))
	for src, trow := range trows {
		enc, err := o.target.codecs[0].Encode(trow[a.TargetIdentity])
		if err != nil {
			return nil, err
		}
		tk := keyOf(enc)
		byTarget[tk] = trow
		targetKey[src] = tk
	}
	nested, err := r.resolveShape(ctx, a.TargetIdentity, byTarget, sub)
	if err != nil {
		return nil, err
	}
	for k := range rows {
		if tk, ok := targetKey[k]; ok {
			out[k] = orNil(nested[tk])
		} else {
			out[k] = nil
		}
	}
	return out, nil
}

// resolveMany handles a to-many reference: one aggregate query returning the
// ordered member ids per source. A source with no members resolves to an
// empty collection, never nil.
func (r *Reader) resolveMany(ctx context.Context, identity string, a *schema.Attr, rows map[string]map[string]any, sub Shape) (map[string]any, error) {
	m := r.many[a.Key]
	drv, err := r.driver(m.partition)
	if err != nil {
		return nil, err
	}
	encoded, err := sourceIDs(rows, identity, m.srcCodec)
	if err != nil {
		return nil, err
	}
	groups, err := m.resolve(ctx, drv, encoded)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rows))
	if len(sub) == 0 {
		for k := range rows {
			members := groups[k]
			if members == nil {
				members = []any{}
			}
			out[k] = members
		}
		return out, nil
	}
	var all []any
	for _, members := range groups {
		all = append(all, members...)
	}
	nested, err := r.fetchNested(ctx, m.target, a.TargetIdentity, all, sub)
	if err != nil {
		return nil, err
	}
	for k := range rows {
		members := groups[k]
		vals := make([]any, 0, len(members))
		for _, mv := range members {
			enc, err := m.target.codecs[0].Encode(mv)
			if err != nil {
				return nil, err
			}
			if nrow, ok := nested[keyOf(enc)]; ok {
				vals = append(vals, nrow)
			}
		}
		out[k] = vals
	}
	return out, nil
}

// fetchNested fetches target rows for the nested shape and resolves it.
func (r *Reader) fetchNested(ctx context.Context, tidr *idResolver, identity string, ids []any, sub Shape) (map[string]map[string]any, error) {
	trows, err := r.fetchRows(ctx, tidr, ids)
	if err != nil {
		return nil, err
	}
	return r.resolveShape(ctx, identity, trows, sub)
}

// sourceIDs extracts and encodes the source ids of a row batch for use as
// the foreign-key bind array. The order is deterministic.
func sourceIDs(rows map[string]map[string]any, identity string, srcCodec schema.Codec) ([]any, error) {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	encoded := make([]any, 0, len(keys))
	for _, k := range keys {
		enc, err := srcCodec.Encode(rows[k][identity])
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, enc)
	}
	return encoded, nil
}

func orNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
