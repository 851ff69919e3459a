package sql

import (
	"fmt"
	"strings"
)

// Querier is implemented by all statement builders.
type Querier interface {
	// Query returns the statement text and its bind parameters.
	Query() (string, []any)
}

// Quote quotes an identifier for PostgreSQL.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// isExpr reports whether the column is a raw expression (e.g. an aggregate
// call or an aliased expression) rather than a plain identifier.
func isExpr(col string) bool {
	return strings.ContainsAny(col, "( ")
}

func quoteCol(col string) string {
	if isExpr(col) {
		return col
	}
	return Quote(col)
}

// ArrayAgg returns an array_agg expression over the given column with an
// optional ORDER BY applied inside the aggregate, so that the array order
// matches the collection order.
func ArrayAgg(col, orderBy string) string {
	if orderBy == "" {
		return fmt.Sprintf("array_agg(%s)", Quote(col))
	}
	return fmt.Sprintf("array_agg(%s ORDER BY %s)", Quote(col), Quote(orderBy))
}

// Any returns a "col = ANY($n)" predicate. The value must be an array-typed
// bind parameter (e.g. pq.Array over the id batch), so one prepared statement
// serves any batch size and values are never interpolated into the text.
func Any(col string, arr any) *Predicate {
	return &Predicate{parts: []part{{expr: Quote(col) + " = ANY(%s)", args: []any{arr}}}}
}

// AnyTyped is Any with an explicit array type cast on the parameter, e.g.
// "uuid[]", for drivers that do not infer the element type of a text-encoded
// array literal.
func AnyTyped(col, typ string, arr any) *Predicate {
	return &Predicate{parts: []part{{expr: Quote(col) + " = ANY(%s::" + typ + ")", args: []any{arr}}}}
}

// EQ returns a "col = $n" predicate.
func EQ(col string, v any) *Predicate {
	return &Predicate{parts: []part{{expr: Quote(col) + " = %s", args: []any{v}}}}
}

// And combines predicates with AND.
func And(ps ...*Predicate) *Predicate {
	out := &Predicate{}
	for _, p := range ps {
		out.parts = append(out.parts, p.parts...)
	}
	return out
}

type part struct {
	expr string // with one %s verb per bind parameter
	args []any
}

// Predicate is a conjunction of simple conditions.
type Predicate struct {
	parts []part
}

func (p *Predicate) render(n *int, args *[]any) string {
	conds := make([]string, 0, len(p.parts))
	for _, pt := range p.parts {
		phs := make([]any, 0, len(pt.args))
		for _, a := range pt.args {
			*n++
			phs = append(phs, fmt.Sprintf("$%d", *n))
			*args = append(*args, a)
		}
		conds = append(conds, fmt.Sprintf(pt.expr, phs...))
	}
	return strings.Join(conds, " AND ")
}

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	table   string
	columns []string
	values  []any
}

// Insert returns a builder for an INSERT into the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Set adds a column/value pair.
func (b *InsertBuilder) Set(col string, v any) *InsertBuilder {
	b.columns = append(b.columns, col)
	b.values = append(b.values, v)
	return b
}

// Query implements Querier.
func (b *InsertBuilder) Query() (string, []any) {
	cols := make([]string, len(b.columns))
	phs := make([]string, len(b.columns))
	for i, c := range b.columns {
		cols[i] = Quote(c)
		phs[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		Quote(b.table), strings.Join(cols, ", "), strings.Join(phs, ", "),
	), b.values
}

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update returns a builder for an UPDATE of the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set adds a SET column/value pair. A nil value sets the column to NULL.
func (b *UpdateBuilder) Set(col string, v any) *UpdateBuilder {
	b.columns = append(b.columns, col)
	b.values = append(b.values, v)
	return b
}

// Where sets the WHERE predicate.
func (b *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	b.where = p
	return b
}

// Empty reports whether the SET list is empty.
func (b *UpdateBuilder) Empty() bool { return len(b.columns) == 0 }

// Query implements Querier.
func (b *UpdateBuilder) Query() (string, []any) {
	var (
		n    int
		args []any
		sets = make([]string, len(b.columns))
	)
	for i, c := range b.columns {
		n++
		sets[i] = fmt.Sprintf("%s = $%d", Quote(c), n)
		args = append(args, b.values[i])
	}
	q := fmt.Sprintf("UPDATE %s SET %s", Quote(b.table), strings.Join(sets, ", "))
	if b.where != nil {
		q += " WHERE " + b.where.render(&n, &args)
	}
	return q, args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	table string
	where *Predicate
}

// Delete returns a builder for a DELETE from the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where sets the WHERE predicate.
func (b *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	b.where = p
	return b
}

// Query implements Querier.
func (b *DeleteBuilder) Query() (string, []any) {
	var (
		n    int
		args []any
	)
	q := "DELETE FROM " + Quote(b.table)
	if b.where != nil {
		q += " WHERE " + b.where.render(&n, &args)
	}
	return q, args
}

// SelectBuilder builds a SELECT statement.
type SelectBuilder struct {
	columns []string
	table   string
	where   *Predicate
	groupBy []string
	orderBy []string
}

// Select returns a builder selecting the given columns. Columns containing a
// parenthesis or space are treated as raw expressions.
func Select(columns ...string) *SelectBuilder {
	return &SelectBuilder{columns: columns}
}

// From sets the table to select from.
func (b *SelectBuilder) From(table string) *SelectBuilder {
	b.table = table
	return b
}

// Where sets the WHERE predicate.
func (b *SelectBuilder) Where(p *Predicate) *SelectBuilder {
	b.where = p
	return b
}

// GroupBy appends GROUP BY columns.
func (b *SelectBuilder) GroupBy(cols ...string) *SelectBuilder {
	b.groupBy = append(b.groupBy, cols...)
	return b
}

// OrderBy appends ORDER BY columns.
func (b *SelectBuilder) OrderBy(cols ...string) *SelectBuilder {
	b.orderBy = append(b.orderBy, cols...)
	return b
}

// Query implements Querier.
func (b *SelectBuilder) Query() (string, []any) {
	var (
		n    int
		args []any
		cols = make([]string, len(b.columns))
	)
	for i, c := range b.columns {
		cols[i] = quoteCol(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), Quote(b.table))
	if b.where != nil {
		q += " WHERE " + b.where.render(&n, &args)
	}
	if len(b.groupBy) > 0 {
		gs := make([]string, len(b.groupBy))
		for i, c := range b.groupBy {
			gs[i] = quoteCol(c)
		}
		q += " GROUP BY " + strings.Join(gs, ", ")
	}
	if len(b.orderBy) > 0 {
		os := make([]string, len(b.orderBy))
		for i, c := range b.orderBy {
			os[i] = quoteCol(c)
		}
		q += " ORDER BY " + strings.Join(os, ", ")
	}
	return q, args
}
