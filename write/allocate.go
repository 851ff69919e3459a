package write

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/dialect"
	sqld "github.com/strata-db/strata/dialect/sql"
)

// allocate resolves every temporary identifier in the plan. Sequence-backed
// identifiers cost exactly one round trip per distinct sequence, requesting
// N next values for N pending identifiers and zipping them positionally.
// Locally generated identifiers are fresh uuids with no I/O.
func allocate(ctx context.Context, pools map[string]dialect.Driver, plan delta.IDPlan) (ResolvedIDs, error) {
	ids := make(ResolvedIDs, len(plan.Local))
	for _, t := range plan.Local {
		ids[t] = uuid.New()
	}
	for _, sa := range plan.Sequences {
		drv, ok := pools[sa.Partition]
		if !ok {
			return nil, &MissingPoolError{Partition: sa.Partition}
		}
		vals, err := nextVals(ctx, drv, sa.Sequence, len(sa.IDs))
		if err != nil {
			return nil, err
		}
		for i, t := range sa.IDs {
			ids[t] = vals[i]
		}
	}
	return ids, nil
}

func nextVals(ctx context.Context, drv dialect.Driver, sequence string, n int) ([]int64, error) {
	rows := &sqld.Rows{}
	query := "SELECT nextval($1::regclass) FROM generate_series(1, $2)"
	if err := drv.Query(ctx, query, []any{sequence, n}, rows); err != nil {
		return nil, sqld.Classify(fmt.Errorf("write: allocating %d ids from %q: %w", n, sequence, err))
	}
	defer rows.Close()
	vals := make([]int64, 0, n)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, sqld.Classify(fmt.Errorf("write: scanning sequence value: %w", err))
		}
		vals = append(vals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, sqld.Classify(err)
	}
	if len(vals) != n {
		return nil, fmt.Errorf("write: sequence %q returned %d values, want %d", sequence, len(vals), n)
	}
	return vals, nil
}
