package write

import (
	"context"
	"errors"
	"time"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/dialect"
	sqld "github.com/strata-db/strata/dialect/sql"
	"github.com/strata-db/strata/schema"
)

// Writer executes deltas against the store. One Write call spans at most two
// blocking round trips per partition touched (identifier allocation batched
// across sequences, and the transaction running the plan) plus bounded
// retries on serialization conflicts.
type Writer struct {
	schema      *schema.Schema
	pools       map[string]dialect.Driver
	maxAttempts int
	policy      backoff
}

// Option configures a Writer.
type Option func(*Writer)

// WithMaxAttempts bounds the number of attempts per write; the default is 5.
func WithMaxAttempts(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial and maximum delay between attempts.
func WithBackoff(base, ceil time.Duration) Option {
	return func(w *Writer) {
		w.policy.base, w.policy.max = base, ceil
	}
}

// NewWriter returns a Writer over the given partition-to-pool map.
func NewWriter(s *schema.Schema, pools map[string]dialect.Driver, opts ...Option) *Writer {
	w := &Writer{
		schema:      s,
		pools:       pools,
		maxAttempts: 5,
		policy:      defaultBackoff(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write expands the delta, resolves its temporary identifiers and executes
// the resulting plan, one serializable transaction per partition touched.
// It returns the resolved-identifier map. On a serialization conflict the
// entire operation, allocation included, is re-run so no identifier from a
// failed attempt leaks into the retried one. Each partition's transaction is
// atomic; there is no cross-partition atomicity.
func (w *Writer) Write(ctx context.Context, d delta.Delta) (ResolvedIDs, error) {
	expanded, err := delta.Expand(w.schema, d)
	if err != nil {
		return nil, err
	}
	parts, err := delta.Partitions(w.schema, expanded)
	if err != nil {
		return nil, err
	}
	// Configuration problems fail fast, before any I/O.
	for _, p := range parts {
		if _, ok := w.pools[p]; !ok {
			return nil, &MissingPoolError{Partition: p}
		}
	}
	idPlan, err := delta.PlanIDs(w.schema, expanded)
	if err != nil {
		return nil, err
	}
	return w.retry(ctx, func(ctx context.Context) outcome {
		return w.attempt(ctx, parts, idPlan, expanded)
	})
}

// attempt is one full allocation+execution unit.
func (w *Writer) attempt(ctx context.Context, parts []string, idPlan delta.IDPlan, expanded delta.Delta) outcome {
	ids, err := allocate(ctx, w.pools, idPlan)
	if err != nil {
		return outcome{err: err}
	}
	for _, p := range parts {
		plan, err := BuildPlan(w.schema, p, ids, expanded)
		if err != nil {
			return outcome{err: err}
		}
		if plan.Empty() {
			continue
		}
		if err := w.execute(ctx, w.pools[p], plan); err != nil {
			return outcome{err: err}
		}
	}
	return outcome{ids: ids}
}

// txBeginner is implemented by drivers that support transaction options.
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sqld.TxOptions) (dialect.Tx, error)
}

// execute runs one partition's plan in a single serializable transaction
// with constraint checking deferred to commit, so forward references between
// rows in the same transaction do not fail mid-transaction.
func (w *Writer) execute(ctx context.Context, drv dialect.Driver, plan *Plan) error {
	tx, err := begin(ctx, drv)
	if err != nil {
		return sqld.Classify(err)
	}
	if err := run(ctx, tx, plan); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return sqld.Classify(err)
	}
	if err := tx.Commit(); err != nil {
		return sqld.Classify(err)
	}
	return nil
}

func begin(ctx context.Context, drv dialect.Driver) (dialect.Tx, error) {
	if b, ok := drv.(txBeginner); ok {
		return b.BeginTx(ctx, &sqld.TxOptions{Isolation: sqld.LevelSerializable})
	}
	tx, err := drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	if err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE", []any{}, nil); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func run(ctx context.Context, tx dialect.Tx, plan *Plan) error {
	if err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED", []any{}, nil); err != nil {
		return err
	}
	for _, st := range plan.Updates {
		if err := tx.Exec(ctx, st.Query, st.Args, nil); err != nil {
			return err
		}
	}
	for _, st := range plan.Inserts {
		if err := tx.Exec(ctx, st.Query, st.Args, nil); err != nil {
			return err
		}
	}
	return nil
}
