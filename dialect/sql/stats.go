package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/strata-db/strata/dialect"
)

// QueryStats counts statements issued through a StatsDriver. The write and
// read paths promise bounded round trips per call (one allocation query per
// sequence, one query per resolver invocation); wrapping a driver with
// NewStatsDriver makes those promises observable.
type QueryStats struct {
	// Queries is the number of row-returning statements executed.
	Queries atomic.Int64
	// Execs is the number of non-row statements executed.
	Execs atomic.Int64
	// Errors is the number of failed statements.
	Errors atomic.Int64
	// Duration is the cumulative statement time in nanoseconds.
	Duration atomic.Int64
}

// Reset resets all counters to zero.
func (s *QueryStats) Reset() {
	s.Queries.Store(0)
	s.Execs.Store(0)
	s.Errors.Store(0)
	s.Duration.Store(0)
}

// StatsDriver wraps a Driver with statement counting and optional slow
// statement logging through log/slog.
type StatsDriver struct {
	*Driver
	stats         *QueryStats
	slowThreshold time.Duration
	logger        *slog.Logger
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold above which statements are logged.
// The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.slowThreshold = d }
}

// WithLogger sets the logger used for slow statements.
func WithLogger(l *slog.Logger) StatsOption {
	return func(s *StatsDriver) { s.logger = l }
}

// NewStatsDriver wraps a Driver with statistics collection.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the underlying counters.
func (d *StatsDriver) Stats() *QueryStats { return d.stats }

// Query executes a query and records statistics.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, start, err, true)
	return err
}

// Exec executes a statement and records statistics.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, start, err, false)
	return err
}

// Tx starts a transaction whose statements are also recorded.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, driver: d}, nil
}

// BeginTx starts a transaction with options whose statements are recorded.
func (d *StatsDriver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.Driver.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, driver: d}, nil
}

func (d *StatsDriver) record(ctx context.Context, query string, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.Queries.Add(1)
	} else {
		d.stats.Execs.Add(1)
	}
	d.stats.Duration.Add(int64(duration))
	if err != nil {
		d.stats.Errors.Add(1)
	}
	if duration > d.slowThreshold {
		d.logger.WarnContext(ctx, "slow statement",
			slog.Duration("duration", duration),
			slog.String("query", query),
		)
	}
}

type statsTx struct {
	dialect.Tx
	driver *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.record(ctx, query, start, err, true)
	return err
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.record(ctx, query, start, err, false)
	return err
}

// DebugDriver wraps a Driver and logs every statement.
type DebugDriver struct {
	*Driver
	log func(context.Context, ...any)
}

// NewDebugDriver wraps a Driver with debug logging via log/slog.
func NewDebugDriver(drv *Driver) *DebugDriver {
	return &DebugDriver{
		Driver: drv,
		log: func(ctx context.Context, v ...any) {
			slog.DebugContext(ctx, fmt.Sprint(v...))
		},
	}
}

// Query executes a query and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("query: %s args: %v", query, args))
	return d.Driver.Query(ctx, query, args, v)
}

// Exec executes a statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log(ctx, fmt.Sprintf("exec: %s args: %v", query, args))
	return d.Driver.Exec(ctx, query, args, v)
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
)
