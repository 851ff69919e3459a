// Package strata maps a declaratively described entity graph onto a
// relational store and back. A schema declares typed attributes, identities
// and references; a Store accepts graph deltas on the write side and batched
// shape requests on the read side, translating both to SQL.
package strata

import (
	"context"
	"errors"

	"github.com/strata-db/strata/delta"
	"github.com/strata-db/strata/dialect"
	"github.com/strata-db/strata/policy"
	"github.com/strata-db/strata/read"
	"github.com/strata-db/strata/schema"
	"github.com/strata-db/strata/write"
)

// Shape describes the attributes requested from a read. See read.Shape.
type Shape = read.Shape

// Redactor filters entity result maps before they reach the caller.
type Redactor = read.Redactor

// ResolvedIDs maps the temporary identifiers of a delta to their allocated
// store values.
type ResolvedIDs = write.ResolvedIDs

// Store combines the write and read paths over one schema and one set of
// partition pools. It is safe for concurrent use.
type Store struct {
	schema *schema.Schema
	pools  map[string]dialect.Driver
	writer *write.Writer
	reader *read.Reader
	policy policy.Policy
}

// Options configures a Store.
type Options struct {
	// Redactor is applied to every entity result map on the read path.
	Redactor Redactor
	// Policy is evaluated before every write and fetch. An empty policy
	// allows everything.
	Policy policy.Policy
	// WriteOptions are passed through to the write executor.
	WriteOptions []write.Option
}

// New builds a Store from a validated schema and a partition-to-pool map.
// Resolvers and statement texts are compiled here, once.
func New(s *schema.Schema, pools map[string]dialect.Driver, opts Options) (*Store, error) {
	var ropts []read.Option
	if opts.Redactor != nil {
		ropts = append(ropts, read.WithRedactor(opts.Redactor))
	}
	reader, err := read.NewReader(s, pools, ropts...)
	if err != nil {
		return nil, err
	}
	return &Store{
		schema: s,
		pools:  pools,
		writer: write.NewWriter(s, pools, opts.WriteOptions...),
		reader: reader,
		policy: opts.Policy,
	}, nil
}

// Schema returns the schema the store was built from.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Write applies a delta: expands reference ownership, allocates temporary
// identifiers, and executes the resulting plan in one serializable
// transaction per partition, retrying on serialization conflicts. The
// returned map resolves the delta's temporary identifiers.
func (s *Store) Write(ctx context.Context, d delta.Delta) (ResolvedIDs, error) {
	if err := s.policy.EvalWrite(ctx, d); err != nil {
		return nil, err
	}
	return s.writer.Write(ctx, d)
}

// Fetch resolves the requested shape for a batch of identity values with a
// fixed number of queries independent of batch size. Results align
// positionally with ids; a missing entity yields a nil map.
func (s *Store) Fetch(ctx context.Context, identity string, ids []any, shape Shape) ([]map[string]any, error) {
	if err := s.policy.EvalRead(ctx, &policy.ReadRequest{Identity: identity, IDs: ids, Shape: shape}); err != nil {
		return nil, err
	}
	return s.reader.Fetch(ctx, identity, ids, shape)
}

// Close closes every underlying pool. Pools shared between partitions are
// closed once.
func (s *Store) Close() error {
	var errs []error
	seen := make(map[dialect.Driver]struct{}, len(s.pools))
	for _, drv := range s.pools {
		if _, ok := seen[drv]; ok {
			continue
		}
		seen[drv] = struct{}{}
		if err := drv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
