package write

import (
	"context"
	"math/rand/v2"
	"time"

	sqld "github.com/strata-db/strata/dialect/sql"
)

// outcome is the result of one write attempt. A serialization conflict is
// the only retryable failure; everything else is fatal and surfaced as-is.
type outcome struct {
	ids ResolvedIDs
	err error
}

func (o outcome) ok() bool        { return o.err == nil }
func (o outcome) retryable() bool { return sqld.IsSerializationConflict(o.err) }

// backoff produces the delay before the next attempt: exponential growth
// from base to max, with jitter over the upper half of the window.
type backoff struct {
	base time.Duration
	max  time.Duration
}

func defaultBackoff() backoff {
	return backoff{base: 10 * time.Millisecond, max: 1 * time.Second}
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base << (attempt - 1)
	if d > b.max || d <= 0 {
		d = b.max
	}
	return d/2 + rand.N(d/2+1)
}

// retry drives the attempt function until it succeeds, fails fatally, or
// the attempt budget is exhausted. Retry state is local to one call.
func (w *Writer) retry(ctx context.Context, f func(context.Context) outcome) (ResolvedIDs, error) {
	for attempt := 1; ; attempt++ {
		o := f(ctx)
		if o.ok() || !o.retryable() || attempt >= w.maxAttempts {
			return o.ids, o.err
		}
		select {
		case <-time.After(w.policy.delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
