// Package quota records per-identity API usage in hourly buckets and exposes
// the counter value so callers can enforce a limit. The ledger only counts;
// the limit itself lives with the caller.
//
// The contract is increment-first: usage is recorded atomically before any
// comparison against a limit, so two concurrent requests at the boundary can
// never both observe the pre-increment value and slip under together. A
// request that ends up rejected still consumed its increment; the bucket
// rolls over within the hour, so the overcount is bounded and accepted.
package quota

import (
	"context"
	"errors"
	"time"
)

// Usage is the outcome of one increment: the counter value after the
// increment and the hour bucket it landed in.
type Usage struct {
	Count  int64
	Bucket time.Time
}

// ResetAt returns when the bucket rolls over and counting restarts.
func (u Usage) ResetAt() time.Time {
	return u.Bucket.Add(time.Hour)
}

// ErrUnavailable marks a ledger that cannot currently record usage. Callers
// must treat it as a denial: work that cannot be counted is not admitted.
var ErrUnavailable = errors.New("quota ledger unavailable")

// Ledger records usage against the identity's current hour bucket.
type Ledger interface {
	Increment(ctx context.Context, identity string) (Usage, error)
	Ping(ctx context.Context) error
}
