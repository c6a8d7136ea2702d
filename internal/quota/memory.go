package quota

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	identity string
	bucket   int64
}

// MemoryLedger keeps counters in process memory. It honours the same bucket
// semantics as the shared backends and exists for tests and single-instance
// deployments where an external store is overkill.
type MemoryLedger struct {
	mu     sync.Mutex
	counts map[memoryKey]int64
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		counts: make(map[memoryKey]int64),
		now:    time.Now,
	}
}

func (l *MemoryLedger) Increment(_ context.Context, identity string) (Usage, error) {
	bucket := l.now().UTC().Truncate(time.Hour)
	key := memoryKey{identity: identity, bucket: bucket.Unix()}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	count := l.counts[key]
	l.prune(bucket)
	return Usage{Count: count, Bucket: bucket}, nil
}

func (l *MemoryLedger) Ping(context.Context) error {
	return nil
}

// prune drops buckets older than the previous hour. Callers hold the lock.
func (l *MemoryLedger) prune(current time.Time) {
	cutoff := current.Add(-time.Hour).Unix()
	for key := range l.counts {
		if key.bucket < cutoff {
			delete(l.counts, key)
		}
	}
}
