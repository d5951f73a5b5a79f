package daemon

import (
	"sync"
	"time"
)

const limiterBuckets = 10

// evolutionLimiter caps how many evolutions may start within a sliding
// window. Starts are counted in coarse time buckets; expired buckets are
// pruned on every acquire, so memory stays bounded by the bucket count.
type evolutionLimiter struct {
	mu         sync.Mutex
	limit      int
	bucketSize int64
	buckets    map[int64]int
}

// newEvolutionLimiter creates a limiter allowing limit starts per
// windowSeconds. A limit of zero or less disables the cap.
func newEvolutionLimiter(limit, windowSeconds int) *evolutionLimiter {
	size := int64(windowSeconds / limiterBuckets)
	if size < 1 {
		size = 1
	}
	return &evolutionLimiter{
		limit:      limit,
		bucketSize: size,
		buckets:    make(map[int64]int),
	}
}

// tryAcquire records a start at now if the window has room and reports
// whether it did.
func (l *evolutionLimiter) tryAcquire(now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current := now.Unix() / l.bucketSize
	if l.pruneLocked(current) >= l.limit {
		return false
	}
	l.buckets[current]++
	return true
}

// count reports how many starts fall inside the window ending at now.
func (l *evolutionLimiter) count(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(now.Unix() / l.bucketSize)
}

// pruneLocked drops buckets outside the window and returns the remaining
// start count. Callers must hold mu.
func (l *evolutionLimiter) pruneLocked(current int64) int {
	min := current - limiterBuckets
	total := 0
	for bucket, n := range l.buckets {
		if bucket <= min {
			delete(l.buckets, bucket)
			continue
		}
		total += n
	}
	return total
}
