package core

import (
	"fmt"
	"sync/atomic"
)

// ModelLimiter caps the model calls of one invocation across all of its
// branches. A limit of 0 means unlimited.
type ModelLimiter struct {
	limit int64
	used  atomic.Int64
}

// NewModelLimiter returns a limiter allowing limit calls. Negative limits are
// treated as unlimited.
func NewModelLimiter(limit int) *ModelLimiter {
	return &ModelLimiter{limit: max(int64(limit), 0)}
}

// Increment reserves one call. Once the limit is exceeded every further call
// fails with ErrMaxModelCalls.
func (ml *ModelLimiter) Increment() error {
	n := ml.used.Add(1)
	if ml.limit > 0 && n > ml.limit {
		return fmt.Errorf("%w: limit %d", ErrMaxModelCalls, ml.limit)
	}

	return nil
}

// Count is the number of reserved calls, including rejected ones.
func (ml *ModelLimiter) Count() int { return int(ml.used.Load()) }

// Remaining is the number of calls left, never below 0, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	if ml.limit == 0 {
		return -1
	}

	return int(max(ml.limit-ml.used.Load(), 0))
}
