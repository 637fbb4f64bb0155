package helpers

import (
	"sync/atomic"
	"time"
)

// BackoffStep applies Delay to the next Attempts failures.
// Attempts=0 means forever, only valid in the last step.
type BackoffStep struct {
	Attempts int
	Delay    time.Duration
}

// DefaultBackoffSteps: 10s for first 5 failures, 60s for next 5, then 600s.
var DefaultBackoffSteps = []BackoffStep{
	{Attempts: 5, Delay: 10 * time.Second},
	{Attempts: 5, Delay: 60 * time.Second},
	{Attempts: 0, Delay: 600 * time.Second},
}

// Stepped backoff for reconnect delays.
// Use scenario:
// for {
//   err := op()
//   if err == nil { backoff.Reset(); continue }
//   sleep(backoff.Failure())
// }
type Backoff struct {
	failures int64 // atomic

	Steps []BackoffStep
}

func NewBackoff(steps []BackoffStep) *Backoff {
	if len(steps) == 0 {
		steps = DefaultBackoffSteps
	}
	return &Backoff{Steps: steps}
}

// Failure registers one more failed attempt and returns delay before next one.
func (b *Backoff) Failure() time.Duration {
	n := atomic.AddInt64(&b.failures, 1)
	return b.DelayAt(int(n))
}

// Failures since last Reset().
func (b *Backoff) Failures() int { return int(atomic.LoadInt64(&b.failures)) }

func (b *Backoff) Reset() { atomic.StoreInt64(&b.failures, 0) }

// DelayAt returns delay after n-th consecutive failure, n starts at 1.
func (b *Backoff) DelayAt(n int) time.Duration {
	steps := b.Steps
	if len(steps) == 0 {
		steps = DefaultBackoffSteps
	}
	for _, s := range steps {
		if s.Attempts <= 0 || n <= s.Attempts {
			return s.Delay
		}
		n -= s.Attempts
	}
	return steps[len(steps)-1].Delay
}
