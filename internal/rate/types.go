package rate

import (
	"errors"
	"fmt"
	"time"
)

// ErrThrottled matches every ThrottledError.
var ErrThrottled = errors.New("polling too frequently")

// ThrottledError is returned when a caller polls faster than its policy allows.
type ThrottledError struct {
	Key     string
	Reason  string
	RetryAt time.Time
}

func (e ThrottledError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s throttled: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("%s throttled: %s (retry at %s)", e.Key, e.Reason, e.RetryAt.UTC().Format(time.RFC3339Nano))
}

func (e ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}

// RetryAfter returns the wait until RetryAt, never negative.
func (e ThrottledError) RetryAfter(now time.Time) time.Duration {
	if d := e.RetryAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// Policy declares how often one key may call. The zero Policy allows
// everything.
type Policy struct {
	name        string
	minInterval time.Duration
	burst       int
}

// Named creates an empty policy.
func Named(name string) Policy {
	return Policy{name: name}
}

func (p Policy) Name() string {
	return p.name
}

// MinInterval sets the sustained spacing between calls for one key.
func (p Policy) MinInterval(d time.Duration) Policy {
	p.minInterval = d
	return p
}

// Burst lets a key make n back-to-back calls before spacing applies.
func (p Policy) Burst(n int) Policy {
	p.burst = n
	return p
}

func (p Policy) Interval() time.Duration {
	return p.minInterval
}

func (p Policy) Capacity() int {
	if p.burst < 1 {
		return 1
	}
	return p.burst
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.minInterval > 0
}
