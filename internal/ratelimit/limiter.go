package ratelimit

import (
	"errors"
	"time"
)

var (
	ErrUnknownCategory = errors.New("ratelimit: unknown category")
	ErrInvalidPolicy   = errors.New("ratelimit: invalid policy")
	// ErrStoreFull is returned by a Store that cannot hold another key.
	ErrStoreFull = errors.New("ratelimit: window store is full")
)

// Policy is the fixed-window rule applied to one category. It is a value
// type: adjusted copies are passed around, the catalog entry is never written.
type Policy struct {
	Window          time.Duration
	MaxRequests     int
	ExemptSuccesses bool // successful requests do not count toward MaxRequests
	ExemptFailures  bool // failed requests do not count toward MaxRequests
	Message         string
	Adaptive        bool // tighten MaxRequests when the client's failure rate rises
}

func (p Policy) validate() error {
	if p.Window <= 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("window must be positive"))
	}
	if p.MaxRequests < 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("max requests must not be negative"))
	}
	return nil
}

// Outcome is what the caller knows about the protected operation.
type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Key identifies one logical client within one category.
type Key string

// Entry is the counter state of one key for its current window.
type Entry struct {
	Count    int
	Failures int
	ResetAt  time.Time
}

// Live reports whether the window is still open at now.
func (e Entry) Live(now time.Time) bool { return now.Before(e.ResetAt) }

// FailureRate is Failures/Count, zero for an empty window.
func (e Entry) FailureRate() float64 {
	if e.Count <= 0 {
		return 0
	}
	return float64(e.Failures) / float64(e.Count)
}

// Ticket ties an outcome report to the window its admission was counted in.
type Ticket struct {
	Key             Key
	Category        Category
	ResetAt         time.Time
	Counted         bool // the admission incremented Count
	ExemptSuccesses bool
	ExemptFailures  bool
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed  bool
	Key      Key
	Category Category
	Policy   Policy // effective policy, after adaptive tightening
	Entry    Entry  // entry state right after this check
	Level    Level
	Counted  bool
}

// Remaining is the quota left in the window, floored at zero.
func (d Decision) Remaining() int {
	return max(0, d.Policy.MaxRequests-d.Entry.Count)
}

// RetryAfter is how long a denied client should wait, rounded up to whole
// seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.Entry.ResetAt.Sub(now)
	secs := (wait + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

func (d Decision) Ticket() Ticket {
	return Ticket{
		Key:             d.Key,
		Category:        d.Category,
		ResetAt:         d.Entry.ResetAt,
		Counted:         d.Counted,
		ExemptSuccesses: d.Policy.ExemptSuccesses,
		ExemptFailures:  d.Policy.ExemptFailures,
	}
}

// Rule computes the next entry for a key and whether the request is admitted.
// live is false when cur is absent or its window has closed.
type Rule func(cur Entry, live bool) (next Entry, allowed bool)

// Store holds window entries. Admit must run rule atomically with respect to
// every other writer of the same key.
type Store interface {
	Peek(key Key, now time.Time) (Entry, bool)
	Admit(key Key, now time.Time, rule Rule) (Entry, bool, error)
	RecordOutcome(t Ticket, now time.Time, success bool) bool
}

// Limiter is what the HTTP layer talks to.
type Limiter interface {
	Check(category Category, key Key, outcome Outcome) Decision
	Report(t Ticket, success bool) bool
}
