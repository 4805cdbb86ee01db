package ratelimit

import (
	"time"

	"github.com/rs/zerolog"
)

// Evaluator applies the fixed-window counting rule for an explicit policy.
type Evaluator struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

func NewEvaluator(store Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		store: store,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply is the counting rule. It is pure: given the current entry, the policy
// and what is known about this call, it returns the next entry and whether the
// call is admitted. A request counted here as unknown is undone later by the
// outcome report when it turns out to be exempt.
func Apply(cur Entry, live bool, p Policy, outcome Outcome, now time.Time) (Entry, bool, bool) {
	counts := !(p.ExemptSuccesses && outcome == OutcomeSuccess) &&
		!(p.ExemptFailures && outcome == OutcomeFailure)
	failed := outcome == OutcomeFailure && !p.ExemptFailures

	next := cur
	if !live {
		next = Entry{ResetAt: now.Add(p.Window)}
	}
	if counts {
		next.Count++
	}
	if failed && next.Failures < next.Count {
		next.Failures++
	}
	return next, next.Count <= p.MaxRequests, counts
}

// Evaluate counts the call against key under p and decides. It never returns
// an error: a store that cannot serve the call yields a denial.
func (e *Evaluator) Evaluate(cat Category, key Key, p Policy, outcome Outcome) (d Decision) {
	now := e.now()
	d = Decision{Key: key, Category: cat, Policy: p}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("key", string(key)).Stringer("category", cat).
				Msg("admission check panicked, denying")
			d = e.failClosed(d, now)
		}
	}()

	var counted bool
	entry, allowed, err := e.store.Admit(key, now, func(cur Entry, live bool) (Entry, bool) {
		next, ok, c := Apply(cur, live, p, outcome, now)
		counted = c
		return next, ok
	})
	if err != nil {
		e.log.Warn().Err(err).Str("key", string(key)).Stringer("category", cat).
			Msg("window store unavailable, denying")
		return e.failClosed(d, now)
	}

	d.Allowed = allowed
	d.Entry = entry
	d.Counted = counted
	return d
}

// Report forwards an outcome to the store. A report for a window that has
// since closed or been replaced is dropped and Report returns false.
func (e *Evaluator) Report(t Ticket, success bool) bool {
	return e.store.RecordOutcome(t, e.now(), success)
}

func (e *Evaluator) failClosed(d Decision, now time.Time) Decision {
	d.Allowed = false
	d.Counted = false
	d.Entry = Entry{Count: d.Policy.MaxRequests, ResetAt: now.Add(d.Policy.Window)}
	return d
}
