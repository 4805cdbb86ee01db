package ratelimit_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newEvaluator(t *testing.T, c *clock) (*ratelimit.Evaluator, *memory.Store) {
	t.Helper()
	store := memory.New(memory.WithSweepInterval(0), memory.WithClock(c.Now))
	t.Cleanup(func() { _ = store.Close() })
	return ratelimit.NewEvaluator(store, ratelimit.WithClock(c.Now)), store
}

func TestEvaluate_WindowBoundary(t *testing.T) {
	c := newClock()
	eval, _ := newEvaluator(t, c)
	p := ratelimit.Policy{Window: time.Minute, MaxRequests: 3}

	var first ratelimit.Decision
	for i := 0; i < 3; i++ {
		d := eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown)
		require.True(t, d.Allowed, "request %d", i+1)
		if i == 0 {
			first = d
		}
	}
	d := eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown)
	assert.False(t, d.Allowed)
	assert.Equal(t, 4, d.Entry.Count)
	assert.Equal(t, first.Entry.ResetAt, d.Entry.ResetAt, "denials must not move the window")

	c.Advance(time.Minute + time.Millisecond)
	d = eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Entry.Count)
	assert.Equal(t, c.Now().Add(time.Minute), d.Entry.ResetAt)
}

func TestEvaluate_WindowClosesExactlyAtReset(t *testing.T) {
	c := newClock()
	eval, _ := newEvaluator(t, c)
	p := ratelimit.Policy{Window: time.Minute, MaxRequests: 1}

	require.True(t, eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown).Allowed)
	require.False(t, eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown).Allowed)

	c.Advance(time.Minute)
	assert.True(t, eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown).Allowed)
}

func TestEvaluate_ZeroCeilingDeniesFirst(t *testing.T) {
	eval, _ := newEvaluator(t, newClock())
	d := eval.Evaluate(ratelimit.General, "k", ratelimit.Policy{Window: time.Minute}, ratelimit.OutcomeUnknown)
	assert.False(t, d.Allowed)
}

func TestEvaluate_KnownOutcomeOnFreshWindow(t *testing.T) {
	eval, _ := newEvaluator(t, newClock())
	exempt := ratelimit.Policy{Window: time.Minute, MaxRequests: 5, ExemptSuccesses: true}

	d := eval.Evaluate(ratelimit.Login, "ok", exempt, ratelimit.OutcomeSuccess)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Entry.Count)
	assert.False(t, d.Counted)

	d = eval.Evaluate(ratelimit.Login, "bad", exempt, ratelimit.OutcomeFailure)
	assert.Equal(t, ratelimit.Entry{Count: 1, Failures: 1, ResetAt: d.Entry.ResetAt}, d.Entry)
}

func TestEvaluate_ExemptSuccessesNeverDeny(t *testing.T) {
	c := newClock()
	eval, store := newEvaluator(t, c)
	p := ratelimit.Policy{Window: time.Minute, MaxRequests: 5, ExemptSuccesses: true}

	for i := 0; i < p.MaxRequests+5; i++ {
		d := eval.Evaluate(ratelimit.Login, "k", p, ratelimit.OutcomeUnknown)
		require.True(t, d.Allowed, "request %d", i+1)
		require.True(t, eval.Report(d.Ticket(), true))
	}

	e, ok := store.Peek("k", c.Now())
	require.True(t, ok)
	assert.Equal(t, 0, e.Count)
}

func TestEvaluate_FailuresStillDenyUnderExemption(t *testing.T) {
	eval, _ := newEvaluator(t, newClock())
	p := ratelimit.Policy{Window: time.Minute, MaxRequests: 3, ExemptSuccesses: true}

	denied := -1
	for i := 0; i < 20; i++ {
		d := eval.Evaluate(ratelimit.Login, "k", p, ratelimit.OutcomeUnknown)
		if !d.Allowed {
			denied = i
			break
		}
		// every other call fails
		eval.Report(d.Ticket(), i%2 == 0)
	}
	// successes at i=0,2,4 are refunded, failures at 1,3,5 stay counted
	assert.Equal(t, 6, denied)
}

func TestEvaluate_NoExemptionCountsEverything(t *testing.T) {
	eval, _ := newEvaluator(t, newClock())
	p := ratelimit.DefaultCatalog().PolicyFor(ratelimit.PasswordReset)

	for i := 0; i < 3; i++ {
		d := eval.Evaluate(ratelimit.PasswordReset, "k", p, ratelimit.OutcomeUnknown)
		require.True(t, d.Allowed)
		eval.Report(d.Ticket(), i == 0)
	}
	assert.False(t, eval.Evaluate(ratelimit.PasswordReset, "k", p, ratelimit.OutcomeUnknown).Allowed)
}

func TestEvaluate_LoginScenario(t *testing.T) {
	c := newClock()
	eval, _ := newEvaluator(t, c)
	p := ratelimit.DefaultCatalog().PolicyFor(ratelimit.Login)

	for i := 0; i < 5; i++ {
		require.True(t, eval.Evaluate(ratelimit.Login, "k", p, ratelimit.OutcomeUnknown).Allowed)
		c.Advance(time.Second)
	}
	d := eval.Evaluate(ratelimit.Login, "k", p, ratelimit.OutcomeUnknown)
	require.False(t, d.Allowed)

	retry := d.RetryAfter(c.Now())
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 900*time.Second)
	assert.Equal(t, 895*time.Second, retry)
}

func TestEvaluate_LateOutcomeDoesNotLeakIntoNextWindow(t *testing.T) {
	c := newClock()
	eval, store := newEvaluator(t, c)
	p := ratelimit.Policy{Window: time.Minute, MaxRequests: 10}

	old := eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown)
	c.Advance(2 * time.Minute)
	eval.Evaluate(ratelimit.General, "k", p, ratelimit.OutcomeUnknown)

	assert.False(t, eval.Report(old.Ticket(), false))
	e, ok := store.Peek("k", c.Now())
	require.True(t, ok)
	assert.Equal(t, 0, e.Failures)
}

func TestEvaluate_StoreFullFailsClosed(t *testing.T) {
	c := newClock()
	store := memory.New(memory.WithSweepInterval(0), memory.WithMaxEntries(1))
	eval := ratelimit.NewEvaluator(store, ratelimit.WithClock(c.Now))
	p := ratelimit.Policy{Window: time.Minute, MaxRequests: 10}

	require.True(t, eval.Evaluate(ratelimit.General, "a", p, ratelimit.OutcomeUnknown).Allowed)
	d := eval.Evaluate(ratelimit.General, "b", p, ratelimit.OutcomeUnknown)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining())
	assert.Equal(t, 60*time.Second, d.RetryAfter(c.Now()))

	// an expired key is reclaimed to make room
	c.Advance(time.Minute)
	assert.True(t, eval.Evaluate(ratelimit.General, "b", p, ratelimit.OutcomeUnknown).Allowed)
}

type panickingStore struct{ ratelimit.Store }

func (panickingStore) Admit(ratelimit.Key, time.Time, ratelimit.Rule) (ratelimit.Entry, bool, error) {
	panic("boom")
}

func TestEvaluate_PanicFailsClosed(t *testing.T) {
	eval := ratelimit.NewEvaluator(panickingStore{})
	d := eval.Evaluate(ratelimit.General, "k", ratelimit.Policy{Window: time.Minute, MaxRequests: 10}, ratelimit.OutcomeUnknown)
	assert.False(t, d.Allowed)
}

func TestEvaluate_ConcurrentAdmitsExactlyCeiling(t *testing.T) {
	const (
		goroutines = 1000
		ceiling    = 50
	)
	p := ratelimit.Policy{Window: time.Hour, MaxRequests: ceiling}

	for round := 0; round < 20; round++ {
		store := memory.New(memory.WithSweepInterval(0))
		eval := ratelimit.NewEvaluator(store)

		var admitted, denied atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if eval.Evaluate(ratelimit.General, "hot", p, ratelimit.OutcomeUnknown).Allowed {
					admitted.Add(1)
				} else {
					denied.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int64(ceiling), admitted.Load(), "round %d", round)
		require.Equal(t, int64(goroutines-ceiling), denied.Load(), "round %d", round)
		e, ok := store.Peek("hot", time.Now())
		require.True(t, ok)
		require.Equal(t, goroutines, e.Count)
	}
}
