package memory

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxEntries    = 1 << 20
)

// Store is an in-memory ratelimit.Store. One mutex guards the whole map and
// every read-modify-write of an entry happens under it.
type Store struct {
	mu      sync.Mutex
	entries map[ratelimit.Key]ratelimit.Entry

	maxEntries int
	sweepEvery time.Duration
	now        func() time.Time
	log        zerolog.Logger
	onSweep    func(removed int)

	sched *cron.Cron
}

var _ ratelimit.Store = (*Store)(nil)

type Option func(*Store)

// WithSweepInterval sets how often expired entries are removed. Zero disables
// the background sweep; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepEvery = d }
}

func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithSweepHook is called after every sweep with the number of removed keys.
func WithSweepHook(fn func(removed int)) Option {
	return func(s *Store) { s.onSweep = fn }
}

// New creates the store and starts its background sweep.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[ratelimit.Key]ratelimit.Entry),
		maxEntries: DefaultMaxEntries,
		sweepEvery: DefaultSweepInterval,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start()
	return s
}

func (s *Store) start() {
	if s.sweepEvery <= 0 {
		return
	}
	s.sched = cron.New()
	s.sched.Schedule(cron.Every(s.sweepEvery), cron.FuncJob(func() {
		s.Sweep(s.now())
	}))
	s.sched.Start()
}

// Close stops the background sweep and waits for a running sweep to finish.
func (s *Store) Close() error {
	if s.sched == nil {
		return nil
	}
	<-s.sched.Stop().Done()
	return nil
}

func (s *Store) Peek(key ratelimit.Key, now time.Time) (ratelimit.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !e.Live(now) {
		return ratelimit.Entry{}, false
	}
	return e, true
}

// Admit runs rule for key under the store lock. A key that is not yet stored
// is refused with ErrStoreFull once the store is at capacity and nothing
// expired can be reclaimed.
func (s *Store) Admit(key ratelimit.Key, now time.Time, rule ratelimit.Rule) (ratelimit.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	if !ok && len(s.entries) >= s.maxEntries {
		s.sweepLocked(now)
		if len(s.entries) >= s.maxEntries {
			return ratelimit.Entry{}, false, ratelimit.ErrStoreFull
		}
	}

	next, allowed := rule(cur, ok && cur.Live(now))
	s.entries[key] = next
	return next, allowed, nil
}

// RecordOutcome applies a late outcome to the window the ticket was issued
// for. Reports for a closed or replaced window are dropped.
func (s *Store) RecordOutcome(t ratelimit.Ticket, now time.Time, success bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[t.Key]
	if !ok || !e.Live(now) || !e.ResetAt.Equal(t.ResetAt) {
		return false
	}

	exempt := t.ExemptFailures
	if success {
		exempt = t.ExemptSuccesses
	}
	switch {
	case exempt:
		if t.Counted && e.Count > e.Failures {
			e.Count--
		}
	case !success:
		if e.Failures < e.Count {
			e.Failures++
		}
	}
	s.entries[t.Key] = e
	return true
}

// Sweep deletes every entry whose window has closed at now.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	removed := s.sweepLocked(now)
	n := len(s.entries)
	s.mu.Unlock()

	s.log.Debug().Int("removed", removed).Int("live", n).Msg("window sweep")
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if !e.Live(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Snapshot copies every entry whose window is still open. Expired entries
// awaiting the sweep are left out. The result shares nothing with the store.
func (s *Store) Snapshot() map[ratelimit.Key]ratelimit.Entry {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[ratelimit.Key]ratelimit.Entry, len(s.entries))
	for k, e := range s.entries {
		if e.Live(now) {
			out[k] = e
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
