// Package statsink mirrors limiter decisions and outcomes into Redis hash
// counters so several gateways can be charted together. Counting stays local;
// Redis only receives totals.
//
// Hooks never touch Redis on the request path. Events go through a bounded
// buffer drained by one goroutine; when the buffer is full they are dropped
// and counted.
package statsink

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/GateGuard/internal/gateway"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

type event struct {
	field string
	at    time.Time
}

type Redis struct {
	rdb     redis.Cmdable
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	buffer  int
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	events  chan event
	done    chan struct{}
	dropped atomic.Int64
}

type Option func(*Redis)

func WithPrefix(prefix string) Option {
	return func(s *Redis) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithTTL bounds the lifetime of the per-minute buckets. The totals hash
// never expires.
func WithTTL(d time.Duration) Option {
	return func(s *Redis) { s.ttl = d }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Redis) { s.timeout = d }
}

// WithBuffer sets how many events may wait for the writer.
func WithBuffer(n int) Option {
	return func(s *Redis) { s.buffer = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Redis) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Redis) { s.now = now }
}

// NewRedis starts the background writer. Close stops it.
func NewRedis(rdb redis.Cmdable, opts ...Option) *Redis {
	s := &Redis{
		rdb:     rdb,
		prefix:  "gateguard:stats",
		ttl:     24 * time.Hour,
		timeout: 250 * time.Millisecond,
		buffer:  1024,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan event, max(s.buffer, 0))
	s.done = make(chan struct{})
	go s.run()
	return s
}

func (s *Redis) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.incr(ctx, ev.field, ev.at); err != nil {
			s.log.Warn().Err(err).Str("field", ev.field).Msg("stats: write failed")
		}
		cancel()
	}
}

// Close flushes buffered events and stops the writer.
func (s *Redis) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

// Dropped is the number of events discarded because the buffer was full.
func (s *Redis) Dropped() int64 { return s.dropped.Load() }

func (s *Redis) enqueue(f string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event{field: f, at: s.now()}:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			s.log.Warn().Int64("dropped", s.dropped.Load()).Msg("stats: buffer full, dropping events")
		}
	}
}

func (s *Redis) totalKey() string { return s.prefix + ":total" }

func (s *Redis) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func field(cat ratelimit.Category, event string) string {
	return cat.String() + ":" + event
}

func decisionField(d ratelimit.Decision) string {
	if d.Allowed {
		return field(d.Category, "allowed")
	}
	return field(d.Category, "denied")
}

func outcomeField(t ratelimit.Ticket, success bool) string {
	if success {
		return field(t.Category, "success")
	}
	return field(t.Category, "failure")
}

func (s *Redis) incr(ctx context.Context, f string, at time.Time) error {
	bucket := s.minuteKey(at)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), f, 1)
	pipe.HIncrBy(ctx, bucket, f, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RecordDecision writes one decision synchronously.
func (s *Redis) RecordDecision(ctx context.Context, d ratelimit.Decision) error {
	return s.incr(ctx, decisionField(d), s.now())
}

// RecordOutcome writes one outcome synchronously. Only reports the limiter
// applied are counted.
func (s *Redis) RecordOutcome(ctx context.Context, t ratelimit.Ticket, success, applied bool) error {
	if !applied {
		return nil
	}
	return s.incr(ctx, outcomeField(t, success), s.now())
}

// Hooks adapts the sink to the rate limit middleware.
func (s *Redis) Hooks() gateway.Hooks {
	return gateway.Hooks{
		OnDecision: func(_ *http.Request, d ratelimit.Decision) {
			s.enqueue(decisionField(d))
		},
		OnOutcome: func(_ *http.Request, t ratelimit.Ticket, success, applied bool) {
			if applied {
				s.enqueue(outcomeField(t, success))
			}
		},
	}
}
