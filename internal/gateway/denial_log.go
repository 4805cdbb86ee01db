package gateway

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

// DenialLog writes one warn line per denial, at most perSec per second with
// the given burst. Lines dropped by the throttle are counted and reported on
// the next line that gets through.
type DenialLog struct {
	lim        *rate.Limiter
	suppressed atomic.Int64
}

func NewDenialLog(perSec float64, burst int) *DenialLog {
	return &DenialLog{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *DenialLog) Log(logger *zerolog.Logger, d ratelimit.Decision) {
	if l != nil && !l.lim.Allow() {
		l.suppressed.Add(1)
		return
	}
	ev := logger.Warn().
		Str("client_key", string(d.Key)).
		Stringer("category", d.Category).
		Int("count", d.Entry.Count).
		Int("ceiling", d.Policy.MaxRequests).
		Int("failures", d.Entry.Failures).
		Stringer("adaptive_level", d.Level)
	if l != nil {
		if n := l.suppressed.Swap(0); n > 0 {
			ev = ev.Int64("suppressed", n)
		}
	}
	ev.Msg("rate limited")
}
