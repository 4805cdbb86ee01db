package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

// Hooks observe the limiter from the HTTP side. Either func may be nil.
type Hooks struct {
	OnDecision func(r *http.Request, d ratelimit.Decision)
	// applied is false when the limiter dropped the report as stale.
	OnOutcome func(r *http.Request, t ratelimit.Ticket, success, applied bool)
}

type RateLimitOptions struct {
	Skip              map[string]struct{}
	TrustForwardedFor bool
	Hooks             []Hooks
	DenialLog         *DenialLog
	Now               func() time.Time
}

// RateLimit checks every routed request against lim under its route's
// category. Denied requests get a 429 with retry guidance; admitted ones are
// passed on and their status is reported back as the outcome (< 400 is a
// success).
func RateLimit(lim ratelimit.Limiter, opts RateLimitOptions) Middleware {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := opts.Skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			rt, ok := routing.RouteFrom(r)
			if !ok || rt == nil {
				next.ServeHTTP(w, r)
				return
			}

			addr := ClientAddr(r, opts.TrustForwardedFor)
			key := ratelimit.DeriveKey(rt.Category, addr, r.UserAgent())

			dec := lim.Check(rt.Category, key, ratelimit.OutcomeUnknown)
			meta := Annotate(dec, opts.Now())
			meta.Apply(w.Header())
			for _, h := range opts.Hooks {
				if h.OnDecision != nil {
					h.OnDecision(r, dec)
				}
			}

			if !dec.Allowed {
				opts.DenialLog.Log(hlog.FromRequest(r), dec)
				writeDenial(w, meta.Denial)
				return
			}

			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			ticket := dec.Ticket()
			success := rec.Status() < http.StatusBadRequest
			applied := lim.Report(ticket, success)
			for _, h := range opts.Hooks {
				if h.OnOutcome != nil {
					h.OnOutcome(r, ticket, success, applied)
				}
			}
		})
	}
}

// ClientAddr is the request's source address. X-Forwarded-For is only read
// when the gateway sits behind a proxy it trusts.
func ClientAddr(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
