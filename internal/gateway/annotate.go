package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Denial is the JSON body of a 429 response.
type Denial struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
	Category   string `json:"category"`
}

// Metadata is what a decision adds to the response.
type Metadata struct {
	Limit      int
	Remaining  int
	Reset      int64 // epoch seconds
	RetryAfter int   // seconds, denials only
	Denial     *Denial
}

func Annotate(d ratelimit.Decision, now time.Time) Metadata {
	m := Metadata{
		Limit:     d.Policy.MaxRequests,
		Remaining: d.Remaining(),
		Reset:     d.Entry.ResetAt.Unix(),
	}
	if d.Allowed {
		return m
	}
	m.RetryAfter = int(d.RetryAfter(now) / time.Second)
	m.Denial = &Denial{
		Error:      "rate-limited",
		Message:    d.Policy.Message,
		RetryAfter: m.RetryAfter,
		Category:   d.Category.String(),
	}
	return m
}

func (m Metadata) Apply(h http.Header) {
	h.Set(HeaderLimit, itoa(m.Limit))
	h.Set(HeaderRemaining, itoa(m.Remaining))
	h.Set(HeaderReset, itoa64(m.Reset))
	if m.Denial != nil {
		h.Set(HeaderRetryAfter, itoa(m.RetryAfter))
	}
}

func writeDenial(w http.ResponseWriter, d *Denial) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(d)
}
