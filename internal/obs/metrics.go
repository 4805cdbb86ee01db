package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/GateGuard/internal/gateway"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Admissions      *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	Tightened       *prometheus.CounterVec
	SweepRemoved    prometheus.Counter
}

// NewMetrics registers the gateway metrics on reg. entries, when non-nil,
// backs a gauge of live window entries.
func NewMetrics(reg prometheus.Registerer, entries func() int) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateguard_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_admissions_total",
				Help: "Admission decisions by category",
			},
			[]string{"category", "decision"},
		),
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_outcomes_total",
				Help: "Outcome reports by category; stale reports are dropped by the limiter",
			},
			[]string{"category", "result", "applied"},
		),
		Tightened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateguard_adaptive_tightened_total",
				Help: "Checks evaluated under a tightened policy",
			},
			[]string{"category", "level"},
		),
		SweepRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateguard_sweep_removed_total",
				Help: "Expired window entries removed by the sweep",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Admissions, m.Outcomes, m.Tightened, m.SweepRemoved)
	if entries != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gateguard_window_entries",
				Help: "Window entries currently held, expired ones included until swept",
			},
			func() float64 { return float64(entries()) },
		))
	}
	return m
}

func (m *Metrics) ObserveDecision(_ *http.Request, d ratelimit.Decision) {
	decision := "deny"
	if d.Allowed {
		decision = "admit"
	}
	m.Admissions.WithLabelValues(d.Category.String(), decision).Inc()
	if d.Level != ratelimit.LevelNone {
		m.Tightened.WithLabelValues(d.Category.String(), d.Level.String()).Inc()
	}
}

func (m *Metrics) ObserveOutcome(_ *http.Request, t ratelimit.Ticket, success, applied bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.Outcomes.WithLabelValues(t.Category.String(), result, strconv.FormatBool(applied)).Inc()
}

func (m *Metrics) ObserveSweep(removed int) {
	m.SweepRemoved.Add(float64(removed))
}

// Middleware records per-request metrics.
// It uses the route stored by RouteMatcher (routing.RouteFrom).
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := gateway.NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := "unknown"
			if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
				route = rt.ID
			}

			method := r.Method
			code := rec.Status()

			m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
		})
	}
}
