package ratelimit

import "math"

// Level is how far an adaptive check tightened the base policy.
type Level uint8

const (
	LevelNone Level = iota
	LevelModerate
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	default:
		return "none"
	}
}

// AdaptiveConfig holds the failure-rate thresholds and the ceiling factors
// applied above them. Rates are compared with a strict greater-than.
type AdaptiveConfig struct {
	HighRate       float64
	HighFactor     float64
	HighFloor      int
	ModerateRate   float64
	ModerateFactor float64
	ModerateFloor  int
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		HighRate:       0.5,
		HighFactor:     0.3,
		HighFloor:      1,
		ModerateRate:   0.3,
		ModerateFactor: 0.6,
		ModerateFloor:  2,
	}
}

// Adjust returns the effective policy for a client whose current window is e.
// base is taken by value and returned modified; the caller's copy is untouched.
func (c AdaptiveConfig) Adjust(base Policy, e Entry) (Policy, Level) {
	rate := e.FailureRate()
	switch {
	case rate > c.HighRate:
		base.MaxRequests = scaled(base.MaxRequests, c.HighFactor, c.HighFloor)
		return base, LevelHigh
	case rate > c.ModerateRate:
		base.MaxRequests = scaled(base.MaxRequests, c.ModerateFactor, c.ModerateFloor)
		return base, LevelModerate
	default:
		return base, LevelNone
	}
}

func scaled(n int, factor float64, floor int) int {
	return max(floor, int(math.Floor(float64(n)*factor)))
}

// Adjuster is the Limiter used by the gateway. Categories whose policy is
// adaptive get a tightened copy of the base policy, computed from the client's
// live window, before the evaluator counts the call.
type Adjuster struct {
	catalog *Catalog
	eval    *Evaluator
	store   Store
	cfg     AdaptiveConfig
}

var _ Limiter = (*Adjuster)(nil)

func NewAdjuster(catalog *Catalog, store Store, cfg AdaptiveConfig, opts ...Option) *Adjuster {
	return &Adjuster{
		catalog: catalog,
		eval:    NewEvaluator(store, opts...),
		store:   store,
		cfg:     cfg,
	}
}

// EffectivePolicy is the policy the next check for key would use.
func (a *Adjuster) EffectivePolicy(cat Category, key Key) (Policy, Level) {
	base := a.catalog.PolicyFor(cat)
	if !base.Adaptive {
		return base, LevelNone
	}
	cur, ok := a.store.Peek(key, a.eval.now())
	if !ok {
		return base, LevelNone
	}
	return a.cfg.Adjust(base, cur)
}

func (a *Adjuster) Check(cat Category, key Key, outcome Outcome) Decision {
	p, level := a.EffectivePolicy(cat, key)
	d := a.eval.Evaluate(cat, key, p, outcome)
	d.Level = level
	return d
}

func (a *Adjuster) Report(t Ticket, success bool) bool {
	return a.eval.Report(t, success)
}
