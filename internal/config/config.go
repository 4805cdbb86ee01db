package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

const envPrefix = "GATEGUARD_"

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel        string  `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath  string  `yaml:"prometheus_path"` // e.g. "/metrics"
	DenialLogPerSec float64 `yaml:"denial_log_per_sec"`
	DenialLogBurst  int     `yaml:"denial_log_burst"`
}

// Policy overrides one field of a category's compiled-in policy per non-zero
// value.
type Policy struct {
	WindowSec       int    `yaml:"window_sec"`
	MaxRequests     *int   `yaml:"max_requests"`
	ExemptSuccesses *bool  `yaml:"exempt_successes"`
	ExemptFailures  *bool  `yaml:"exempt_failures"`
	Message         string `yaml:"message"`
	Adaptive        *bool  `yaml:"adaptive"`
}

type Adaptive struct {
	HighRate       float64 `yaml:"high_rate"`
	HighFactor     float64 `yaml:"high_factor"`
	HighFloor      int     `yaml:"high_floor"`
	ModerateRate   float64 `yaml:"moderate_rate"`
	ModerateFactor float64 `yaml:"moderate_factor"`
	ModerateFloor  int     `yaml:"moderate_floor"`
}

type Limits struct {
	TrustForwardedFor bool              `yaml:"trust_forwarded_for"`
	SweepIntervalSec  int               `yaml:"sweep_interval_sec"`
	MaxEntries        int               `yaml:"max_entries"`
	Policies          map[string]Policy `yaml:"policies"`
	Adaptive          Adaptive          `yaml:"adaptive"`
}

type APIKey struct {
	ID       string            `yaml:"id"`
	Secret   string            `yaml:"secret"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

type Route struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Match    struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`
}

// Stats configures the optional Redis decision counters.
type Stats struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
	TTLSec        int    `yaml:"ttl_sec"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Routes        []Route       `yaml:"routes"`
	Stats         Stats         `yaml:"stats"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (l Limits) SweepInterval() time.Duration {
	return time.Duration(l.SweepIntervalSec) * time.Second
}

// Catalog applies the configured overrides on top of the compiled-in policies.
func (l Limits) Catalog() (*ratelimit.Catalog, error) {
	defaults := ratelimit.DefaultCatalog()
	overrides := make(map[ratelimit.Category]ratelimit.Policy, len(l.Policies))
	for name, pc := range l.Policies {
		cat, err := ratelimit.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("limits.policies: %w", err)
		}
		p := defaults.PolicyFor(cat)
		if pc.WindowSec != 0 {
			p.Window = time.Duration(pc.WindowSec) * time.Second
		}
		if pc.MaxRequests != nil {
			p.MaxRequests = *pc.MaxRequests
		}
		if pc.ExemptSuccesses != nil {
			p.ExemptSuccesses = *pc.ExemptSuccesses
		}
		if pc.ExemptFailures != nil {
			p.ExemptFailures = *pc.ExemptFailures
		}
		if pc.Message != "" {
			p.Message = pc.Message
		}
		if pc.Adaptive != nil {
			p.Adaptive = *pc.Adaptive
		}
		overrides[cat] = p
	}
	return ratelimit.NewCatalog(overrides)
}

// AdaptiveConfig fills unset thresholds from the defaults.
func (l Limits) AdaptiveConfig() ratelimit.AdaptiveConfig {
	c := ratelimit.DefaultAdaptiveConfig()
	a := l.Adaptive
	if a.HighRate > 0 {
		c.HighRate = a.HighRate
	}
	if a.HighFactor > 0 {
		c.HighFactor = a.HighFactor
	}
	if a.HighFloor > 0 {
		c.HighFloor = a.HighFloor
	}
	if a.ModerateRate > 0 {
		c.ModerateRate = a.ModerateRate
	}
	if a.ModerateFactor > 0 {
		c.ModerateFactor = a.ModerateFactor
	}
	if a.ModerateFloor > 0 {
		c.ModerateFloor = a.ModerateFloor
	}
	return c
}

func (s Stats) Enabled() bool { return strings.TrimSpace(s.RedisAddr) != "" }

func (s Stats) TTL() time.Duration { return time.Duration(s.TTLSec) * time.Second }

// Load reads the YAML file at path (skipped when path is empty), applies
// GATEGUARD_* environment overrides (a .env file is honoured) and fills
// defaults.
func Load(path string) (*Root, error) {
	_ = godotenv.Load()

	var cfg Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := canonicalizePolicies(&cfg.Limits); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 3000
		}
		if cfg.Routes[i].Category == "" {
			cfg.Routes[i].Category = ratelimit.General.String()
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Observability.DenialLogPerSec <= 0 {
		cfg.Observability.DenialLogPerSec = 10
	}
	if cfg.Observability.DenialLogBurst <= 0 {
		cfg.Observability.DenialLogBurst = 20
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	if cfg.Limits.SweepIntervalSec <= 0 {
		cfg.Limits.SweepIntervalSec = 300
	}
	if cfg.Limits.MaxEntries <= 0 {
		cfg.Limits.MaxEntries = 1 << 20
	}
	if cfg.Stats.Prefix == "" {
		cfg.Stats.Prefix = "gateguard:stats"
	}
	if cfg.Stats.TTLSec <= 0 {
		cfg.Stats.TTLSec = 24 * 60 * 60
	}

	if _, err := cfg.Limits.Catalog(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// canonicalizePolicies rekeys limits.policies by canonical category name so
// "password_reset" in YAML and the environment override land on one entry.
func canonicalizePolicies(l *Limits) error {
	if len(l.Policies) == 0 {
		return nil
	}
	out := make(map[string]Policy, len(l.Policies))
	for name, pc := range l.Policies {
		cat, err := ratelimit.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("limits.policies: %w", err)
		}
		if _, dup := out[cat.String()]; dup {
			return fmt.Errorf("limits.policies: %s configured twice", cat)
		}
		out[cat.String()] = pc
	}
	l.Policies = out
	return nil
}

func applyEnv(cfg *Root) error {
	if v := getEnv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := getEnv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := getEnv("STATS_REDIS_ADDR"); v != "" {
		cfg.Stats.RedisAddr = v
	}
	if v := getEnv("TRUST_FORWARDED_FOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sTRUST_FORWARDED_FOR: %w", envPrefix, err)
		}
		cfg.Limits.TrustForwardedFor = b
	}

	for _, cat := range ratelimit.Categories() {
		name := strings.ToUpper(strings.ReplaceAll(cat.String(), "-", "_"))
		maxVar, windowVar := name+"_MAX_REQUESTS", name+"_WINDOW_SEC"

		maxReq, okMax, err := getEnvInt(maxVar)
		if err != nil {
			return err
		}
		window, okWindow, err := getEnvInt(windowVar)
		if err != nil {
			return err
		}
		if !okMax && !okWindow {
			continue
		}

		if cfg.Limits.Policies == nil {
			cfg.Limits.Policies = make(map[string]Policy)
		}
		pc := cfg.Limits.Policies[cat.String()]
		if okMax {
			pc.MaxRequests = &maxReq
		}
		if okWindow {
			pc.WindowSec = window
		}
		cfg.Limits.Policies[cat.String()] = pc
	}
	return nil
}

func getEnv(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func getEnvInt(name string) (int, bool, error) {
	v := getEnv(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	return n, true, nil
}
