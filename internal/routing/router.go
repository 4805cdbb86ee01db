package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlexKimmel/GateGuard/internal/config"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

// Route sends requests under Prefix to Upstream and limits them under Category.
type Route struct {
	ID       string
	Methods  map[string]struct{}
	Prefix   string
	Category ratelimit.Category
	Upstream *url.URL
	Timeout  time.Duration
}

type Router struct {
	routes []*Route
}

func New() *Router {
	return &Router{}
}

// Build turns the configured routes into a Router. Routes are matched in
// configuration order.
func Build(cfg []config.Route) (*Router, error) {
	rr := New()
	for _, rc := range cfg {
		cat, err := ratelimit.ParseCategory(rc.Category)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.ID, err)
		}
		up, err := url.Parse(rc.Upstream.URL)
		if err != nil || up.Scheme == "" || up.Host == "" {
			return nil, fmt.Errorf("route %q: invalid upstream url %q", rc.ID, rc.Upstream.URL)
		}
		methods := make(map[string]struct{}, len(rc.Match.Methods))
		for _, m := range rc.Match.Methods {
			methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
		}
		rr.Add(&Route{
			ID:       rc.ID,
			Methods:  methods,
			Prefix:   normalizePrefix(rc.Match.PathPrefix),
			Category: cat,
			Upstream: up,
			Timeout:  time.Duration(rc.Upstream.TimeoutMS) * time.Millisecond,
		})
	}
	return rr, nil
}

func (r *Router) Add(rt *Route) {
	r.routes = append(r.routes, rt)
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Match returns the first route accepting method whose prefix covers path.
// A route with no methods accepts any method.
func (r *Router) Match(method string, path string) (*Route, bool) {
	m := strings.ToUpper(method)
	for _, rt := range r.routes {
		if len(rt.Methods) > 0 {
			if _, ok := rt.Methods[m]; !ok {
				continue
			}
		}
		if rt.Prefix == "/" || path == rt.Prefix || strings.HasPrefix(path, rt.Prefix+"/") {
			return rt, true
		}
	}
	return nil, false
}

func normalizePrefix(p string) string {
	p = strings.TrimSuffix(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
