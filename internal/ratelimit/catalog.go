package ratelimit

import (
	"fmt"
	"time"
)

// Catalog maps every category to its base policy. It is built once at start
// and never modified afterwards.
type Catalog struct {
	policies [numCategories]Policy
}

func defaultPolicies() [numCategories]Policy {
	return [numCategories]Policy{
		General: {
			Window:          time.Minute,
			MaxRequests:     60,
			ExemptSuccesses: true,
			Message:         "Too many requests, please slow down.",
		},
		Login: {
			Window:          15 * time.Minute,
			MaxRequests:     5,
			ExemptSuccesses: true,
			Message:         "Too many login attempts, please try again later.",
			Adaptive:        true,
		},
		PasswordReset: {
			Window:      time.Hour,
			MaxRequests: 3,
			Message:     "Too many password reset requests, please try again later.",
			Adaptive:    true,
		},
		TokenRefresh: {
			Window:          time.Minute,
			MaxRequests:     10,
			ExemptSuccesses: true,
			Message:         "Too many token refresh requests, please try again later.",
			Adaptive:        true,
		},
	}
}

// DefaultCatalog returns the compiled-in policies.
func DefaultCatalog() *Catalog {
	return &Catalog{policies: defaultPolicies()}
}

// NewCatalog starts from the defaults and replaces the policies named in
// overrides. Every resulting policy is validated.
func NewCatalog(overrides map[Category]Policy) (*Catalog, error) {
	c := DefaultCatalog()
	for cat, p := range overrides {
		if !cat.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
		}
		c.policies[cat] = p
	}
	for cat, p := range c.policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", Category(cat), err)
		}
	}
	return c, nil
}

// PolicyFor returns the base policy of cat. An unknown category is a
// programming error and panics: applying some other policy could leave a
// sensitive endpoint under-protected.
func (c *Catalog) PolicyFor(cat Category) Policy {
	if !cat.Valid() {
		panic(fmt.Sprintf("ratelimit: no policy for %s", cat))
	}
	return c.policies[cat]
}
