package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

func TestDefaultCatalog(t *testing.T) {
	c := ratelimit.DefaultCatalog()

	tests := []struct {
		cat    ratelimit.Category
		window time.Duration
		max    int
		exempt bool
	}{
		{ratelimit.Login, 15 * time.Minute, 5, true},
		{ratelimit.PasswordReset, time.Hour, 3, false},
		{ratelimit.TokenRefresh, time.Minute, 10, true},
		{ratelimit.General, time.Minute, 60, true},
	}
	for _, tt := range tests {
		t.Run(tt.cat.String(), func(t *testing.T) {
			p := c.PolicyFor(tt.cat)
			assert.Equal(t, tt.window, p.Window)
			assert.Equal(t, tt.max, p.MaxRequests)
			assert.Equal(t, tt.exempt, p.ExemptSuccesses)
			assert.False(t, p.ExemptFailures)
			assert.NotEmpty(t, p.Message)
		})
	}
}

func TestPolicyFor_UnknownCategoryPanics(t *testing.T) {
	assert.Panics(t, func() { ratelimit.DefaultCatalog().PolicyFor(ratelimit.Category(42)) })
}

func TestNewCatalog_Overrides(t *testing.T) {
	c, err := ratelimit.NewCatalog(map[ratelimit.Category]ratelimit.Policy{
		ratelimit.Login: {Window: time.Minute, MaxRequests: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.PolicyFor(ratelimit.Login).MaxRequests)
	assert.Equal(t, 60, c.PolicyFor(ratelimit.General).MaxRequests)
}

func TestNewCatalog_RejectsInvalid(t *testing.T) {
	_, err := ratelimit.NewCatalog(map[ratelimit.Category]ratelimit.Policy{
		ratelimit.Login: {MaxRequests: 2},
	})
	assert.ErrorIs(t, err, ratelimit.ErrInvalidPolicy)

	_, err = ratelimit.NewCatalog(map[ratelimit.Category]ratelimit.Policy{
		ratelimit.General: {Window: time.Minute, MaxRequests: -1},
	})
	assert.ErrorIs(t, err, ratelimit.ErrInvalidPolicy)

	_, err = ratelimit.NewCatalog(map[ratelimit.Category]ratelimit.Policy{
		ratelimit.Category(9): {Window: time.Minute, MaxRequests: 1},
	})
	assert.ErrorIs(t, err, ratelimit.ErrUnknownCategory)
}

func TestParseCategory(t *testing.T) {
	for _, c := range ratelimit.Categories() {
		got, err := ratelimit.ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	got, err := ratelimit.ParseCategory("PASSWORD_RESET")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.PasswordReset, got)

	_, err = ratelimit.ParseCategory("signup")
	assert.ErrorIs(t, err, ratelimit.ErrUnknownCategory)
}
