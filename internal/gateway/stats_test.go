package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

type staticSnapshot map[ratelimit.Key]ratelimit.Entry

func (s staticSnapshot) Snapshot() map[ratelimit.Key]ratelimit.Entry { return s }

func TestStatsHandler(t *testing.T) {
	src := staticSnapshot{
		"login:10.0.0.1:abcdef0123456789": {Count: 3, Failures: 2, ResetAt: t0.Add(time.Minute)},
	}
	h := StatsHandler(src)

	get := func() StatsResponse {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/stats", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var resp StatsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	first := get()
	_, err := uuid.Parse(first.Instance)
	require.NoError(t, err)
	require.Contains(t, first.Entries, "login:10.0.0.1:abcdef0123456789")
	e := first.Entries["login:10.0.0.1:abcdef0123456789"]
	assert.Equal(t, 3, e.Count)
	assert.Equal(t, 2, e.Failures)
	assert.True(t, e.ResetAt.Equal(t0.Add(time.Minute)))

	assert.Equal(t, first.Instance, get().Instance)
}
