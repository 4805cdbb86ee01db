package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

// SnapshotSource is the read-only view of a window store. Snapshot returns
// only entries whose window is still open.
type SnapshotSource interface {
	Snapshot() map[ratelimit.Key]ratelimit.Entry
}

type EntryStats struct {
	Count    int       `json:"count"`
	Failures int       `json:"failures"`
	ResetAt  time.Time `json:"reset_at"`
}

type StatsResponse struct {
	Instance    string                `json:"instance"`
	GeneratedAt time.Time             `json:"generated_at"`
	Entries     map[string]EntryStats `json:"entries"`
}

// StatsHandler serves a point-in-time copy of every live window entry. Each
// handler carries a random instance id so dashboards can tell gateways apart.
func StatsHandler(src SnapshotSource) http.Handler {
	instance := uuid.NewString()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		resp := StatsResponse{
			Instance:    instance,
			GeneratedAt: time.Now().UTC(),
			Entries:     make(map[string]EntryStats, len(snap)),
		}
		for k, e := range snap {
			resp.Entries[string(k)] = EntryStats{Count: e.Count, Failures: e.Failures, ResetAt: e.ResetAt.UTC()}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
