package auth

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
)

type ctxKey int

const keyID ctxKey = 0

// Store guards the admin endpoints with static API keys. Secrets are kept
// only as SHA-256 digests.
type Store struct {
	header   string
	byDigest map[[sha256.Size]byte]string
}

// NewStatic creates a new static key store.
// header: HTTP header to read the key from (e.g., "X-API-Key")
// pairs: map of secret -> keyID
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	byDigest := make(map[[sha256.Size]byte]string, len(pairs))
	for secret, id := range pairs {
		if secret == "" || id == "" {
			continue
		}
		byDigest[sha256.Sum256([]byte(secret))] = id
	}
	return &Store{header: h, byDigest: byDigest}
}

func (s *Store) keyIDFor(secret string) (string, bool) {
	id, ok := s.byDigest[sha256.Sum256([]byte(secret))]
	return id, ok
}

// Len is the number of usable keys.
func (s *Store) Len() int { return len(s.byDigest) }

// WithKeyID injects the key ID into context.
func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyID, id)
}

// KeyIDFrom extracts the key ID from context (if present).
func KeyIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Middleware rejects requests without a known API key.
func (s *Store) Middleware(next http.Handler) http.Handler {
	hname := s.header

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := strings.TrimSpace(r.Header.Get(hname))
		if secret == "" {
			writeJSON(w, http.StatusUnauthorized, "missing_api_key", "Provide API key in "+hname)
			return
		}
		id, ok := s.keyIDFor(secret)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, "invalid_api_key", "API key not recognized")
			return
		}
		ctx := WithKeyID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
