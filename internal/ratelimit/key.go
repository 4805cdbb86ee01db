package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	unknownAddr    = "unknown"
	agentDigestLen = 16
)

// DeriveKey builds the client key for a request. The agent string is reduced
// to a 16 hex character digest, so clients whose digests collide share a key.
func DeriveKey(cat Category, addr, agent string) Key {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = unknownAddr
	}
	sum := sha256.Sum256([]byte(agent))
	digest := hex.EncodeToString(sum[:])[:agentDigestLen]

	var b strings.Builder
	b.Grow(len(cat.String()) + len(addr) + agentDigestLen + 2)
	b.WriteString(cat.String())
	b.WriteByte(':')
	b.WriteString(addr)
	b.WriteByte(':')
	b.WriteString(digest)
	return Key(b.String())
}
