package pool

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dhanababum/supermcp-sub001/internal/domain"
)

// TargetKey is the stable fingerprint of one tenant's backend identity.
// Identical configurations always resolve to the same key.
type TargetKey string

// ResolveKey derives the target key from a validated backend configuration.
// Pure function: the key is a hash over the config's normalized identity
// fields, prefixed with the backend type for log readability.
func ResolveKey(cfg domain.BackendConfig) TargetKey {
	h := sha256.New()
	for _, field := range cfg.Fingerprint() {
		h.Write([]byte(field))
		h.Write([]byte{0}) // field separator, prevents concatenation collisions
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return TargetKey(string(cfg.Type) + ":" + sum[:32])
}
