package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hasher computes the stable content fingerprint of a rule payload.
//
// The digest is a sha256 over the canonical JSON form of the payload with
// the volatile fields removed, so bumping a version never registers as a
// content change. Canonical form means sorted keys at every nesting level,
// which encoding/json guarantees for maps.
type Hasher struct {
	exclude map[string]struct{}
}

// NewHasher returns a hasher that ignores the given volatile fields.
func NewHasher(exclude ...string) *Hasher {
	h := &Hasher{exclude: make(map[string]struct{}, len(exclude))}
	for _, field := range exclude {
		h.exclude[field] = struct{}{}
	}
	return h
}

// defaultHasher excludes only the version field; changelog bookkeeping lives
// in rule metadata, which is never part of the hashed payload.
var defaultHasher = NewHasher("version")

// Hash computes the digest of a rule payload. It is deterministic and
// side-effect free; the input map is not modified.
func (h *Hasher) Hash(contents map[string]interface{}) (string, error) {
	meaningful := make(map[string]interface{}, len(contents))
	for k, v := range contents {
		if _, skip := h.exclude[k]; skip {
			continue
		}
		meaningful[k] = v
	}

	canonical, err := json.Marshal(meaningful)
	if err != nil {
		return "", fmt.Errorf("failed to serialize rule contents for hashing: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
