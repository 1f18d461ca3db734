package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, prefixed when a prefix is given
// (e.g. "aud_3f…"). Collision odds are negligible at 16 random bytes.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
