package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashSuffixLen is the number of hex characters appended when a key is
// truncated. 16 hex chars of SHA-256 keep the truncated form collision-safe.
const hashSuffixLen = 16

// NormalizeKey prefixes and length-bounds a caller-supplied key. Keys over
// maxLen are truncated and suffixed with a deterministic content hash of the
// full key, so the result has a fixed maximum length and two distinct long
// keys never collide by truncation alone.
func NormalizeKey(prefix, key string, maxLen int) string {
	full := key
	if prefix != "" {
		full = prefix + ":" + key
	}
	if len(full) <= maxLen {
		return full
	}

	sum := sha256.Sum256([]byte(full))
	suffix := hex.EncodeToString(sum[:])[:hashSuffixLen]
	return full[:maxLen-hashSuffixLen-1] + "#" + suffix
}

// NormalizePattern prefixes a glob pattern the same way keys are prefixed,
// without truncation: patterns are matched, not stored.
func NormalizePattern(prefix, pattern string) string {
	if prefix == "" {
		return pattern
	}
	return prefix + ":" + pattern
}

// isPattern reports whether s contains glob metacharacters.
func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?")
}
