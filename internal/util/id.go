// Package util holds small helpers shared across the forum packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, optionally tagged with an entity
// prefix: "thr_..." for threads, "rpl_..." for replies, "usr_..." for
// users and so on. 16 random bytes keep collisions out of reach.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
