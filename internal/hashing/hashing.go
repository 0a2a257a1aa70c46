// Package hashing provides the approval content hash and the deterministic
// idempotency key used by publish clients to de-duplicate retried calls.
package hashing

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ContentHash is frozen on the post at approval time and never changes after.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return fmt.Sprintf("%x", h)
}

// IdempotencyKey is a pure function of the campaign, platform and approved
// content hash. Identical inputs always yield the same key, across process
// restarts.
func IdempotencyKey(campaignID, platform, approvedContentHash string) string {
	h := sha256.Sum256([]byte(campaignID + "|" + platform + "|" + approvedContentHash))
	return fmt.Sprintf("%x", h[:16])
}
