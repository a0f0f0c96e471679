// Package daemon implements the background embedding daemon: the HTTP
// webhook ingress, the periodic stale/stuck-job sweeper, and the
// claim→fetch→embed→mark processing of one job (§4.5 of the embed-queue
// design). It is the concurrency-aware glue between internal/queue,
// internal/scrapeapi, and internal/pipeline.
package daemon

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// secretByteLength is the size of a freshly generated webhook secret before
// hex-encoding (so the encoded form is 64 hex characters).
const secretByteLength = 32

// generateSecret returns a fresh random hex-encoded webhook secret.
func generateSecret() (string, error) {
	b := make([]byte, secretByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("daemon: generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// secretsEqual performs a constant-time comparison of two secrets. Unlike a
// Bearer-token compare, it deliberately folds "empty header", "wrong
// length", and "wrong value" into the same outcome so a timing side channel
// never reveals the configured secret's length.
func secretsEqual(got, want string) bool {
	if len(got) != len(want) {
		// Still do a constant-time compare against a same-length buffer so
		// the length mismatch itself costs the same time as any other
		// rejection path.
		dummy := make([]byte, len(want))
		subtle.ConstantTimeCompare(dummy, []byte(want))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
