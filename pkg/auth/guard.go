// Package auth validates shared-secret API keys for agent endpoints.
package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when a presented key does not match the
// configured secret.
var ErrUnauthorized = errors.New("invalid or missing API key")

// Guard validates presented API keys against a configured secret.
// A Guard with no secret runs in open mode and accepts every request.
type Guard struct {
	secret string
}

// NewGuard creates a guard for the given shared secret.
// An empty secret enables open mode.
func NewGuard(secret string) *Guard {
	return &Guard{secret: secret}
}

// Enabled reports whether a secret is configured.
func (g *Guard) Enabled() bool {
	return g.secret != ""
}

// Authorize checks the presented key. Comparison is constant-time so
// the secret cannot be probed byte by byte.
func (g *Guard) Authorize(presented string) error {
	if !g.Enabled() {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(g.secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
