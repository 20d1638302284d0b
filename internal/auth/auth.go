// Package auth validates inbound credentials and gates write operations.
package auth

import (
	"crypto/subtle"
	"log/slog"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// Gate holds the configured credential and the read-only flag.
type Gate struct {
	token    string
	readOnly bool
	logger   *slog.Logger
}

// New creates an auth gate. An empty token disables credential checks.
func New(token string, readOnly bool, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{token: token, readOnly: readOnly, logger: logger}
}

// VerifyToken checks a presented bearer token against the configured one
// in constant time. If no token is configured, every request is allowed.
func (g *Gate) VerifyToken(presented string) bool {
	if g.token == "" {
		return true
	}
	if presented == "" {
		g.logger.Warn("empty authentication token")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(g.token)) != 1 {
		g.logger.Warn("invalid authentication token")
		return false
	}
	return true
}

// CheckWrite rejects writes when the server is in read-only mode.
func (g *Gate) CheckWrite() error {
	if g.readOnly {
		g.logger.Warn("write operation rejected: server is in read-only mode")
		return errors.AuthDenied("server is in read-only mode")
	}
	return nil
}

// ReadOnly reports whether the gate is in read-only mode.
func (g *Gate) ReadOnly() bool {
	return g.readOnly
}
