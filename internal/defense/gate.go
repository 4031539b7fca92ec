package defense

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Request headers understood by the gate.
const (
	AgentAuthHeader     = "X-Agent-Auth"
	WalletAddressHeader = "X-Wallet-Address"
)

// DefaultSkipPaths bypass the gate and the speed trap entirely.
var DefaultSkipPaths = []string{
	"/stats",
	"/maze",
	"/generate-key",
	"/verify-wallet",
	"/api/email-wallet",
	"/health",
	"/version",
	"/metrics",
}

// Gate recognises trusted automated agents by a shared static credential.
type Gate struct {
	secret []byte
}

// NewGate creates a gate for secret. An empty secret matches nothing.
func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Authenticate reports whether presented equals the configured secret,
// compared in constant time.
func (g *Gate) Authenticate(presented string) bool {
	if g == nil || len(g.secret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), g.secret) == 1
}

// ShouldSkip reports whether path falls under one of the skip prefixes.
func ShouldSkip(path string, skipPaths []string) bool {
	for _, prefix := range skipPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AuthInfo describes how the defense layer classified a request.
type AuthInfo struct {
	Authenticated bool    `json:"authenticated"`
	ClientID      string  `json:"ip"`
	WalletAddress string  `json:"walletAddress,omitempty"`
	KeyID         string  `json:"keyId,omitempty"`
	SinceLast     float64 `json:"timeSinceLastRequest,omitempty"`
}

// KeyID returns a short, non-reversible identifier for a credential so it
// can be logged or echoed without leaking the secret.
func KeyID(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

type authInfoContextKey struct{}

// WithAuthInfo attaches info to ctx.
func WithAuthInfo(ctx context.Context, info AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoContextKey{}, info)
}

// AuthInfoFrom returns the AuthInfo attached by the defense middleware.
func AuthInfoFrom(ctx context.Context) (AuthInfo, bool) {
	info, ok := ctx.Value(authInfoContextKey{}).(AuthInfo)
	return info, ok
}
