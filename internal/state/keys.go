package state

import (
	"strings"
	"time"
)

// Persisted key layout. External tools read these keys directly, so the
// prefixes and TTLs are part of the wire contract.
const (
	RequestPrefix = "request:"
	TrapPrefix    = "trap:"
	VisitsPrefix  = "maze:visits:"
	RatePrefix    = "maze:rate:"

	TotalTrappedKey = "stats:totalTrapped"

	RequestTTL = 60 * time.Second
	TrapTTL    = 300 * time.Second
	VisitsTTL  = 3600 * time.Second
	RateTTL    = 60 * time.Second
)

func RequestKey(clientID string) string { return RequestPrefix + clientID }
func TrapKey(clientID string) string    { return TrapPrefix + clientID }
func VisitsKey(clientID string) string  { return VisitsPrefix + clientID }
func RateKey(clientID string) string    { return RatePrefix + clientID }

// Pattern returns the glob matching every key under prefix.
func Pattern(prefix string) string { return prefix + "*" }

// ClientID strips prefix from key. IPv6 identities contain ':' so only the
// known prefix is removed, never split on separators.
func ClientID(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
