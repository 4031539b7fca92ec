// Package state provides the expiring key/value store that backs every
// defense component. A durable backend (redis, libsql or sqlite) is tried
// first; when it is missing or unreachable the store transparently serves
// from an in-process fallback map.
package state

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Mode reports which tier is currently serving requests.
type Mode string

const (
	ModeDurable  Mode = "durable"
	ModeFallback Mode = "fallback"
)

var (
	// ErrInvalidKey is returned for empty or whitespace-only keys.
	ErrInvalidKey = errors.New("state: invalid key")
	// ErrInvalidPattern is returned for malformed glob patterns.
	ErrInvalidPattern = errors.New("state: invalid pattern")
)

// Store is the caller-facing contract. Backend failures never surface here:
// they are absorbed by falling back to local state. Only programming errors
// (bad keys or patterns) are returned.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
	Increment(ctx context.Context, key string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	GetAll(ctx context.Context, pattern string) (map[string][]byte, error)
	Mode() Mode
}

// Backend is a key/value store with native expiry. Unlike Store, it reports
// every failure so the caller can decide to fall back. A miss is (nil, false, nil).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Pruner is implemented by backends that do not evict expired entries on their own.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// ValidateKey rejects keys no backend can store.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// ValidatePattern checks glob syntax (*, ?, [...]).
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return ErrInvalidPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return ErrInvalidPattern
	}
	return nil
}

// matchKey applies glob matching. Keys in this store use ':' separators, never
// '/', so path.Match behaves like the redis MATCH syntax here.
func matchKey(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
