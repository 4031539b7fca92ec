// Package keys mints agent credentials and throttles how often a client may
// ask for one.
package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// DefaultLength matches the credential length handed out to agents.
const DefaultLength = 32

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrInvalidLength is returned for non-positive key lengths.
var ErrInvalidLength = errors.New("key length must be positive")

// Generate returns a random alphanumeric key of the given length. Bytes that
// would bias the distribution are rejected and redrawn.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}

	// Largest multiple of len(alphabet) that fits in a byte.
	const limit = 256 - 256%len(alphabet)

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
