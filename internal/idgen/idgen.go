// Package idgen mints short identifiers for reconciliation passes and
// outbound requests.
package idgen

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PassPrefix    = "pass_"
	RequestPrefix = "req_"

	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	length   = 12
)

// New returns prefix followed by a random suffix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustNew never fails; when the random source is unavailable it falls
// back to a timestamp so log correlation still works.
func MustNew(prefix string) string {
	id, err := New(prefix)
	if err != nil {
		return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
	}
	return id
}

func Pass() string {
	return MustNew(PassPrefix)
}

func Request() string {
	return MustNew(RequestPrefix)
}
