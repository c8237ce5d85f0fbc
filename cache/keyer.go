package cache

import (
	"fmt"
	"strings"
)

// KeySeparator joins the category and parts of a cache key.
const KeySeparator = ":"

// Keyer builds cache keys from a category and identifying parts.
//
// Contract:
// - Determinism: same inputs must produce same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key such as "player:steam:Nick".
	Key(category Category, parts ...string) (string, error)
}

// JoinKey builds a key without validation. Use a Keyer for untrusted parts.
func JoinKey(category Category, parts ...string) string {
	var b strings.Builder
	b.WriteString(string(category))
	for _, p := range parts {
		b.WriteString(KeySeparator)
		b.WriteString(p)
	}
	return b.String()
}

// DefaultKeyer trims parts and rejects ones that would make keys ambiguous.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a validated cache key.
// Format: <category>:<part>:<part>...
func (k *DefaultKeyer) Key(category Category, parts ...string) (string, error) {
	if category == "" || strings.Contains(string(category), KeySeparator) {
		return "", fmt.Errorf("%w: category %q", ErrInvalidKeyPart, category)
	}

	clean := make([]string, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.Contains(p, KeySeparator) {
			return "", fmt.Errorf("%w: part %d %q", ErrInvalidKeyPart, i, parts[i])
		}
		clean[i] = p
	}

	key := JoinKey(category, clean...)
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
