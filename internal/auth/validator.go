// Package auth validates API keys against the configured key registry.
package auth

import (
	"github.com/speedindex/pageaudit/internal/audit"
)

// Identity is the outcome of a successful validation.
type Identity struct {
	Class audit.CallerClass
	Owner string
}

// Validator checks caller-supplied keys against a static registry loaded at
// startup. It holds no mutable state and is safe for concurrent use.
type Validator struct {
	keys map[string]string
}

// NewValidator builds a Validator from a key -> owner map.
func NewValidator(authorizedKeys map[string]string) *Validator {
	keys := make(map[string]string, len(authorizedKeys))
	for k, owner := range authorizedKeys {
		keys[k] = owner
	}
	return &Validator{keys: keys}
}

// Validate resolves the caller identity for an optional key. An empty key
// yields an anonymous identity; an unrecognized key returns
// audit.ErrInvalidKey.
func (v *Validator) Validate(key string) (Identity, error) {
	if key == "" {
		return Identity{Class: audit.CallerAnonymous}, nil
	}
	owner, ok := v.keys[key]
	if !ok {
		return Identity{}, audit.ErrInvalidKey
	}
	return Identity{Class: audit.CallerAuthenticated, Owner: owner}, nil
}
