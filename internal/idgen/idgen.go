// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Well-known prefixes for engine-owned records.
const (
	PrefixNotification = "ntf-"
	PrefixActivity     = "act-"
	PrefixRule         = "rule-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Generate returns a new unique ID with the given prefix.
func Generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustGenerate is Generate but panics on failure. nanoid only fails when the
// OS entropy source is unavailable, which is not a recoverable condition.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(err)
	}
	return id
}
