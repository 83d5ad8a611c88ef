// Package safecmp holds the only comparison lockboard uses for secrets
// (password hashes, token hashes, token salts).
//
// Every call site must go through Equal, never through bytes.Equal or ==,
// so the constant-time property can be audited in one place.
package safecmp

import "crypto/subtle"

// Equal reports whether a and b hold the same bytes. The running time
// depends on the length of the inputs but never on their content.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// EqualString is Equal for strings.
func EqualString(a, b string) bool {
	return Equal([]byte(a), []byte(b))
}
