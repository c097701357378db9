// internal/app/system/normalize/normalize.go
// Package normalize canonicalizes user input before it is stored or compared.
package normalize

import "strings"

// Email trims and lowercases an address so lookups are case-insensitive.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace and collapses inner runs to one space.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text trims surrounding whitespace but keeps inner formatting.
func Text(s string) string {
	return strings.TrimSpace(s)
}

// ObjectID trims a hex identifier taken from a path or form field.
func ObjectID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
