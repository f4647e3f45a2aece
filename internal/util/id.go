package util

import "github.com/google/uuid"

func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s is a well-formed entity identifier. Every id
// arriving in a path or body must pass this check before any lookup.
// Only the canonical dashed form is accepted: uuid.Parse also takes URN,
// braced, and uppercase variants, which the database's uuid input does not.
func ValidID(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && s == u.String()
}
