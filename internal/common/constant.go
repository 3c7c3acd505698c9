// Package common contains shared constants and sentinel errors used across
// gophnotes components. Callers should use errors.Is to match the errors.
package common

// Metadata keys stored in the local metadata table.
const (
	SessionTokenKey = "session_token"
	LastUserIDKey   = "last_user_id"
)
