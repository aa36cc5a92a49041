package mcp

import "github.com/google/uuid"

// NewSessionID returns a time-ordered unique id for log and trace
// correlation. UUIDv7 keeps session artifacts sortable by start time.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}
