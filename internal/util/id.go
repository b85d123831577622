package util

import "github.com/google/uuid"

// NewID returns a random identifier suitable for users and object keys.
func NewID() string {
	return uuid.NewString()
}
