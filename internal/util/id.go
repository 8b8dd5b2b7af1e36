package util

import "github.com/google/uuid"

// NewID returns a random UUID used for request correlation.
func NewID() string {
	return uuid.NewString()
}
