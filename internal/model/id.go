package model

import "github.com/oklog/ulid/v2"

// ID identifies a task within one manager. IDs start at 1 and are never reused.
type ID int64

// NewInstanceID generates a new ULID string identifying a manager instance.
func NewInstanceID() string {
	return ulid.Make().String()
}
