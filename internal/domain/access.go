package domain

import "time"

// Caller identifies the authenticated user making a request.
// A nil *Caller means the request is anonymous.
type Caller struct {
	UserID int64
	Login  string
}

// Grant is a persisted capability held by a user over a single resource
type Grant struct {
	ID           string
	UserID       int64
	ResourceType string
	ResourceID   int64
	Capability   string
	CreatedAt    time.Time
}
